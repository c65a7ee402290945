package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/eval-service/internal/config"
	"github.com/gradeflow/eval-service/internal/models"
)

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	base := 5 * time.Second

	assert.Equal(t, 5*time.Second, retryDelay(base, 1))
	assert.Equal(t, 10*time.Second, retryDelay(base, 2))
	assert.Equal(t, 20*time.Second, retryDelay(base, 3))
	assert.Equal(t, 5*time.Second, retryDelay(base, 0), "attempts below one clamp to the base")
}

func TestPermanentErrorClassification(t *testing.T) {
	plain := errors.New("transient database hiccup")
	assert.False(t, isPermanentError(plain))

	assert.True(t, isPermanentError(permanent(errors.New("empty job_id"))))

	wrapped := fmt.Errorf("failed to process: %w", permanent(errors.New("malformed body")))
	assert.True(t, isPermanentError(wrapped), "classification must survive wrapping")

	var target permanentError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "malformed body", target.Error())
}

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(4, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			done.Add(1)
		})
	}
	wg.Wait()

	assert.EqualValues(t, 20, done.Load())
	require.NoError(t, pool.Stop())
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(1, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Submit(func() {
		defer wg.Done()
		panic("task blew up")
	})
	wg.Wait()

	// the pool must stay usable after a panicking task
	ran := make(chan struct{})
	pool.Submit(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not run tasks after a panic")
	}

	require.NoError(t, pool.Stop())
	assert.Zero(t, pool.GetActiveWorkers())
}

func TestWorkerPoolSubmitAfterStopDropsTask(t *testing.T) {
	pool := NewWorkerPool(2, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop())

	assert.NotPanics(t, func() {
		pool.Submit(func() { t.Error("task must not run after stop") })
	})
	require.NoError(t, pool.Stop(), "stopping twice is safe")
}

func TestWorkerPoolStopDuringSubmissions(t *testing.T) {
	pool := NewWorkerPool(2, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					pool.Submit(func() {})
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pool.Stop())
	close(stop)
	wg.Wait()
}

type fakeJobStore struct {
	leaseLost bool
	requeued  int
	succeeded int
	failed    int
	dead      int
}

func (f *fakeJobStore) Create(ctx context.Context, job *models.EvaluationJob) error {
	return nil
}

func (f *fakeJobStore) GetByID(ctx context.Context, id string) (*models.EvaluationJob, error) {
	return nil, nil
}

func (f *fakeJobStore) GetBySubmissionID(ctx context.Context, submissionID string) (*models.EvaluationJob, error) {
	return nil, nil
}

func (f *fakeJobStore) Acquire(ctx context.Context, id, owner string, ttl time.Duration) (*models.EvaluationJob, error) {
	return nil, models.ErrLockContention
}

func (f *fakeJobStore) Requeue(ctx context.Context, id, owner, lastError string) error {
	if f.leaseLost {
		return models.ErrLeaseLost
	}
	f.requeued++
	return nil
}

func (f *fakeJobStore) MarkSucceeded(ctx context.Context, id, owner string) error {
	if f.leaseLost {
		return models.ErrLeaseLost
	}
	f.succeeded++
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, id, owner, lastError string) error {
	if f.leaseLost {
		return models.ErrLeaseLost
	}
	f.failed++
	return nil
}

func (f *fakeJobStore) MarkDead(ctx context.Context, id, owner, lastError string) error {
	if f.leaseLost {
		return models.ErrLeaseLost
	}
	f.dead++
	return nil
}

func (f *fakeJobStore) RequestCancel(ctx context.Context, submissionID string) (bool, error) {
	return false, nil
}

func (f *fakeJobStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (f *fakeJobStore) ReapExpired(ctx context.Context) ([]models.EvaluationJob, error) {
	return nil, nil
}

func (f *fakeJobStore) CountByState(ctx context.Context) (map[models.JobState]int, error) {
	return nil, nil
}

type fakeSubStatus struct {
	statuses []models.SubmissionStatus
}

func (f *fakeSubStatus) Create(ctx context.Context, sub *models.Submission) error { return nil }

func (f *fakeSubStatus) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	return nil, nil
}

func (f *fakeSubStatus) UpdateStatus(ctx context.Context, id string, status models.SubmissionStatus) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeSubStatus) PendingByAuthor(ctx context.Context, assignmentID, authorID string) ([]models.Submission, error) {
	return nil, nil
}

type fakePublisher struct {
	routingKeys []string
	delays      []time.Duration
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *fakePublisher) PublishWithDelay(ctx context.Context, exchange, routingKey string, body []byte, delay time.Duration) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	p.delays = append(p.delays, delay)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func leaseTestWorker(jobs *fakeJobStore) (*evaluationWorker, *fakePublisher, *fakeSubStatus) {
	pub := &fakePublisher{}
	subs := &fakeSubStatus{}
	return &evaluationWorker{
		jobRepo:   jobs,
		subRepo:   subs,
		publisher: pub,
		rabbitCfg: config.RabbitMQConfig{
			Exchange:      "evaluation_exchange",
			RoutingKey:    "submission.queued",
			EventExchange: "evaluation_events",
		},
		pipelineCfg: config.PipelineConfig{
			MaxRetries:     3,
			RetryBaseDelay: 5 * time.Second,
		},
		leaseOwner: "worker-a",
		logger:     zerolog.Nop(),
	}, pub, subs
}

func TestRetryRepublishesWithBackoffDelay(t *testing.T) {
	jobs := &fakeJobStore{}
	w, pub, _ := leaseTestWorker(jobs)
	job := &models.EvaluationJob{ID: "job-1", SubmissionID: "sub-1", AttemptCount: 2}

	err := w.retry(context.Background(), job, models.SubmissionQueuedEvent{JobID: "job-1", SubmissionID: "sub-1"}, errors.New("db timeout"))

	require.NoError(t, err)
	assert.Equal(t, 1, jobs.requeued)
	require.Equal(t, []string{"submission.queued"}, pub.routingKeys)
	assert.Equal(t, []time.Duration{10 * time.Second}, pub.delays)
}

func TestRetrySkipsRepublishWhenLeaseLost(t *testing.T) {
	jobs := &fakeJobStore{leaseLost: true}
	w, pub, _ := leaseTestWorker(jobs)
	job := &models.EvaluationJob{ID: "job-1", SubmissionID: "sub-1", AttemptCount: 2}

	err := w.retry(context.Background(), job, models.SubmissionQueuedEvent{JobID: "job-1", SubmissionID: "sub-1"}, errors.New("db timeout"))

	require.NoError(t, err)
	assert.Empty(t, pub.routingKeys, "the reaper owns the republish once the lease is gone")
}

func TestDieLeavesJobToNewHolderWhenLeaseLost(t *testing.T) {
	jobs := &fakeJobStore{leaseLost: true}
	w, pub, subs := leaseTestWorker(jobs)
	job := &models.EvaluationJob{ID: "job-1", SubmissionID: "sub-1", AttemptCount: 3}

	err := w.die(context.Background(), job, errors.New("db timeout"))

	require.NoError(t, err)
	assert.Empty(t, pub.routingKeys, "no failure event under a stolen lease")
	assert.Empty(t, subs.statuses, "the submission belongs to the new lease holder")
}

func TestFailLeavesJobToNewHolderWhenLeaseLost(t *testing.T) {
	jobs := &fakeJobStore{leaseLost: true}
	w, pub, subs := leaseTestWorker(jobs)
	job := &models.EvaluationJob{ID: "job-1", SubmissionID: "sub-1", AttemptCount: 1}

	err := w.fail(context.Background(), job, "cancelled")

	require.NoError(t, err)
	assert.Empty(t, pub.routingKeys)
	assert.Empty(t, subs.statuses)
}
