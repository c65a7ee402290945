package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/config"
	"github.com/gradeflow/eval-service/internal/models"
	"github.com/gradeflow/eval-service/internal/repository"
	"github.com/gradeflow/eval-service/internal/service/grading"
	"github.com/gradeflow/eval-service/internal/worker/queue"
)

type EvaluationWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() WorkerStats
}

type WorkerStats struct {
	ActiveWorkers  int `json:"active_workers"`
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
	QueueLength    int `json:"queue_length"`
}

type evaluationWorker struct {
	workerPool   *WorkerPool
	consumer     queue.RabbitMQConsumer
	publisher    queue.RabbitMQPublisher
	jobRepo      repository.JobRepository
	subRepo      repository.SubmissionRepository
	orchestrator *grading.Orchestrator
	rabbitCfg    config.RabbitMQConfig
	pipelineCfg  config.PipelineConfig
	leaseOwner   string
	logger       zerolog.Logger
	stats        WorkerStats
	statsMutex   sync.RWMutex
	startTime    time.Time
}

func NewEvaluationWorker(
	workerPool *WorkerPool,
	consumer queue.RabbitMQConsumer,
	publisher queue.RabbitMQPublisher,
	jobRepo repository.JobRepository,
	subRepo repository.SubmissionRepository,
	orchestrator *grading.Orchestrator,
	rabbitCfg config.RabbitMQConfig,
	pipelineCfg config.PipelineConfig,
	logger zerolog.Logger,
) EvaluationWorker {
	hostname, _ := os.Hostname()
	return &evaluationWorker{
		workerPool:   workerPool,
		consumer:     consumer,
		publisher:    publisher,
		jobRepo:      jobRepo,
		subRepo:      subRepo,
		orchestrator: orchestrator,
		rabbitCfg:    rabbitCfg,
		pipelineCfg:  pipelineCfg,
		leaseOwner:   fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		logger:       logger,
		startTime:    time.Now(),
	}
}

func (w *evaluationWorker) Start(ctx context.Context) error {
	w.logger.Info().Str("lease_owner", w.leaseOwner).Msg("Starting evaluation worker")

	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.processMessages(ctx, msgs)
	go w.reapLeases(ctx)

	w.logger.Info().Msg("Evaluation worker started")
	return nil
}

func (w *evaluationWorker) Stop() error {
	w.logger.Info().Msg("Stopping evaluation worker")

	// close the consumer first so the message loop drains before the pool
	// stops accepting tasks
	if err := w.consumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	w.logger.Info().
		Int("total_processed", w.stats.TotalProcessed).
		Int("failed_jobs", w.stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Evaluation worker stopped")

	return nil
}

func (w *evaluationWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			w.workerPool.Submit(func() {
				if err := w.processMessage(ctx, msg); err != nil {
					w.logger.Error().Err(err).Msg("Failed to process message")

					w.statsMutex.Lock()
					w.stats.FailedJobs++
					w.statsMutex.Unlock()

					if isPermanentError(err) {
						if ackErr := msg.Ack(false); ackErr != nil {
							w.logger.Error().Err(ackErr).Msg("Failed to ack message")
						}
						return
					}

					if nackErr := msg.Nack(false, true); nackErr != nil {
						w.logger.Error().Err(nackErr).Msg("Failed to nack message")
					}
				} else {
					if err := msg.Ack(false); err != nil {
						w.logger.Error().Err(err).Msg("Failed to ack message")
					}

					w.statsMutex.Lock()
					w.stats.TotalProcessed++
					w.statsMutex.Unlock()
				}
			})
		}
	}
}

// processMessage runs one evaluation attempt. Retries are not done by
// redelivering the same message; a failed attempt releases the lease and
// republishes a delayed copy, so the broker never spins on a poison message.
func (w *evaluationWorker) processMessage(ctx context.Context, msg queue.RabbitMQMessage) error {
	var event models.SubmissionQueuedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return permanent(fmt.Errorf("failed to unmarshal event: %w", err))
	}

	if strings.TrimSpace(event.JobID) == "" {
		return permanent(errors.New("empty job_id"))
	}
	if strings.TrimSpace(event.SubmissionID) == "" {
		return permanent(errors.New("empty submission_id"))
	}

	job, err := w.jobRepo.Acquire(ctx, event.JobID, w.leaseOwner, w.pipelineCfg.LeaseTTL)
	if errors.Is(err, models.ErrLockContention) {
		// held elsewhere or already terminal; the reaper republishes
		// leases lost to crashed workers
		w.logger.Debug().Str("job_id", event.JobID).Msg("Job lease unavailable, dropping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to acquire job lease: %w", err)
	}

	log := w.logger.With().
		Str("job_id", job.ID).
		Str("submission_id", job.SubmissionID).
		Int("attempt", job.AttemptCount).
		Logger()
	log.Info().Msg("Processing evaluation job")

	completed, evalErr := w.orchestrator.Evaluate(ctx, job)
	if evalErr == nil {
		if err := w.jobRepo.MarkSucceeded(ctx, job.ID, w.leaseOwner); err != nil {
			if errors.Is(err, models.ErrLeaseLost) {
				log.Warn().Msg("Lease lost before completion, dropping result event")
				return nil
			}
			return fmt.Errorf("failed to mark job succeeded: %w", err)
		}
		w.publishEvent(ctx, "evaluation.completed", completed)
		return nil
	}

	if errors.Is(evalErr, models.ErrCancelled) {
		log.Info().Msg("Evaluation cancelled")
		return w.fail(ctx, job, "cancelled")
	}

	log.Warn().Err(evalErr).Msg("Evaluation attempt failed")

	if job.AttemptCount >= w.pipelineCfg.MaxRetries {
		return w.die(ctx, job, evalErr)
	}
	return w.retry(ctx, job, event, evalErr)
}

// retry releases the lease back to queued and republishes the job message
// with exponential delay.
func (w *evaluationWorker) retry(ctx context.Context, job *models.EvaluationJob, event models.SubmissionQueuedEvent, cause error) error {
	if err := w.jobRepo.Requeue(ctx, job.ID, w.leaseOwner, cause.Error()); err != nil {
		if errors.Is(err, models.ErrLeaseLost) {
			// the reaper already requeued and republished this job
			w.logger.Warn().Str("job_id", job.ID).Msg("Lease lost, skipping retry republish")
			return nil
		}
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	event.Attempt = job.AttemptCount
	event.Timestamp = time.Now().Unix()
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal retry event: %w", err)
	}

	delay := retryDelay(w.pipelineCfg.RetryBaseDelay, job.AttemptCount)
	if err := w.publisher.PublishWithDelay(ctx, w.rabbitCfg.Exchange, w.rabbitCfg.RoutingKey, body, delay); err != nil {
		return fmt.Errorf("failed to republish job: %w", err)
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Int("attempt", job.AttemptCount).
		Dur("delay", delay).
		Msg("Job requeued for retry")
	return nil
}

// die moves a job that exhausted its retry budget to the dead state and
// fails the submission. The message is acked; the job is inspectable in the
// database.
func (w *evaluationWorker) die(ctx context.Context, job *models.EvaluationJob, cause error) error {
	reason := fmt.Sprintf("%v: %v", models.ErrRetryExhausted, cause)
	if err := w.jobRepo.MarkDead(ctx, job.ID, w.leaseOwner, reason); err != nil {
		if errors.Is(err, models.ErrLeaseLost) {
			w.logger.Warn().Str("job_id", job.ID).Msg("Lease lost, leaving the job to its new holder")
			return nil
		}
		return fmt.Errorf("failed to mark job dead: %w", err)
	}
	if err := w.subRepo.UpdateStatus(ctx, job.SubmissionID, models.SubmissionStatusFailed); err != nil {
		return fmt.Errorf("failed to fail submission: %w", err)
	}

	w.logger.Error().
		Str("job_id", job.ID).
		Str("submission_id", job.SubmissionID).
		Int("attempts", job.AttemptCount).
		Msg("Job moved to dead state")

	w.publishEvent(ctx, "evaluation.failed", models.EvaluationFailedEvent{
		SubmissionID: job.SubmissionID,
		Error:        reason,
		Attempts:     job.AttemptCount,
		FailedAt:     time.Now(),
	})
	return nil
}

func (w *evaluationWorker) fail(ctx context.Context, job *models.EvaluationJob, reason string) error {
	if err := w.jobRepo.MarkFailed(ctx, job.ID, w.leaseOwner, reason); err != nil {
		if errors.Is(err, models.ErrLeaseLost) {
			w.logger.Warn().Str("job_id", job.ID).Msg("Lease lost, leaving the job to its new holder")
			return nil
		}
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if err := w.subRepo.UpdateStatus(ctx, job.SubmissionID, models.SubmissionStatusFailed); err != nil {
		return fmt.Errorf("failed to fail submission: %w", err)
	}

	w.publishEvent(ctx, "evaluation.failed", models.EvaluationFailedEvent{
		SubmissionID: job.SubmissionID,
		Error:        reason,
		Attempts:     job.AttemptCount,
		FailedAt:     time.Now(),
	})
	return nil
}

// publishEvent is best effort; a lost lifecycle event never fails the job.
func (w *evaluationWorker) publishEvent(ctx context.Context, routingKey string, event interface{}) {
	body, err := json.Marshal(event)
	if err != nil {
		w.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to marshal event")
		return
	}
	if err := w.publisher.Publish(ctx, w.rabbitCfg.EventExchange, routingKey, body); err != nil {
		w.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to publish event")
	}
}

// reapLeases periodically returns expired running jobs to queued and
// republishes their messages, so work lost to a crashed worker resumes
// within one reap interval.
func (w *evaluationWorker) reapLeases(ctx context.Context) {
	interval := w.pipelineCfg.LeaseReapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := w.jobRepo.ReapExpired(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("Failed to reap expired leases")
				continue
			}
			for _, job := range reaped {
				w.logger.Warn().
					Str("job_id", job.ID).
					Str("submission_id", job.SubmissionID).
					Msg("Reclaimed expired job lease")

				body, err := json.Marshal(models.SubmissionQueuedEvent{
					JobID:        job.ID,
					SubmissionID: job.SubmissionID,
					Attempt:      job.AttemptCount,
					Timestamp:    time.Now().Unix(),
				})
				if err != nil {
					continue
				}
				if err := w.publisher.Publish(ctx, w.rabbitCfg.Exchange, w.rabbitCfg.RoutingKey, body); err != nil {
					w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to republish reaped job")
				}
			}
		}
	}
}

func (w *evaluationWorker) GetStats() WorkerStats {
	w.statsMutex.RLock()
	defer w.statsMutex.RUnlock()

	stats := w.stats
	if queueLength, err := w.consumer.GetQueueLength(); err == nil {
		stats.QueueLength = queueLength
	}
	stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return stats
}

// retryDelay doubles per attempt starting from the configured base.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
