package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

type JobRepository interface {
	Create(ctx context.Context, job *models.EvaluationJob) error
	GetByID(ctx context.Context, id string) (*models.EvaluationJob, error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*models.EvaluationJob, error)
	Acquire(ctx context.Context, id, owner string, ttl time.Duration) (*models.EvaluationJob, error)
	Requeue(ctx context.Context, id, owner, lastError string) error
	MarkSucceeded(ctx context.Context, id, owner string) error
	MarkFailed(ctx context.Context, id, owner, lastError string) error
	MarkDead(ctx context.Context, id, owner, lastError string) error
	RequestCancel(ctx context.Context, submissionID string) (bool, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
	ReapExpired(ctx context.Context) ([]models.EvaluationJob, error)
	CountByState(ctx context.Context) (map[models.JobState]int, error)
}

type jobRepository struct {
	*PostgresRepository
}

func NewJobRepository(db *sql.DB, logger zerolog.Logger) JobRepository {
	return &jobRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const jobColumns = `
	id, submission_id, attempt_count, state, last_error,
	lease_owner, lease_expires_at, cancel_requested, created_at, updated_at
`

func (r *jobRepository) Create(ctx context.Context, job *models.EvaluationJob) error {
	query := `
		INSERT INTO evaluation_jobs (id, submission_id, attempt_count, state, last_error, cancel_requested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.SubmissionID,
		job.AttemptCount,
		job.State,
		job.LastError,
		job.CancelRequested,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*models.EvaluationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM evaluation_jobs WHERE id = $1`
	return r.getJob(ctx, query, id)
}

func (r *jobRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*models.EvaluationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM evaluation_jobs WHERE submission_id = $1`
	return r.getJob(ctx, query, submissionID)
}

// Acquire takes the lease on a queued job, or steals one whose previous
// holder let the lease expire. The attempt counter moves with the lease, so
// every acquisition is a distinct attempt. Losing the race returns
// models.ErrLockContention.
func (r *jobRepository) Acquire(ctx context.Context, id, owner string, ttl time.Duration) (*models.EvaluationJob, error) {
	query := `
		UPDATE evaluation_jobs
		SET state = 'running',
		    lease_owner = $2,
		    lease_expires_at = $3,
		    attempt_count = attempt_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND (state = 'queued' OR (state = 'running' AND lease_expires_at < now()))
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, owner, time.Now().Add(ttl)))
	if err == sql.ErrNoRows {
		return nil, models.ErrLockContention
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Requeue releases the lease after a transient failure so a later delivery
// can pick the job up again. Guarded by the lease owner: a worker whose
// lease was reaped gets models.ErrLeaseLost instead of clobbering the new
// holder's state.
func (r *jobRepository) Requeue(ctx context.Context, id, owner, lastError string) error {
	query := `
		UPDATE evaluation_jobs
		SET state = 'queued', last_error = $3, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND state = 'running' AND lease_owner = $2
	`
	return r.leaseGuarded(ctx, query, id, owner, lastError)
}

func (r *jobRepository) MarkSucceeded(ctx context.Context, id, owner string) error {
	return r.finish(ctx, id, owner, models.JobStateSucceeded, "")
}

func (r *jobRepository) MarkFailed(ctx context.Context, id, owner, lastError string) error {
	return r.finish(ctx, id, owner, models.JobStateFailed, lastError)
}

func (r *jobRepository) MarkDead(ctx context.Context, id, owner, lastError string) error {
	return r.finish(ctx, id, owner, models.JobStateDead, lastError)
}

// finish moves a running job the caller still holds to a terminal state.
func (r *jobRepository) finish(ctx context.Context, id, owner string, state models.JobState, lastError string) error {
	query := `
		UPDATE evaluation_jobs
		SET state = $3, last_error = $4, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND state = 'running' AND lease_owner = $2
	`
	return r.leaseGuarded(ctx, query, id, owner, state, lastError)
}

func (r *jobRepository) leaseGuarded(ctx context.Context, query string, id, owner string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, append([]interface{}{id, owner}, args...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrLeaseLost
	}
	return nil
}

// RequestCancel flags the submission's job for cancellation. Reports whether
// a non-terminal job existed to flag.
func (r *jobRepository) RequestCancel(ctx context.Context, submissionID string) (bool, error) {
	query := `
		UPDATE evaluation_jobs
		SET cancel_requested = TRUE, updated_at = now()
		WHERE submission_id = $1 AND state IN ('queued', 'running')
	`
	res, err := r.db.ExecContext(ctx, query, submissionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *jobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	query := `SELECT cancel_requested FROM evaluation_jobs WHERE id = $1`

	var cancelled bool
	err := r.db.QueryRowContext(ctx, query, id).Scan(&cancelled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// ReapExpired returns running jobs whose lease lapsed to the queued state
// and reports them so the caller can republish their messages.
func (r *jobRepository) ReapExpired(ctx context.Context) ([]models.EvaluationJob, error) {
	query := `
		UPDATE evaluation_jobs
		SET state = 'queued', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE state = 'running' AND lease_expires_at < now()
		RETURNING ` + jobColumns

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EvaluationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (r *jobRepository) CountByState(ctx context.Context) (map[models.JobState]int, error) {
	query := `SELECT state, COUNT(*) FROM evaluation_jobs GROUP BY state`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobState]int)
	for rows.Next() {
		var state models.JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (r *jobRepository) getJob(ctx context.Context, query string, arg interface{}) (*models.EvaluationJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJob(row rowScanner) (*models.EvaluationJob, error) {
	job := &models.EvaluationJob{}
	var owner sql.NullString
	var expires sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.SubmissionID,
		&job.AttemptCount,
		&job.State,
		&job.LastError,
		&owner,
		&expires,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.LeaseOwner = owner.String
	if expires.Valid {
		t := expires.Time
		job.LeaseExpiresAt = &t
	}
	return job, nil
}
