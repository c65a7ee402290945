package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

type SubmissionRepository interface {
	Create(ctx context.Context, sub *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	UpdateStatus(ctx context.Context, id string, status models.SubmissionStatus) error
	PendingByAuthor(ctx context.Context, assignmentID, authorID string) ([]models.Submission, error)
}

type submissionRepository struct {
	*PostgresRepository
}

func NewSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &submissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const submissionColumns = `
	id, assignment_id, author_id, language, raw_source, source_hash,
	received_at, status, updated_at
`

func (r *submissionRepository) Create(ctx context.Context, sub *models.Submission) error {
	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.AssignmentID,
		sub.AuthorID,
		sub.Language,
		sub.RawSource,
		sub.SourceHash,
		sub.ReceivedAt,
		sub.Status,
		sub.UpdatedAt,
	)
	return err
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	sub := &models.Submission{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&sub.ID,
		&sub.AssignmentID,
		&sub.AuthorID,
		&sub.Language,
		&sub.RawSource,
		&sub.SourceHash,
		&sub.ReceivedAt,
		&sub.Status,
		&sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *submissionRepository) UpdateStatus(ctx context.Context, id string, status models.SubmissionStatus) error {
	query := `UPDATE submissions SET status = $2, updated_at = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	return err
}

// PendingByAuthor lists the author's non-terminal submissions for an
// assignment; a new upload supersedes them.
func (r *submissionRepository) PendingByAuthor(ctx context.Context, assignmentID, authorID string) ([]models.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE assignment_id = $1 AND author_id = $2
		  AND status NOT IN ('graded', 'failed')
		ORDER BY received_at
	`
	return r.querySubmissions(ctx, query, assignmentID, authorID)
}

func (r *submissionRepository) querySubmissions(ctx context.Context, query string, args ...interface{}) ([]models.Submission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		var sub models.Submission
		if err := rows.Scan(
			&sub.ID,
			&sub.AssignmentID,
			&sub.AuthorID,
			&sub.Language,
			&sub.RawSource,
			&sub.SourceHash,
			&sub.ReceivedAt,
			&sub.Status,
			&sub.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
