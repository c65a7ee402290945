package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

type FingerprintRepository interface {
	SaveFingerprint(ctx context.Context, fp *models.Fingerprint) error
	GetFingerprint(ctx context.Context, submissionID string) (*models.Fingerprint, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]*models.Fingerprint, error)
	ListAssignmentIDs(ctx context.Context) ([]string, error)
}

type fingerprintRepository struct {
	*PostgresRepository
}

func NewFingerprintRepository(db *sql.DB, logger zerolog.Logger) FingerprintRepository {
	return &fingerprintRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *fingerprintRepository) SaveFingerprint(ctx context.Context, fp *models.Fingerprint) error {
	hashes, err := json.Marshal(fp.Hashes)
	if err != nil {
		return fmt.Errorf("failed to marshal hashes: %w", err)
	}

	query := `
		INSERT INTO fingerprints (submission_id, assignment_id, author_id, source_hash, token_count, hashes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (submission_id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		fp.SubmissionID,
		fp.AssignmentID,
		fp.AuthorID,
		fp.SourceHash,
		fp.TokenCount,
		hashes,
		fp.CreatedAt,
	)
	return err
}

func (r *fingerprintRepository) GetFingerprint(ctx context.Context, submissionID string) (*models.Fingerprint, error) {
	query := `
		SELECT submission_id, assignment_id, author_id, source_hash, token_count, hashes, created_at
		FROM fingerprints
		WHERE submission_id = $1
	`

	fp, err := scanFingerprint(r.db.QueryRowContext(ctx, query, submissionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fp, nil
}

// ListByAssignment loads an assignment's entire fingerprint corpus, used to
// warm the in-memory index at startup.
func (r *fingerprintRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]*models.Fingerprint, error) {
	query := `
		SELECT submission_id, assignment_id, author_id, source_hash, token_count, hashes, created_at
		FROM fingerprints
		WHERE assignment_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Fingerprint
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

func (r *fingerprintRepository) ListAssignmentIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT assignment_id FROM fingerprints`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFingerprint(row rowScanner) (*models.Fingerprint, error) {
	fp := &models.Fingerprint{}
	var hashes []byte
	if err := row.Scan(
		&fp.SubmissionID,
		&fp.AssignmentID,
		&fp.AuthorID,
		&fp.SourceHash,
		&fp.TokenCount,
		&hashes,
		&fp.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hashes, &fp.Hashes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hashes: %w", err)
	}
	return fp, nil
}
