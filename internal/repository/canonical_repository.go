package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

type CanonicalRepository interface {
	SaveCanonicalForm(ctx context.Context, form *models.CanonicalForm) error
	GetCanonicalForm(ctx context.Context, submissionID string) (*models.CanonicalForm, error)
}

type canonicalRepository struct {
	*PostgresRepository
}

func NewCanonicalRepository(db *sql.DB, logger zerolog.Logger) CanonicalRepository {
	return &canonicalRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *canonicalRepository) SaveCanonicalForm(ctx context.Context, form *models.CanonicalForm) error {
	tokens, err := json.Marshal(form.Tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	structure, err := json.Marshal(form.Structure)
	if err != nil {
		return fmt.Errorf("failed to marshal structure: %w", err)
	}

	query := `
		INSERT INTO canonical_forms (submission_id, language, tokens, structure, partial, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (submission_id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		form.SubmissionID,
		form.Language,
		tokens,
		structure,
		form.Partial,
		form.CreatedAt,
	)
	return err
}

func (r *canonicalRepository) GetCanonicalForm(ctx context.Context, submissionID string) (*models.CanonicalForm, error) {
	query := `
		SELECT submission_id, language, tokens, structure, partial, created_at
		FROM canonical_forms
		WHERE submission_id = $1
	`

	form := &models.CanonicalForm{}
	var tokens, structure []byte
	err := r.db.QueryRowContext(ctx, query, submissionID).Scan(
		&form.SubmissionID,
		&form.Language,
		&tokens,
		&structure,
		&form.Partial,
		&form.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tokens, &form.Tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tokens: %w", err)
	}
	if err := json.Unmarshal(structure, &form.Structure); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structure: %w", err)
	}
	return form, nil
}
