package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

type RubricRepository interface {
	GetRubric(ctx context.Context, assignmentID string) (*models.Rubric, error)
	UpsertRubric(ctx context.Context, rubric *models.Rubric) error
}

type rubricRepository struct {
	*PostgresRepository
}

func NewRubricRepository(db *sql.DB, logger zerolog.Logger) RubricRepository {
	return &rubricRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *rubricRepository) GetRubric(ctx context.Context, assignmentID string) (*models.Rubric, error) {
	query := `
		SELECT assignment_id, description, expected_patterns,
		       weight_correctness, weight_quality, weight_efficiency, updated_at
		FROM assignment_rubrics
		WHERE assignment_id = $1
	`

	rubric := &models.Rubric{}
	var patterns []byte
	err := r.db.QueryRowContext(ctx, query, assignmentID).Scan(
		&rubric.AssignmentID,
		&rubric.Description,
		&patterns,
		&rubric.WeightCorrect,
		&rubric.WeightQuality,
		&rubric.WeightEfficiency,
		&rubric.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(patterns, &rubric.ExpectedPatterns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal expected patterns: %w", err)
	}
	return rubric, nil
}

func (r *rubricRepository) UpsertRubric(ctx context.Context, rubric *models.Rubric) error {
	patterns, err := json.Marshal(rubric.ExpectedPatterns)
	if err != nil {
		return fmt.Errorf("failed to marshal expected patterns: %w", err)
	}

	query := `
		INSERT INTO assignment_rubrics (assignment_id, description, expected_patterns,
		                                weight_correctness, weight_quality, weight_efficiency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (assignment_id) DO UPDATE SET
			description = EXCLUDED.description,
			expected_patterns = EXCLUDED.expected_patterns,
			weight_correctness = EXCLUDED.weight_correctness,
			weight_quality = EXCLUDED.weight_quality,
			weight_efficiency = EXCLUDED.weight_efficiency,
			updated_at = now()
	`
	_, err = r.db.ExecContext(ctx, query,
		rubric.AssignmentID,
		rubric.Description,
		patterns,
		rubric.WeightCorrect,
		rubric.WeightQuality,
		rubric.WeightEfficiency,
	)
	return err
}
