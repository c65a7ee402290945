package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

type ResultRepository interface {
	CommitGraded(ctx context.Context, submissionID string, attempt int, result *models.GradeResult, matches []models.SimilarityMatch) error
	GetLatestResult(ctx context.Context, submissionID string) (*models.GradeResult, error)
	GetMatches(ctx context.Context, submissionID string, attempt int) ([]models.SimilarityMatch, error)
}

type resultRepository struct {
	*PostgresRepository
}

func NewResultRepository(db *sql.DB, logger zerolog.Logger) ResultRepository {
	return &resultRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// CommitGraded writes the grade result, the attempt's similarity matches and
// the submission's flip to graded in one transaction. Readers either see the
// previous state or the fully merged one.
func (r *resultRepository) CommitGraded(
	ctx context.Context,
	submissionID string,
	attempt int,
	result *models.GradeResult,
	matches []models.SimilarityMatch,
) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resultQuery := `
		INSERT INTO grade_results (submission_id, attempt, score, correctness, quality, efficiency, source, feedback_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (submission_id, attempt) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, resultQuery,
		result.SubmissionID,
		result.Attempt,
		result.Score,
		result.Breakdown.Correctness,
		result.Breakdown.Quality,
		result.Breakdown.Efficiency,
		result.Source,
		result.FeedbackText,
		result.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert grade result: %w", err)
	}

	matchQuery := `
		INSERT INTO similarity_matches (submission_id, matched_submission_id, attempt, similarity_score, containment, structural, matched_regions, flagged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (submission_id, matched_submission_id, attempt) DO NOTHING
	`
	for _, m := range matches {
		regions, err := json.Marshal(m.MatchedRegions)
		if err != nil {
			return fmt.Errorf("failed to marshal matched regions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, matchQuery,
			m.SubmissionID,
			m.MatchedSubmissionID,
			m.Attempt,
			m.SimilarityScore,
			m.Containment,
			m.Structural,
			regions,
			m.Flagged,
			m.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert similarity match: %w", err)
		}
	}

	statusQuery := `UPDATE submissions SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, statusQuery, submissionID, models.SubmissionStatusGraded, time.Now()); err != nil {
		return fmt.Errorf("failed to mark submission graded: %w", err)
	}

	return tx.Commit()
}

func (r *resultRepository) GetLatestResult(ctx context.Context, submissionID string) (*models.GradeResult, error) {
	query := `
		SELECT submission_id, attempt, score, correctness, quality, efficiency, source, feedback_text, created_at
		FROM grade_results
		WHERE submission_id = $1
		ORDER BY attempt DESC
		LIMIT 1
	`

	result := &models.GradeResult{}
	err := r.db.QueryRowContext(ctx, query, submissionID).Scan(
		&result.SubmissionID,
		&result.Attempt,
		&result.Score,
		&result.Breakdown.Correctness,
		&result.Breakdown.Quality,
		&result.Breakdown.Efficiency,
		&result.Source,
		&result.FeedbackText,
		&result.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *resultRepository) GetMatches(ctx context.Context, submissionID string, attempt int) ([]models.SimilarityMatch, error) {
	query := `
		SELECT submission_id, matched_submission_id, attempt, similarity_score, containment, structural, matched_regions, flagged, created_at
		FROM similarity_matches
		WHERE submission_id = $1 AND attempt = $2
		ORDER BY similarity_score DESC, matched_submission_id
	`

	rows, err := r.db.QueryContext(ctx, query, submissionID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SimilarityMatch
	for rows.Next() {
		var m models.SimilarityMatch
		var regions []byte
		if err := rows.Scan(
			&m.SubmissionID,
			&m.MatchedSubmissionID,
			&m.Attempt,
			&m.SimilarityScore,
			&m.Containment,
			&m.Structural,
			&regions,
			&m.Flagged,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(regions, &m.MatchedRegions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal matched regions: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
