package grading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
	"github.com/gradeflow/eval-service/internal/service/fingerprint"
	"github.com/gradeflow/eval-service/internal/service/normalizer"
	"github.com/gradeflow/eval-service/internal/service/provider"
	"github.com/gradeflow/eval-service/internal/service/similarity"
	"github.com/gradeflow/eval-service/pkg/hash"
)

// Stores the orchestrator needs; the repository layer satisfies all of
// them.
type SubmissionStore interface {
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	UpdateStatus(ctx context.Context, id string, status models.SubmissionStatus) error
}

type FormStore interface {
	GetCanonicalForm(ctx context.Context, submissionID string) (*models.CanonicalForm, error)
	SaveCanonicalForm(ctx context.Context, form *models.CanonicalForm) error
}

type FingerprintStore interface {
	GetFingerprint(ctx context.Context, submissionID string) (*models.Fingerprint, error)
	SaveFingerprint(ctx context.Context, fp *models.Fingerprint) error
}

type RubricStore interface {
	GetRubric(ctx context.Context, assignmentID string) (*models.Rubric, error)
}

// MergeWriter persists GradeResult and SimilarityMatch set atomically with
// the submission's flip to graded, so observers never see a half-graded
// submission.
type MergeWriter interface {
	CommitGraded(ctx context.Context, submissionID string, attempt int, result *models.GradeResult, matches []models.SimilarityMatch) error
}

type CancelChecker interface {
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// evalOutcome is the tagged result of the evaluating step, threaded
// explicitly through the state machine instead of caught ad hoc.
type evalOutcome struct {
	result         *models.GradeResult
	fallbackReason string
}

type Config struct {
	AIEnabled bool
}

// Orchestrator drives a submission through the pipeline states:
// Received -> Normalizing -> Evaluating(AI|Fallback) -> SimilarityScanning
// -> Merging -> Graded, or Failed.
type Orchestrator struct {
	normalizer   normalizer.Normalizer
	engine       fingerprint.Engine
	scorer       similarity.Scorer
	index        *similarity.Index
	adapter      provider.Adapter
	fallback     *FallbackScorer
	submissions  SubmissionStore
	forms        FormStore
	fingerprints FingerprintStore
	rubrics      RubricStore
	merges       MergeWriter
	cancels      CancelChecker
	config       Config
	logger       zerolog.Logger
}

func NewOrchestrator(
	norm normalizer.Normalizer,
	engine fingerprint.Engine,
	scorer similarity.Scorer,
	index *similarity.Index,
	adapter provider.Adapter,
	fallback *FallbackScorer,
	submissions SubmissionStore,
	forms FormStore,
	fingerprints FingerprintStore,
	rubrics RubricStore,
	merges MergeWriter,
	cancels CancelChecker,
	config Config,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		normalizer:   norm,
		engine:       engine,
		scorer:       scorer,
		index:        index,
		adapter:      adapter,
		fallback:     fallback,
		submissions:  submissions,
		forms:        forms,
		fingerprints: fingerprints,
		rubrics:      rubrics,
		merges:       merges,
		cancels:      cancels,
		config:       config,
		logger:       logger,
	}
}

// Evaluate runs one attempt for a leased job. A returned error means the
// attempt failed and the caller owns retry accounting; models.ErrCancelled
// means a clean cancelled exit without partial writes.
func (o *Orchestrator) Evaluate(ctx context.Context, job *models.EvaluationJob) (*models.EvaluationCompletedEvent, error) {
	start := time.Now()

	sub, err := o.submissions.GetByID(ctx, job.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", job.SubmissionID, models.ErrNotFound)
	}

	log := o.logger.With().
		Str("submission_id", sub.ID).
		Str("job_id", job.ID).
		Int("attempt", job.AttemptCount).
		Logger()

	// Received -> Normalizing
	if err := o.transition(ctx, job, sub, models.SubmissionStatusNormalizing); err != nil {
		return nil, err
	}
	form, err := o.normalize(ctx, sub, log)
	if err != nil {
		return nil, err
	}

	// Normalizing -> Evaluating: always proceeds, even on a partial form
	if err := o.transition(ctx, job, sub, models.SubmissionStatusEvaluating); err != nil {
		return nil, err
	}
	rubric, err := o.rubrics.GetRubric(ctx, sub.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rubric: %w", err)
	}
	if rubric == nil {
		rubric = models.DefaultRubric(sub.AssignmentID)
	}
	outcome := o.evaluate(ctx, sub, form, rubric, log)
	outcome.result.Attempt = job.AttemptCount

	// Evaluating -> SimilarityScanning: unconditional
	if err := o.transition(ctx, job, sub, models.SubmissionStatusSimilarityScanning); err != nil {
		return nil, err
	}
	matches, err := o.scanSimilarity(ctx, job, sub, form, log)
	if err != nil {
		return nil, err
	}

	// SimilarityScanning -> Merging; last cancellation point
	if err := o.transition(ctx, job, sub, models.SubmissionStatusMerging); err != nil {
		return nil, err
	}
	if err := o.merges.CommitGraded(ctx, sub.ID, job.AttemptCount, outcome.result, matches); err != nil {
		return nil, fmt.Errorf("failed to commit merged result: %w", err)
	}

	log.Info().
		Int("score", outcome.result.Score).
		Str("source", outcome.result.Source.String()).
		Str("fallback_reason", outcome.fallbackReason).
		Int("matches", len(matches)).
		Dur("elapsed", time.Since(start)).
		Msg("Submission graded")

	return &models.EvaluationCompletedEvent{
		SubmissionID: sub.ID,
		Attempt:      job.AttemptCount,
		Grade:        *outcome.result,
		Matches:      matches,
		CompletedAt:  time.Now(),
	}, nil
}

// transition flips the submission status after checking the cancellation
// flag, making every state boundary a cancellation point.
func (o *Orchestrator) transition(ctx context.Context, job *models.EvaluationJob, sub *models.Submission, status models.SubmissionStatus) error {
	cancelled, err := o.cancels.CancelRequested(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to check cancellation: %w", err)
	}
	if cancelled {
		return models.ErrCancelled
	}
	if err := o.submissions.UpdateStatus(ctx, sub.ID, status); err != nil {
		return fmt.Errorf("failed to enter %s: %w", status, err)
	}
	sub.Status = status
	return nil
}

// normalize reuses the cached canonical form when a retry already produced
// one.
func (o *Orchestrator) normalize(ctx context.Context, sub *models.Submission, log zerolog.Logger) (*models.CanonicalForm, error) {
	cached, err := o.forms.GetCanonicalForm(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached canonical form: %w", err)
	}
	if cached != nil {
		return cached, nil
	}

	form, err := o.normalizer.Normalize(sub.ID, sub.Language, sub.RawSource)
	var degraded *models.NormalizationError
	if err != nil && !errors.As(err, &degraded) {
		return nil, err
	}
	if form == nil {
		return nil, fmt.Errorf("normalizer produced no form for %s", sub.ID)
	}
	if degraded != nil {
		log.Warn().Str("reason", degraded.Reason).Msg("Proceeding on partial canonical form")
	}

	if err := o.forms.SaveCanonicalForm(ctx, form); err != nil {
		return nil, fmt.Errorf("failed to cache canonical form: %w", err)
	}
	return form, nil
}

// evaluate tries the AI adapter first and falls back deterministically on
// any provider failure; the fallback path cannot fail.
func (o *Orchestrator) evaluate(ctx context.Context, sub *models.Submission, form *models.CanonicalForm, rubric *models.Rubric, log zerolog.Logger) evalOutcome {
	if !o.config.AIEnabled {
		return evalOutcome{
			result:         o.fallback.Score(form, sub.RawSource, rubric),
			fallbackReason: "ai disabled",
		}
	}

	result, err := o.adapter.Evaluate(ctx, form, rubric)
	if err == nil {
		return evalOutcome{result: result}
	}

	reason := "provider error"
	if errors.Is(err, provider.ErrCircuitOpen) {
		reason = "circuit open"
	}
	log.Warn().Err(err).Str("reason", reason).Msg("AI evaluation unavailable, using fallback scorer")

	return evalOutcome{
		result:         o.fallback.Score(form, sub.RawSource, rubric),
		fallbackReason: reason,
	}
}

// scanSimilarity fingerprints the submission (reusing a cached fingerprint
// on retry), publishes it into the assignment corpus and ranks it against
// prior submissions.
func (o *Orchestrator) scanSimilarity(ctx context.Context, job *models.EvaluationJob, sub *models.Submission, form *models.CanonicalForm, log zerolog.Logger) ([]models.SimilarityMatch, error) {
	fp, err := o.fingerprints.GetFingerprint(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached fingerprint: %w", err)
	}
	if fp == nil {
		fp = o.engine.Fingerprint(form, sub.AssignmentID, sub.AuthorID)
		fp.SourceHash = hash.Source(sub.RawSource)
		if err := o.fingerprints.SaveFingerprint(ctx, fp); err != nil {
			return nil, fmt.Errorf("failed to persist fingerprint: %w", err)
		}
	}

	o.index.Add(fp)

	matches, err := o.scorer.Scan(ctx, form, fp, job.AttemptCount)
	if err != nil {
		return nil, fmt.Errorf("similarity scan failed: %w", err)
	}
	return matches, nil
}
