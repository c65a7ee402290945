package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/config"
	"github.com/gradeflow/eval-service/internal/models"
	"github.com/gradeflow/eval-service/internal/repository"
	"github.com/gradeflow/eval-service/internal/service/archive"
	"github.com/gradeflow/eval-service/internal/service/normalizer"
	"github.com/gradeflow/eval-service/internal/worker/queue"
	"github.com/gradeflow/eval-service/pkg/hash"
)

// EvaluationService is the API-facing surface of the pipeline: it accepts
// submissions, exposes results and runs the rubric admin operations. The
// actual evaluation happens in the worker.
type EvaluationService interface {
	EnqueueSubmission(ctx context.Context, req *models.EnqueueSubmissionRequest) (*models.EnqueueSubmissionResponse, error)
	GetResult(ctx context.Context, submissionID string) (*models.GetResultResponse, error)
	GetSimilarityReport(ctx context.Context, submissionID string) (*models.SimilarityReportResponse, error)
	Cancel(ctx context.Context, submissionID string) error
	GetRubric(ctx context.Context, assignmentID string) (*models.Rubric, error)
	UpsertRubric(ctx context.Context, assignmentID string, req *models.UpsertRubricRequest) (*models.Rubric, error)
	Status(ctx context.Context) (*models.ServiceStatusResponse, error)
}

type evaluationService struct {
	validate   *validator.Validate
	registry   *normalizer.Registry
	subRepo    repository.SubmissionRepository
	jobRepo    repository.JobRepository
	resultRepo repository.ResultRepository
	rubricRepo repository.RubricRepository
	publisher  queue.RabbitMQPublisher
	storage    archive.Storage
	rabbitCfg  config.RabbitMQConfig
	logger     zerolog.Logger
}

func NewEvaluationService(
	registry *normalizer.Registry,
	subRepo repository.SubmissionRepository,
	jobRepo repository.JobRepository,
	resultRepo repository.ResultRepository,
	rubricRepo repository.RubricRepository,
	publisher queue.RabbitMQPublisher,
	storage archive.Storage,
	rabbitCfg config.RabbitMQConfig,
	logger zerolog.Logger,
) EvaluationService {
	return &evaluationService{
		validate:   validator.New(),
		registry:   registry,
		subRepo:    subRepo,
		jobRepo:    jobRepo,
		resultRepo: resultRepo,
		rubricRepo: rubricRepo,
		publisher:  publisher,
		storage:    storage,
		rabbitCfg:  rabbitCfg,
		logger:     logger,
	}
}

// EnqueueSubmission validates the upload, supersedes the author's pending
// submissions for the same assignment, persists the new one and publishes
// its job. The response returns before any evaluation work happens.
func (s *evaluationService) EnqueueSubmission(ctx context.Context, req *models.EnqueueSubmissionRequest) (*models.EnqueueSubmissionResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	profile, err := s.registry.Resolve(req.Language, req.RawSource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	pending, err := s.subRepo.PendingByAuthor(ctx, req.AssignmentID, req.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending submissions: %w", err)
	}
	for _, old := range pending {
		if _, err := s.jobRepo.RequestCancel(ctx, old.ID); err != nil {
			s.logger.Error().Err(err).Str("submission_id", old.ID).Msg("Failed to cancel superseded submission")
			continue
		}
		s.logger.Info().
			Str("submission_id", old.ID).
			Str("author_id", req.AuthorID).
			Msg("Superseded pending submission")
	}

	now := time.Now()
	sub := &models.Submission{
		ID:           uuid.New().String(),
		AssignmentID: req.AssignmentID,
		AuthorID:     req.AuthorID,
		Language:     profile.Name(),
		RawSource:    req.RawSource,
		SourceHash:   hash.Source(req.RawSource),
		ReceivedAt:   now,
		Status:       models.SubmissionStatusReceived,
		UpdatedAt:    now,
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	if err := s.storage.Archive(ctx, sub.AssignmentID, sub.ID, sub.RawSource); err != nil {
		s.logger.Warn().Err(err).Str("submission_id", sub.ID).Msg("Failed to archive raw source")
	}

	job := &models.EvaluationJob{
		ID:           uuid.New().String(),
		SubmissionID: sub.ID,
		State:        models.JobStateQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create evaluation job: %w", err)
	}

	event := models.SubmissionQueuedEvent{
		JobID:        job.ID,
		SubmissionID: sub.ID,
		AssignmentID: sub.AssignmentID,
		AuthorID:     sub.AuthorID,
		Timestamp:    now.Unix(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queued event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.rabbitCfg.Exchange, s.rabbitCfg.RoutingKey, body); err != nil {
		return nil, fmt.Errorf("failed to publish queued event: %w", err)
	}

	s.logger.Info().
		Str("submission_id", sub.ID).
		Str("assignment_id", sub.AssignmentID).
		Str("language", sub.Language).
		Msg("Submission enqueued")

	return &models.EnqueueSubmissionResponse{
		JobID:        job.ID,
		SubmissionID: sub.ID,
		Status:       sub.Status.String(),
	}, nil
}

// GetResult reports the latest grade, or the pipeline position when the
// submission has not reached a terminal state yet.
func (s *evaluationService) GetResult(ctx context.Context, submissionID string) (*models.GetResultResponse, error) {
	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if sub == nil {
		return nil, models.ErrNotFound
	}

	resp := &models.GetResultResponse{SubmissionID: sub.ID}

	switch sub.Status {
	case models.SubmissionStatusGraded:
		grade, err := s.resultRepo.GetLatestResult(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load grade result: %w", err)
		}
		resp.State = models.ResultStateGraded
		resp.Grade = grade
	case models.SubmissionStatusFailed:
		resp.State = models.ResultStateFailed
		if job, err := s.jobRepo.GetBySubmissionID(ctx, sub.ID); err == nil && job != nil {
			resp.LastError = job.LastError
		}
	default:
		resp.State = models.ResultStatePending
	}
	return resp, nil
}

func (s *evaluationService) GetSimilarityReport(ctx context.Context, submissionID string) (*models.SimilarityReportResponse, error) {
	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if sub == nil {
		return nil, models.ErrNotFound
	}

	matches := []models.SimilarityMatch{}
	if result, err := s.resultRepo.GetLatestResult(ctx, sub.ID); err != nil {
		return nil, fmt.Errorf("failed to load grade result: %w", err)
	} else if result != nil {
		matches, err = s.resultRepo.GetMatches(ctx, sub.ID, result.Attempt)
		if err != nil {
			return nil, fmt.Errorf("failed to load similarity matches: %w", err)
		}
	}

	return &models.SimilarityReportResponse{
		SubmissionID: sub.ID,
		Matches:      matches,
		GeneratedAt:  time.Now(),
	}, nil
}

// Cancel flags the submission's job; the worker honors the flag at the next
// state transition. Cancelling an already terminal submission is an error.
func (s *evaluationService) Cancel(ctx context.Context, submissionID string) error {
	sub, err := s.subRepo.GetByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission: %w", err)
	}
	if sub == nil {
		return models.ErrNotFound
	}
	if sub.Status.Terminal() {
		return fmt.Errorf("%w: submission already %s", models.ErrValidation, sub.Status)
	}

	flagged, err := s.jobRepo.RequestCancel(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	if !flagged {
		return fmt.Errorf("%w: no cancellable job for submission", models.ErrValidation)
	}

	s.logger.Info().Str("submission_id", submissionID).Msg("Cancellation requested")
	return nil
}

func (s *evaluationService) GetRubric(ctx context.Context, assignmentID string) (*models.Rubric, error) {
	rubric, err := s.rubricRepo.GetRubric(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rubric: %w", err)
	}
	if rubric == nil {
		return nil, models.ErrNotFound
	}
	return rubric, nil
}

func (s *evaluationService) UpsertRubric(ctx context.Context, assignmentID string, req *models.UpsertRubricRequest) (*models.Rubric, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if req.WeightCorrect+req.WeightQuality+req.WeightEfficiency <= 0 {
		return nil, fmt.Errorf("%w: rubric weights must not all be zero", models.ErrValidation)
	}

	rubric := &models.Rubric{
		AssignmentID:     assignmentID,
		Description:      req.Description,
		ExpectedPatterns: req.ExpectedPatterns,
		WeightCorrect:    req.WeightCorrect,
		WeightQuality:    req.WeightQuality,
		WeightEfficiency: req.WeightEfficiency,
		UpdatedAt:        time.Now(),
	}
	if err := s.rubricRepo.UpsertRubric(ctx, rubric); err != nil {
		return nil, fmt.Errorf("failed to upsert rubric: %w", err)
	}

	s.logger.Info().Str("assignment_id", assignmentID).Msg("Rubric updated")
	return rubric, nil
}

// Status aggregates job states from the database so it works whether or not
// a worker runs in this process.
func (s *evaluationService) Status(ctx context.Context) (*models.ServiceStatusResponse, error) {
	counts, err := s.jobRepo.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	return &models.ServiceStatusResponse{
		Status:        "ok",
		ActiveWorkers: counts[models.JobStateRunning],
		QueueLength:   counts[models.JobStateQueued],
		Processed:     counts[models.JobStateSucceeded],
		Failed:        counts[models.JobStateFailed] + counts[models.JobStateDead],
	}, nil
}
