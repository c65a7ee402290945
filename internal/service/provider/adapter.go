package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/gradeflow/eval-service/internal/models"
)

// Adapter is the boundary to the external AI evaluation service. It owns
// the hard timeout, the per-key rate limit and the circuit breaker; while
// the breaker is open callers get ErrCircuitOpen immediately and fall back
// without a network round trip.
type Adapter interface {
	Evaluate(ctx context.Context, form *models.CanonicalForm, rubric *models.Rubric) (*models.GradeResult, error)
	Healthy() bool
}

type Config struct {
	URL                string
	APIKey             string
	Timeout            time.Duration
	RetryCount         int
	RetryDelay         time.Duration
	RateLimitPerMinute int
	BreakerFailures    int
	BreakerCooldown    time.Duration
}

type adapter struct {
	client  *client
	breaker *CircuitBreaker
	limiter *RateLimiter
	config  Config
	logger  zerolog.Logger
}

func NewAdapter(config Config, logger zerolog.Logger) Adapter {
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 250 * time.Millisecond
	}
	httpClient := &http.Client{Timeout: config.Timeout}

	return &adapter{
		client:  newClient(config.URL, config.APIKey, httpClient),
		breaker: NewCircuitBreaker(config.BreakerFailures, config.BreakerCooldown),
		limiter: NewRateLimiter(config.RateLimitPerMinute),
		config:  config,
		logger:  logger,
	}
}

func (a *adapter) Healthy() bool {
	return !a.breaker.Open()
}

func (a *adapter) Evaluate(ctx context.Context, form *models.CanonicalForm, rubric *models.Rubric) (*models.GradeResult, error) {
	if err := a.breaker.Allow(); err != nil {
		return nil, err
	}
	if err := a.limiter.Take(a.config.APIKey); err != nil {
		a.breaker.Cancel() // throttled before any I/O, no provider outcome to record
		return nil, &models.ProviderError{Reason: "rate limited", Err: err}
	}

	req := &evaluationRequest{
		SubmissionID: form.SubmissionID,
		Language:     form.Language,
		Partial:      form.Partial,
		Tokens:       form.Tokens,
		Structure:    form.Structure,
		Rubric: rubricPayload{
			Description:      rubric.Description,
			ExpectedPatterns: rubric.ExpectedPatterns,
			WeightCorrect:    rubric.WeightCorrect,
			WeightQuality:    rubric.WeightQuality,
			WeightEfficiency: rubric.WeightEfficiency,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var eval *evaluationResponse
	backoff := retry.WithMaxRetries(uint64(a.config.RetryCount), retry.NewExponential(a.config.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		eval, callErr = a.client.evaluate(ctx, req)
		if callErr != nil {
			a.logger.Warn().
				Str("submission_id", form.SubmissionID).
				Err(callErr).
				Msg("Provider call failed")
			return retry.RetryableError(callErr)
		}
		return nil
	})
	if err != nil {
		a.breaker.Failure()
		var perr *models.ProviderError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &models.ProviderError{Reason: "retry budget exhausted", Err: err}
	}

	a.breaker.Success()

	return &models.GradeResult{
		SubmissionID: form.SubmissionID,
		Score:        eval.Score,
		Breakdown: models.GradeBreakdown{
			Correctness: eval.Correctness,
			Quality:     eval.Quality,
			Efficiency:  eval.Efficiency,
		},
		Source:       models.GradeSourceAI,
		FeedbackText: eval.Feedback,
		CreatedAt:    time.Now(),
	}, nil
}
