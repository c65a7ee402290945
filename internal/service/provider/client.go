package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/gradeflow/eval-service/internal/models"
)

// evaluationRequest is the provider wire request. The raw source never
// leaves the pipeline; the provider sees the canonical form only.
type evaluationRequest struct {
	SubmissionID string                  `json:"submission_id"`
	Language     string                  `json:"language"`
	Partial      bool                    `json:"partial"`
	Tokens       []models.Token          `json:"tokens"`
	Structure    models.StructureSummary `json:"structure"`
	Rubric       rubricPayload           `json:"rubric"`
}

type rubricPayload struct {
	Description      string   `json:"description"`
	ExpectedPatterns []string `json:"expected_patterns,omitempty"`
	WeightCorrect    float64  `json:"weight_correctness"`
	WeightQuality    float64  `json:"weight_quality"`
	WeightEfficiency float64  `json:"weight_efficiency"`
}

// evaluationResponse is the only provider shape allowed downstream; any
// response that fails schema validation is rejected as a ProviderError
// rather than flowing into a GradeResult.
type evaluationResponse struct {
	Score       int    `json:"score" validate:"gte=0,lte=100"`
	Correctness int    `json:"correctness" validate:"gte=0,lte=100"`
	Quality     int    `json:"quality" validate:"gte=0,lte=100"`
	Efficiency  int    `json:"efficiency" validate:"gte=0,lte=100"`
	Feedback    string `json:"feedback" validate:"required,max=16384"`
}

type client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	validate   *validator.Validate
}

func newClient(url, apiKey string, httpClient *http.Client) *client {
	return &client{
		httpClient: httpClient,
		url:        url,
		apiKey:     apiKey,
		validate:   validator.New(),
	}
}

func (c *client) evaluate(ctx context.Context, req *evaluationRequest) (*evaluationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &models.ProviderError{Reason: "failed to encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/evaluations", bytes.NewReader(body))
	if err != nil {
		return nil, &models.ProviderError{Reason: "failed to build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.ProviderError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &models.ProviderError{
			Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	var eval evaluationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&eval); err != nil {
		return nil, &models.ProviderError{Reason: "malformed response body", Err: err}
	}
	if err := c.validate.Struct(&eval); err != nil {
		return nil, &models.ProviderError{Reason: "response failed schema validation", Err: err}
	}

	return &eval, nil
}
