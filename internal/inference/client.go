// File: internal/inference/client.go
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/config"
)

// Retry schedule for transient endpoint faults inside one Propose call. The
// whole budget is bounded by the configured request timeout.
const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
)

// Client talks to a local Ollama-compatible endpoint. It turns one
// (screen, command, rules, history) request into a structured action
// proposal, and owns the startup checks that make sure the endpoint and
// model are actually there.
type Client struct {
	endpoint      string
	model         string
	temperature   float64
	topP          float64
	timeout       time.Duration
	historyWindow int
	autoPull      bool

	// httpClient serves generate/tags/version under the request timeout;
	// pullClient has no timeout because model downloads run for minutes and
	// are bounded by ctx instead.
	httpClient *http.Client
	pullClient *http.Client
	logger     *zap.Logger
}

var _ schemas.Proposer = (*Client)(nil)

// -- Ollama API Request/Response Structures (internal to this package) --

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Images  []string        `json:"images,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type pullResponse struct {
	Status string `json:"status"`
}

// New initializes the client from the llm configuration.
func New(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("llm endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		topP:          cfg.TopP,
		timeout:       timeout,
		historyWindow: cfg.HistoryWindow,
		autoPull:      cfg.AutoPull,
		httpClient:    &http.Client{Timeout: timeout},
		pullClient:    &http.Client{},
		logger:        logger.Named("inference"),
	}, nil
}

// Propose sends the screen and command to the model and parses its answer
// into an ActionProposal. Transient endpoint faults are retried with
// backoff inside the call; the returned error is kinded
// FailureInferenceUnavailable or FailureInferenceMalformed.
func (c *Client) Propose(ctx context.Context, req schemas.ProposalRequest) (*schemas.ActionProposal, error) {
	if req.Screen == nil || len(req.Screen.PNG) == 0 {
		return nil, schemas.NewError(schemas.FailureInferenceUnavailable, "proposal request carries no screen capture")
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, schemas.NewError(schemas.FailureInferenceUnavailable, "proposal request carries no command text")
	}

	prompt := buildPrompt(req, c.historyWindow)
	payload := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(req.Screen.PNG)},
		Stream: false,
		Options: generateOptions{
			Temperature: c.temperature,
			TopP:        c.topP,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schemas.WrapError(schemas.FailureInferenceUnavailable, err, "failed to marshal generate request")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.Multiplier = 2
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = c.timeout

	var modelText string
	start := time.Now()

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create generate request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during inference request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to reach inference endpoint: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read generate response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var generated generateResponse
		if err := json.Unmarshal(respBody, &generated); err != nil {
			return backoff.Permanent(schemas.WrapError(schemas.FailureInferenceMalformed, err, "undecodable generate response"))
		}
		if strings.TrimSpace(generated.Response) == "" {
			return backoff.Permanent(schemas.NewError(schemas.FailureInferenceMalformed, "model returned an empty response"))
		}

		modelText = generated.Response
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var agentErr *schemas.AgentError
		if errors.As(err, &agentErr) {
			return nil, err
		}
		return nil, schemas.WrapError(schemas.FailureInferenceUnavailable, err, "inference endpoint unavailable")
	}

	proposal, err := parseProposal(modelText)
	if err != nil {
		c.logger.Warn("Failed to parse model response.",
			zap.String("raw_response", modelText), zap.Error(err))
		return nil, err
	}
	proposal.Raw = modelText
	proposal.CaptureGeneration = req.Screen.Generation

	c.logger.Info("Inference complete.",
		zap.Duration("duration", time.Since(start)),
		zap.String("action", string(proposal.Kind)),
		zap.String("reasoning", proposal.Rationale))
	return proposal, nil
}

// handleAPIError decides whether a non-200 status is worth retrying.
func (c *Client) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Inference endpoint returned error status",
		zap.Int("status", statusCode), zap.ByteString("response", body))
	err := fmt.Errorf("inference endpoint error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}

// Healthy probes the endpoint's version route. Run once at startup; an
// unreachable endpoint is a startup failure, not a per-command one.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/version", nil)
	if err != nil {
		return schemas.WrapError(schemas.FailureInferenceUnavailable, err, "failed to create version request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return schemas.WrapError(schemas.FailureInferenceUnavailable, err, "inference endpoint unreachable at %s", c.endpoint)
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 512)

	if resp.StatusCode != http.StatusOK {
		return schemas.NewError(schemas.FailureInferenceUnavailable, "inference endpoint health check returned status %d", resp.StatusCode)
	}
	return nil
}

// EnsureModel verifies the configured model is present locally, pulling it
// when missing and auto-pull is enabled.
func (c *Client) EnsureModel(ctx context.Context) error {
	present, err := c.modelPresent(ctx)
	if err != nil {
		return err
	}
	if present {
		c.logger.Debug("Model present.", zap.String("model", c.model))
		return nil
	}
	if !c.autoPull {
		return schemas.NewError(schemas.FailureInferenceUnavailable, "model %q not found locally and auto-pull is disabled", c.model)
	}
	return c.pullModel(ctx)
}

// modelPresent lists local models and matches on the full name or the base
// name before the tag, so a configured "llava" matches "llava:latest".
func (c *Client) modelPresent(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return false, schemas.WrapError(schemas.FailureInferenceUnavailable, err, "failed to create tags request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, schemas.WrapError(schemas.FailureInferenceUnavailable, err, "failed to list local models")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, schemas.NewError(schemas.FailureInferenceUnavailable, "model listing returned status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, schemas.WrapError(schemas.FailureInferenceUnavailable, err, "undecodable model listing")
	}

	want := strings.SplitN(c.model, ":", 2)[0]
	for _, m := range tags.Models {
		if m.Name == c.model || strings.SplitN(m.Name, ":", 2)[0] == want {
			return true, nil
		}
	}
	return false, nil
}

// pullModel downloads the configured model. Long; bounded only by ctx.
func (c *Client) pullModel(ctx context.Context) error {
	c.logger.Info("Pulling model, this can take a while.", zap.String("model", c.model))

	body, err := json.Marshal(pullRequest{Name: c.model, Stream: false})
	if err != nil {
		return schemas.WrapError(schemas.FailureInferenceUnavailable, err, "failed to marshal pull request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return schemas.WrapError(schemas.FailureInferenceUnavailable, err, "failed to create pull request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.pullClient.Do(req)
	if err != nil {
		return schemas.WrapError(schemas.FailureInferenceUnavailable, err, "failed to pull model %q", c.model)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return schemas.NewError(schemas.FailureInferenceUnavailable, "model pull returned status %d", resp.StatusCode)
	}

	var pulled pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&pulled); err != nil {
		return schemas.WrapError(schemas.FailureInferenceUnavailable, err, "undecodable pull response")
	}
	if pulled.Status != "success" {
		return schemas.NewError(schemas.FailureInferenceUnavailable, "model pull finished with status %q", pulled.Status)
	}

	c.logger.Info("Model pulled.", zap.String("model", c.model))
	return nil
}
