// Package model implements the gateway to an OpenAI-compatible LLM backend.
// The gateway issues a single request per call and performs no retries;
// retry policy belongs to the stage runner.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/research"
)

// Params are the recognized generation parameters for a single request.
// Zero values fall back to the configured defaults.
type Params struct {
	Temperature float64
	MaxTokens   int
	Model       string
}

// Request is a single generation request. Stage tags the request for
// logging and telemetry only; it does not change the call.
type Request struct {
	Prompt string
	System string
	Stage  research.StageKind
	Params Params
}

// Gateway issues chat completion requests against an OpenAI-compatible
// endpoint. Stateless; safe for concurrent use.
type Gateway struct {
	baseURL string
	apiKey  string
	cfg     config.ModelConfig
	client  *http.Client
}

// NewGateway builds a Gateway from the model configuration. The API key is
// read from the environment variable named by cfg.APIKeyEnv; a missing key
// is a fatal configuration error surfaced before any pipeline starts.
func NewGateway(cfg config.ModelConfig) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model base_url is not configured")
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if cfg.APIKeyEnv != "" && apiKey == "" {
		return nil, fmt.Errorf("API key env var %s is empty", cfg.APIKeyEnv)
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Gateway{
		baseURL: cfg.BaseURL,
		apiKey:  apiKey,
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// chatRequest is the OpenAI-compatible request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the response body the gateway consumes.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate issues one completion request and returns the raw text.
// Repeated calls with an identical prompt may yield different text; callers
// must not assume reproducibility. Errors are either *TransientError,
// *FatalError, or a context error on cancellation.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", &FatalError{Msg: "empty prompt"}
	}

	body := chatRequest{
		Model:       req.Params.Model,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
	}
	if body.Model == "" {
		body.Model = g.cfg.Name
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = g.cfg.MaxTokens
	}
	if body.Temperature == 0 {
		body.Temperature = g.cfg.Temperature
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(body)
	if err != nil {
		return "", &FatalError{Msg: fmt.Sprintf("encoding request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &FatalError{Msg: fmt.Sprintf("building request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		// Cancellation takes precedence so pipelines can map it to Abandoned.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if isTimeout(err) {
			return "", &TransientError{Msg: fmt.Sprintf("request timed out: %v", err)}
		}
		return "", &TransientError{Msg: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Status: resp.StatusCode, Msg: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TransientError{Status: resp.StatusCode, Msg: fmt.Sprintf("decoding response: %v", err)}
	}
	if parsed.Error != nil {
		return "", &FatalError{Status: resp.StatusCode, Msg: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &TransientError{Status: resp.StatusCode, Msg: "response contained no choices"}
	}

	return parsed.Choices[0].Message.Content, nil
}

// classifyStatus maps HTTP status codes to the error taxonomy: rate limits
// and server errors are retryable, auth and request errors are not.
func classifyStatus(status int, body []byte) error {
	msg := errorMessage(body)
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Status: status, Msg: msg}
	default:
		return &FatalError{Status: status, Msg: msg}
	}
}

// errorMessage extracts the backend error message from a response body,
// falling back to the raw body when it is not the expected JSON shape.
func errorMessage(body []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// isTimeout reports whether err is a transport-level timeout.
// http.Client wraps timeouts in *url.Error, which implements net.Error.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
