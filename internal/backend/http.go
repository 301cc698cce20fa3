package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	errs "taskorch/internal/errors"
	"taskorch/internal/httpclient"
	"taskorch/internal/logging"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 4 << 10
	maxResponseBody    = 32 << 20
)

// HTTPOptions configures an HTTPBackend.
type HTTPOptions struct {
	Client  *http.Client
	Timeout time.Duration
	Logger  logging.Logger
}

// HTTPBackend posts each request as JSON to the descriptor endpoint.
//
// Request body:
//
//	{"task_id", "kind", "model", "input", "context", "max_tokens", "temperature"}
//
// Response body:
//
//	{"output": any, "units_used": number, "error": string}
//
// A non-empty "error" field is a backend-reported failure.
type HTTPBackend struct {
	client *http.Client
	logger logging.Logger
}

// NewHTTPBackend constructs an HTTP adapter.
func NewHTTPBackend(opts HTTPOptions) *HTTPBackend {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = httpclient.New(timeout, opts.Logger)
	}
	return &HTTPBackend{client: client, logger: logging.OrNop(opts.Logger)}
}

type wireRequest struct {
	TaskID      string         `json:"task_id"`
	Kind        string         `json:"kind"`
	Model       string         `json:"model"`
	Input       map[string]any `json:"input"`
	Context     map[string]any `json:"context,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature"`
}

type wireResponse struct {
	Output    json.RawMessage `json:"output"`
	UnitsUsed float64         `json:"units_used"`
	Error     string          `json:"error"`
}

// Invoke implements Backend.
func (h *HTTPBackend) Invoke(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Endpoint) == "" {
		return nil, errs.NewPermanent(fmt.Errorf("model %s has no endpoint", req.Model))
	}
	payload, err := json.Marshal(wireRequest{
		TaskID:      req.TaskID,
		Kind:        string(req.Kind),
		Model:       req.Model,
		Input:       req.Input,
		Context:     req.Context,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, errs.NewPermanent(fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.NewPermanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.TaskID != "" {
		httpReq.Header.Set("X-Task-ID", req.TaskID)
	}
	if req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", req.Model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(httpclient.ReadSnippet(resp.Body, maxErrorBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, errs.FromHTTPStatus(resp.StatusCode, fmt.Errorf("backend %s returned %d: %s", req.Model, resp.StatusCode, msg))
	}

	raw, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBody)
	if err != nil {
		if httpclient.IsResponseTooLarge(err) {
			return nil, errs.NewPermanent(fmt.Errorf("read response from %s: %w", req.Model, err))
		}
		return nil, errs.NewTransient(fmt.Errorf("read response from %s: %w", req.Model, err))
	}

	wire, err := h.decode(raw)
	if err != nil {
		return nil, errs.NewPermanent(fmt.Errorf("decode response from %s: %w", req.Model, err))
	}
	if wire.Error != "" {
		return nil, errs.NewPermanent(fmt.Errorf("%s", wire.Error))
	}

	var output any
	if len(wire.Output) > 0 {
		if err := json.Unmarshal(wire.Output, &output); err != nil {
			return nil, errs.NewPermanent(fmt.Errorf("decode output from %s: %w", req.Model, err))
		}
	}
	return &Response{Output: output, UnitsUsed: wire.UnitsUsed}, nil
}

func (h *HTTPBackend) decode(raw []byte) (wireResponse, error) {
	var wire wireResponse
	err := json.Unmarshal(raw, &wire)
	if err == nil {
		return wire, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(raw))
	if repairErr != nil {
		return wireResponse{}, err
	}
	h.logger.Debug("Repaired malformed backend response (%d bytes)", len(raw))
	wire = wireResponse{}
	if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
		return wireResponse{}, err
	}
	return wire, nil
}
