// Package webhook executes tasks by POSTing the entity reference to a
// platform endpoint. The endpoint owns the actual platform call; this
// handler only maps the HTTP outcome onto an ExecutionResult.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"contentflow/internal/domain"
)

type Handler struct {
	endpoint string
	client   *http.Client
}

type request struct {
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
}

type response struct {
	ExternalID  string `json:"external_id"`
	ExternalURL string `json:"external_url"`
	Error       string `json:"error,omitempty"`
}

func New(endpoint string, timeout time.Duration) *Handler {
	return &Handler{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *Handler) Execute(ctx context.Context, entityType domain.EntityType, entityID string) domain.ExecutionResult {
	start := time.Now()
	body, err := json.Marshal(request{EntityType: entityType, EntityID: entityID})
	if err != nil {
		return failure(start, "encode", err.Error(), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(start, "request", err.Error(), false)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		// Network errors and timeouts are worth another attempt.
		return failure(start, "network", err.Error(), true)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode < 300 {
		return failure(start, "decode", err.Error(), false)
	}

	switch {
	case resp.StatusCode < 300:
		return domain.ExecutionResult{
			Success:     true,
			Duration:    time.Since(start),
			ExternalID:  out.ExternalID,
			ExternalURL: out.ExternalURL,
			FinishedAt:  time.Now(),
		}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return failure(start, fmt.Sprintf("http_%d", resp.StatusCode), out.Error, true)
	default:
		return failure(start, fmt.Sprintf("http_%d", resp.StatusCode), out.Error, false)
	}
}

func failure(start time.Time, code, message string, retryable bool) domain.ExecutionResult {
	if message == "" {
		message = code
	}
	return domain.ExecutionResult{
		Success:    false,
		Duration:   time.Since(start),
		FinishedAt: time.Now(),
		Error: &domain.ExecutionError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}
