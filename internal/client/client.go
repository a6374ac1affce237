package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"payment_verification_gateway/internal/model"
)

const cancelTimeout = 5 * time.Second

// Client talks to the verification gateway over HTTP. It satisfies
// waitflow.Verifier.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a client for baseURL. The start call stays open until the
// server resolves the session, so the underlying client has no overall
// timeout; callers bound it with their context.
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: logger,
	}
}

func (c *Client) Start(ctx context.Context, req model.StartRequest) (model.Result, error) {
	var result model.Result
	if err := c.post(ctx, "/start-verification", req, &result); err != nil {
		return model.Result{}, fmt.Errorf("failed to start verification: %w", err)
	}

	switch {
	case result.Success:
		result.Status = model.StatusMatched
	case result.Cancelled:
		result.Status = model.StatusCancelled
	default:
		result.Status = model.StatusTimedOut
	}
	return result, nil
}

func (c *Client) Cancel(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()

	var resp model.CancelResponse
	if err := c.post(ctx, "/cancel-verification", model.CancelRequest{SessionID: sessionID}, &resp); err != nil {
		return false, fmt.Errorf("failed to cancel verification: %w", err)
	}
	return resp.Cancelled, nil
}

// APIError is a non-2xx answer from the gateway
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(raw))
		}
		c.logger.Warn("gateway request rejected", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("error", apiErr.Error))
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
