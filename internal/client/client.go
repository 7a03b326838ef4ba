// Package client talks to the mock-test HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeeprep/mocktest/internal/attempt"
	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/report"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string // message id, e.g. ErrGone
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the server's message id back to the model sentinel so
// callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "ErrNotFound":
		return model.ErrNotFound
	case "ErrGone":
		return model.ErrGone
	case "ErrAttemptClosed":
		return model.ErrAttemptClosed
	case "ErrPoolExhausted":
		return model.ErrPoolExhausted
	case "ErrStaleSnapshot":
		return model.ErrStaleSnapshot
	case "ErrReportNotReady":
		return model.ErrReportNotReady
	case "ErrUnknownQuestion":
		return model.ErrUnknownQuestion
	case "ErrInvalidInput":
		return model.ErrInvalidInput
	}
	return nil
}

// Client is a JSON client for one server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Lang is sent as Accept-Language when set.
	Lang string
}

// New returns a Client for baseURL with a bounded request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// StartResponse is the body returned by a successful start.
type StartResponse struct {
	attempt.StartResult
	Message string `json:"message"`
}

// SubmitResponse is the body returned by a successful submit.
type SubmitResponse struct {
	attempt.SubmitResult
	Message string `json:"message"`
}

// Start creates a new attempt.
func (c *Client) Start(ctx context.Context, req attempt.StartRequest) (*StartResponse, error) {
	var out StartResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/mock-tests/start", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Questions fetches the sanitized paper and saved state.
func (c *Client) Questions(ctx context.Context, attemptID string) (*attempt.Paper, error) {
	var out attempt.Paper
	if err := c.do(ctx, http.MethodGet, "/api/v1/attempts/"+attemptID+"/questions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Answer saves a single answer.
func (c *Client) Answer(ctx context.Context, attemptID string, in attempt.AnswerInput) error {
	return c.do(ctx, http.MethodPost, "/api/v1/attempts/"+attemptID+"/answer", in, nil)
}

// Autosave stores a full client snapshot.
func (c *Client) Autosave(ctx context.Context, attemptID string, snap model.Snapshot) error {
	return c.do(ctx, http.MethodPost, "/api/v1/attempts/"+attemptID+"/autosave", snap, nil)
}

// Submit finalizes the attempt with the client's final answers.
func (c *Client) Submit(ctx context.Context, attemptID string, final map[string]model.FinalAnswer) (*SubmitResponse, error) {
	body := struct {
		Answers map[string]model.FinalAnswer `json:"answers"`
	}{Answers: final}
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/attempts/"+attemptID+"/submit", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Report fetches the scored report for a report token.
func (c *Client) Report(ctx context.Context, token string) (*report.Report, error) {
	var out report.Report
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/"+token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Lang != "" {
		req.Header.Set("Accept-Language", c.Lang)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return httpErr(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func httpErr(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}

// IsRetryable reports whether err is a pool-exhausted response worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrPoolExhausted)
}
