package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// CodeSuccess is the envelope code for a successful call.
const CodeSuccess = 200

// Business codes that mean the token is no longer usable.
const (
	CodeUnauthorized          = 401
	CodeTokenIllegal          = 4001
	CodeTokenSignatureInvalid = 4002
	CodeTokenStale            = 4003
	CodeInvalidToken          = 4204
)

// APIError represents an error from the chat API: either an HTTP failure
// (StatusCode >= 400) or a non-success envelope code.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	TraceID    string
	Body       []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("chat api error %d: %s", e.Code, e.Message)
	if e.Code == 0 {
		msg = fmt.Sprintf("chat api http error %d: %s", e.StatusCode, e.Message)
	}
	if e.TraceID != "" {
		msg += " (trace " + e.TraceID + ")"
	}
	return msg
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsAuthError reports whether the server rejected the token.
func (e *APIError) IsAuthError() bool {
	if e.StatusCode == http.StatusUnauthorized {
		return true
	}
	switch e.Code {
	case CodeUnauthorized, CodeTokenIllegal, CodeTokenSignatureInvalid, CodeTokenStale, CodeInvalidToken:
		return true
	}
	return false
}

// IsAuthError reports whether err wraps an APIError for a rejected token.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuthError()
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

// doRequest performs an HTTP request with the given method and path. A
// non-nil body is sent as JSON.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Msg != "" {
			apiErr.Code = env.Code
			apiErr.Message = env.Msg
			apiErr.TraceID = env.TraceID
		}
		return nil, apiErr
	}

	return respBody, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			var jitter time.Duration
			if backoff > 0 {
				jitter = backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			}
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		respBody, err := c.doRequest(ctx, method, path, query, body)
		if err == nil {
			return respBody, nil
		}

		lastErr = err

		// Check if error is retryable
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// call performs a request, unwraps the envelope and decodes data into result.
// result may be nil when the payload is ignored.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, result any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	respBody, err := c.doWithRetry(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if env.Code != CodeSuccess {
		return &APIError{
			StatusCode: http.StatusOK,
			Code:       env.Code,
			Message:    env.Msg,
			TraceID:    env.TraceID,
			Body:       respBody,
		}
	}

	if result == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.call(ctx, http.MethodGet, path, query, nil, result)
}

// post performs a POST request with a JSON body and retries.
func (c *Client) post(ctx context.Context, path string, in, result any) error {
	return c.call(ctx, http.MethodPost, path, nil, in, result)
}
