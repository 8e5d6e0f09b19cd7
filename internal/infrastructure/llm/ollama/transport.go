package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	err = c.executor.Execute(ctx, "ollama."+operation, func(ctx context.Context) error {
		resp, err := c.do(ctx, path, body, operation)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}, resilience.ClassifyHTTP)
	return resilience.WrapTemporary("ollama "+operation, err, resilience.ClassifyHTTP)
}

// openStream retries only until response headers arrive; the caller owns the body.
func (c *Client) openStream(ctx context.Context, path string, payload any, operation string) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", operation, err)
	}

	resp, err := resilience.Call(ctx, c.executor, "ollama."+operation, func(ctx context.Context) (*http.Response, error) {
		return c.do(ctx, path, body, operation)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapTemporary("ollama "+operation, err, resilience.ClassifyHTTP)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, path string, body []byte, operation string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, resilience.NewStatusError(service, operation, resp)
	}
	return resp, nil
}
