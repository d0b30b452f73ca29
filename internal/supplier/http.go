package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rewired-gh/polyedge/internal/logger"
)

// httpClient is the shared JSON GET client with linear-backoff retry.
type httpClient struct {
	name       string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

func newHTTPClient(name string, timeout time.Duration, maxRetries int, retryDelay time.Duration) httpClient {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return httpClient{
		name:       name,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// getJSON fetches urlStr and decodes the body into out. Server errors and
// transport failures are retried; quota and client errors are not.
func (c httpClient) getJSON(ctx context.Context, urlStr string, out any) error {
	resp, err := c.doRequest(ctx, urlStr)
	if err != nil {
		return wrap(c.name, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrap(c.name, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c httpClient) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, time.Duration(i)*c.retryDelay); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Debug("%s request failed (attempt %d/%d): %v", c.name, i+1, c.maxRetries, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}

		if resp.StatusCode >= 500 && !isQuotaBody(serr.body) {
			lastErr = serr
			logger.Debug("%s server error (attempt %d/%d): %v", c.name, i+1, c.maxRetries, serr)
			continue
		}
		return nil, serr
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isQuotaBody(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "quota") || strings.Contains(b, "resource_exhausted") || strings.Contains(b, "rate limit")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
