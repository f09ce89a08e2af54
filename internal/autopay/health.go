package autopay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HealthResult is the outcome of one reachability probe
type HealthResult struct {
	Healthy    bool
	StatusCode int
	Latency    time.Duration
	CheckedAt  time.Time
	Err        error
}

// CheckHealth probes url with HEAD, falling back to GET when HEAD is not
// allowed. Any status below 500 counts as alive.
func (c *Client) CheckHealth(ctx context.Context, url string, timeout time.Duration) HealthResult {
	if timeout <= 0 {
		timeout = c.healthCheckTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := HealthResult{CheckedAt: start.UTC()}

	status, err := c.probe(ctx, http.MethodHead, url)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = c.probe(ctx, http.MethodGet, url)
	}
	result.Latency = time.Since(start)

	if err != nil {
		result.Err = err
		c.logger.Warn(fmt.Sprintf("Health check of %s failed: %v", url, err), "autopay")
		return result
	}

	result.StatusCode = status
	result.Healthy = status < http.StatusInternalServerError
	if !result.Healthy {
		result.Err = fmt.Errorf("endpoint answered %d", status)
		c.logger.Warn(fmt.Sprintf("Health check of %s returned %d", url, status), "autopay")
	}

	return result
}

func (c *Client) probe(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}
