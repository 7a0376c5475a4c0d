// Package fetch wraps outbound calls to the external JSON and XML APIs the worker
// aggregates from.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Bodies larger than this are cut off. Upstream feeds are a few hundred KB at most.
const maxBodyBytes = 16 << 20

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Status, e.URL)
}

// Observer is told about every fetch. Satisfied by [metrics.Collector].
type Observer interface {
	ObserveFetch(source string, took time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveFetch(string, time.Duration, error) {}

// Client performs outbound requests. The zero value is not usable, build one with [New].
type Client struct {
	http     *http.Client
	observer Observer
}

// New creates a client whose requests time out after timeout. obs may be nil.
func New(timeout time.Duration, obs Observer) *Client {
	if obs == nil {
		obs = noopObserver{}
	}

	return &Client{
		http:     &http.Client{Timeout: timeout},
		observer: obs,
	}
}

// Bytes GETs url and returns the body. Source labels the upstream in logs and metrics.
func (c *Client) Bytes(ctx context.Context, source, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	return c.do(req, source)
}

// JSON GETs url and decodes the body into dst.
func (c *Client) JSON(ctx context.Context, source, url string, dst any) error {
	byts, err := c.Bytes(ctx, source, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(byts, dst); err != nil {
		return fmt.Errorf("error decoding %s response: %w", source, err)
	}

	return nil
}

// PostJSON POSTs body as JSON and decodes the response into dst.
func (c *Client) PostJSON(ctx context.Context, source, url string, header http.Header, body, dst any) error {
	byts, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(byts))
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	respByts, err := c.do(req, source)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respByts, dst); err != nil {
		return fmt.Errorf("error decoding %s response: %w", source, err)
	}

	return nil
}

func (c *Client) do(req *http.Request, source string) (_ []byte, err error) {
	start := time.Now()
	defer func() {
		c.observer.ObserveFetch(source, time.Since(start), err)
		if err != nil {
			slog.WarnContext(req.Context(), "upstream fetch failed", "source", source, "url", req.URL.String(), "error", err)
		}
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &StatusError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
		}
	}

	byts, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading %s body: %w", source, err)
	}

	return byts, nil
}
