package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotConfigured is returned by agents that lack credentials.
var ErrNotConfigured = errors.New("agent not configured")

// ErrNotFound is returned when a remote service has no record for the lookup.
var ErrNotFound = errors.New("no matching record")

// HTTPError carries a non-2xx response status.
type HTTPError struct {
	Service string
	Status  int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Service, e.Status)
}

// ClientOptions configures the shared JSON client used by agents.
type ClientOptions struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// jsonClient issues rate limited GET requests and decodes JSON bodies.
type jsonClient struct {
	service   string
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

func newJSONClient(service string, opts ClientOptions) *jsonClient {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &jsonClient{
		service:   service,
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (c *jsonClient) getJSON(ctx context.Context, url string, dst interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.service, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, resp.Body)
		return &HTTPError{Service: c.service, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s decode: %w", c.service, err)
	}
	return nil
}
