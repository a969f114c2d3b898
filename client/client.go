// Package client implements the marketplace HTTP client. Fetches are
// retried with bounded exponential backoff so a flaky upstream costs a
// cycle only when every attempt fails.
package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goware/urlx"
	"github.com/pkg/errors"

	"github.com/rentwatch/rentwatch/api"
)

const (
	requestTimeout = 30 * time.Second

	retryAttempts = 3
	retryBase     = 2 * time.Second
	retryCap      = 30 * time.Second
)

// Client is a marketplace HTTP client bound to a single account.
type Client struct {
	baseURL url.URL
	apiKey  string

	httpClient *http.Client

	// sleep is replaceable so tests can retry without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the given base address and API key.
func NewClient(address string, apiKey string) (*Client, error) {
	u, err := urlx.ParseWithDefaultScheme(address, "https")
	if err != nil {
		return nil, err
	}

	if u.Opaque != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return nil, errors.New("address must be in the form [scheme://]host[:port][/path]")
	}

	return &Client{
		baseURL:    *u,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		sleep:      sleepCtx,
	}, nil
}

// Address returns the client's base address.
func (c *Client) Address() string {
	return c.baseURL.String()
}

// sendRequest issues one request with retry. Retriable failures back off
// exponentially from retryBase up to retryCap; the last error is returned
// when every attempt fails.
func (c *Client) sendRequest(
	ctx context.Context,
	method string,
	path string,
	query map[string]string,
) (*http.Response, error) {
	var q url.Values
	if len(query) != 0 {
		q = url.Values{}
		for k, v := range query {
			q.Add(k, v)
		}
	}

	u := c.baseURL
	u.Path = u.Path + path
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if len(c.apiKey) > 0 {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if err := errorFromResponse(resp); err != nil {
			safeClose(resp.Body)
			lastErr = err
			if !api.IsRetriable(err) {
				return nil, err
			}
			continue
		}
		return resp, nil
	}
	return nil, errors.WithMessagef(lastErr, "request failed after %d attempts", retryAttempts)
}

// backoff returns the wait before retry number n, doubling from retryBase
// and capped at retryCap.
func backoff(n int) time.Duration {
	d := retryBase << (n - 1)
	if d > retryCap {
		return retryCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errorFromResponse creates an error from an HTTP response, or nil on success.
func errorFromResponse(resp *http.Response) error {
	// Anything less than 400 isn't an error, so don't produce one.
	if resp.StatusCode < 400 {
		return nil
	}

	bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Errorf("failed to read response: %v", err)
	}

	apiErr := api.Error{Code: resp.StatusCode}
	// The upstream error body is JSON on good days; keep the raw text
	// otherwise.
	if err := json.Unmarshal(bytes, &apiErr); err != nil {
		apiErr.Message = string(bytes)
	}
	if apiErr.Code == 0 {
		apiErr.Code = resp.StatusCode
	}
	return apiErr
}

// parseResponse parses the response body and stores the result in the given
// value, which should be a pointer to the desired structure.
func parseResponse(resp *http.Response, value interface{}) error {
	bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, value)
}

// safeClose closes an object while safely handling nils.
func safeClose(closer io.Closer) {
	if closer == nil {
		return
	}
	_ = closer.Close()
}
