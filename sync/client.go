// Package sync moves operations from the device to the server and server
// deltas back to the device. The Engine drains the operation log into
// batches, submits them through Client, reconciles the per-operation report,
// and merges remote records into the local store.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fitsync/record"
)

// identityHeader carries the authenticated user identity on every request.
const identityHeader = "x-user-id"

// Client talks to the remote sync endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the endpoint at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// HTTPError is a non-2xx response from the sync endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("sync endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// SubmitBatch POSTs a batch of operations and returns the server's
// per-operation report. Any transport failure or non-2xx status is returned
// as an error; callers treat those as retryable.
func (c *Client) SubmitBatch(ctx context.Context, identity string, batch record.BatchRequest) (*record.BatchResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(identityHeader, identity)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var report record.BatchResponse
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	return &report, nil
}

// Fetch retrieves the caller's records updated since the given time. A nil
// since fetches everything.
func (c *Client) Fetch(ctx context.Context, identity string, since *time.Time) (*record.FetchResponse, error) {
	q := url.Values{"action": {"fetch"}}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}

	var out record.FetchResponse
	if err := c.get(ctx, identity, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status retrieves the server-side sync status.
func (c *Client) Status(ctx context.Context, identity string) (*record.StatusResponse, error) {
	q := url.Values{"action": {"status"}}
	var out record.StatusResponse
	if err := c.get(ctx, identity, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, identity string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sync?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set(identityHeader, identity)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return json.Unmarshal(data, out)
}
