// Package client talks to a hashfill server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fxnlabs/hashfill/internal/accel"
)

// TransformResult mirrors the server's transform response.
type TransformResult struct {
	Backend    string   `json:"backend"`
	Small      []uint32 `json:"small"`
	Large      []uint32 `json:"large"`
	DurationMs float64  `json:"durationMs"`
}

// DeviceResult mirrors the server's device response.
type DeviceResult struct {
	Backend    string           `json:"backend"`
	Device     accel.DeviceInfo `json:"device"`
	Capacities accel.Capacities `json:"capacities"`
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Client is a client for the transform endpoints.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for the server at baseURL. A nil httpClient uses
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
	}
}

// Transform sends input and returns both tables. Negative lengths let the
// server pick its full capacities.
func (c *Client) Transform(ctx context.Context, input []byte, smallLen, largeLen int) (*TransformResult, error) {
	query := url.Values{}
	if smallLen >= 0 {
		query.Set("small", strconv.Itoa(smallLen))
	}
	if largeLen >= 0 {
		query.Set("large", strconv.Itoa(largeLen))
	}
	endpoint := c.baseURL + "/v1/transform"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var result TransformResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Device returns the server's backend and device description.
func (c *Client) Device(ctx context.Context) (*DeviceResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/device", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result DeviceResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
