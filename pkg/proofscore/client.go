package proofscore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout covers the slowest call, a full attestation flow
	// (prove plus confirmation polling).
	DefaultTimeout = 60 * time.Second

	maxResponseBody = 1 << 20
	maxErrorText    = 512
)

// Client talks to one proofScore service instance
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (and its timeout)
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout sets the request timeout on the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metrics fetches the activity snapshot the service scores an account on,
// along with any per-field fallbacks that were applied.
func (c *Client) Metrics(ctx context.Context, address string) (*MetricsReport, error) {
	var report MetricsReport
	path := "/v1/accounts/" + url.PathEscape(address) + "/metrics"
	if err := c.do(ctx, http.MethodGet, path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Assess fetches metrics and scores them without touching the chain.
func (c *Client) Assess(ctx context.Context, address string) (*AssessmentReport, error) {
	var report AssessmentReport
	path := "/v1/accounts/" + url.PathEscape(address) + "/assessment"
	if err := c.do(ctx, http.MethodGet, path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// OnChainScore reads the issued score from the verifier program's public
// mapping. ok is false when no score has been issued for the address.
func (c *Client) OnChainScore(ctx context.Context, address string) (score int, ok bool, err error) {
	var resp struct {
		Score int `json:"score"`
	}
	path := "/v1/accounts/" + url.PathEscape(address) + "/score"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return resp.Score, true, nil
}

// Attest runs the full assessment pipeline for the address. signingKey may
// be empty when the service is configured with a default key. A
// CONFIRMATION_TIMEOUT error carries the transaction ID; resume it with
// AwaitTransaction rather than calling Attest again.
func (c *Client) Attest(ctx context.Context, address, signingKey string) (*AttestResult, error) {
	var body any
	if signingKey != "" {
		body = map[string]string{"signingKey": signingKey}
	}

	var result AttestResult
	path := "/v1/accounts/" + url.PathEscape(address) + "/attest"
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AwaitTransaction re-polls an in-flight attestation transaction and returns
// the issued record once the service reports it confirmed.
func (c *Client) AwaitTransaction(ctx context.Context, txID string) (*Record, error) {
	var resp struct {
		Record *Record `json:"record"`
	}
	path := "/v1/transactions/" + url.PathEscape(txID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// do performs one request. Error responses come back as *APIError with the
// HTTP status attached.
func (c *Client) do(ctx context.Context, method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("proofscore: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("proofscore: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("proofscore: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("proofscore: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
			// Not the service's error envelope (proxy page, empty body).
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = errorText(data)
		}
		return apiErr
	}

	if into != nil {
		if err := json.Unmarshal(data, into); err != nil {
			return fmt.Errorf("proofscore: decode response: %w", err)
		}
	}
	return nil
}

func errorText(data []byte) string {
	msg := strings.TrimSpace(string(data))
	if len(msg) > maxErrorText {
		msg = msg[:maxErrorText]
	}
	return msg
}
