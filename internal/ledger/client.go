// Package ledger provides a thin client for the node's REST API: transaction
// broadcast, transaction lookup, public mapping reads, and a liveness probe.
//
// Reads are retried with exponential backoff; 4xx responses are treated as
// permanent. Broadcast is never transport-retried, a duplicate POST could
// burn the submission fee twice. Every call runs under a request timeout.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ShahiTechnovation/proofScore/internal/retry"
)

const (
	// DefaultNetwork is the network path segment used by the node API.
	DefaultNetwork = "testnet"

	// DefaultRequestTimeout bounds a single HTTP round trip.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultHealthTimeout bounds the liveness probe.
	DefaultHealthTimeout = 2 * time.Second

	defaultRetryAttempts = 3
	defaultRetryDelay    = 200 * time.Millisecond

	maxErrorBody = 512 // bytes of node error text kept for diagnostics
)

// Client talks to one ledger node.
type Client struct {
	baseURL    string
	network    string
	httpClient *http.Client
	logger     *slog.Logger

	retryAttempts int
	retryDelay    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (and its timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithNetwork sets the network path segment (default "testnet").
func WithNetwork(network string) Option {
	return func(c *Client) { c.network = network }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetry overrides the read-retry budget.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = baseDelay
	}
}

// NewClient creates a client for the node at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		network: DefaultNetwork,
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
		logger:        slog.Default(),
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BroadcastTransaction submits a program execution and returns the
// transaction ID assigned by the node. Exactly one attempt is made.
func (c *Client) BroadcastTransaction(ctx context.Context, req *BroadcastRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/%s/transaction/broadcast", c.network)
	if err := c.do(ctx, "broadcast", http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &RPCError{Op: "broadcast", Err: errors.New("node returned no transaction id")}
	}
	return resp.ID, nil
}

// GetTransaction fetches the current state of a transaction.
// A transaction the node does not know yet returns ErrNotFound.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	path := fmt.Sprintf("/%s/transaction/%s", c.network, url.PathEscape(id))

	err := retry.Do(ctx, c.retryAttempts, c.retryDelay, func() error {
		err := c.do(ctx, "get_transaction", http.MethodGet, path, nil, &tx)
		if err == nil {
			return nil
		}
		if statusOf(err) == http.StatusNotFound {
			return retry.Permanent(ErrNotFound)
		}
		if permanentStatus(statusOf(err)) {
			return retry.Permanent(err)
		}
		c.logger.Debug("transaction lookup retrying", "id", id, "error", err)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetMappingValue reads one key from a program's public mapping. A missing
// entry is a normal outcome and returns found=false with a nil error.
func (c *Client) GetMappingValue(ctx context.Context, program, mapping, key string) (string, bool, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/%s/program/%s/mapping/%s/%s",
		c.network, url.PathEscape(program), url.PathEscape(mapping), url.PathEscape(key))

	err := retry.Do(ctx, c.retryAttempts, c.retryDelay, func() error {
		err := c.do(ctx, "get_mapping_value", http.MethodGet, path, nil, &raw)
		if err == nil {
			return nil
		}
		// Some node versions answer 404 for a missing key instead of null.
		if statusOf(err) == http.StatusNotFound {
			raw = nil
			return nil
		}
		if permanentStatus(statusOf(err)) {
			return retry.Permanent(err)
		}
		c.logger.Debug("mapping read retrying", "program", program, "mapping", mapping, "error", err)
		return err
	})
	if err != nil {
		return "", false, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false, nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		// Unquoted scalar, e.g. a bare number.
		value = trimmed
	}
	return value, true, nil
}

// LatestHeight returns the node's latest block height.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	var height uint64
	path := fmt.Sprintf("/%s/block/height/latest", c.network)

	err := retry.Do(ctx, c.retryAttempts, c.retryDelay, func() error {
		err := c.do(ctx, "latest_height", http.MethodGet, path, nil, &height)
		if err == nil {
			return nil
		}
		if permanentStatus(statusOf(err)) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	NodeLatestHeight.Set(float64(height))
	return height, nil
}

// Health probes the node with a short deadline. A nil return means the node
// is answering block queries.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
	defer cancel()

	if _, err := c.LatestHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// do performs one HTTP round trip. Errors come back as *RPCError with the
// node's status code when it answered.
func (c *Client) do(ctx context.Context, op, method, path string, body, into any) error {
	defer observeOp(op)()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &RPCError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RPCError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RPCError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RPCError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("node returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return &RPCError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func statusOf(err error) int {
	var re *RPCError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// permanentStatus reports whether a node status should never be retried.
// 429 is transient by definition; everything else in 4xx is a caller bug.
func permanentStatus(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
