package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNotFound    = errors.New("ledger: transaction not found")
	ErrUnavailable = errors.New("ledger: node unavailable")
)

// RPCError wraps node call failures with context
type RPCError struct {
	Op         string // Operation that failed
	StatusCode int    // HTTP status if the node answered
	Err        error  // Underlying error
}

func (e *RPCError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ledger: %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Status is the lifecycle state of a transaction on the node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Transaction is the node's view of a broadcast transaction.
// BlockHeight and ConfirmedAt are set only once confirmed; Outputs carries
// the program's public outputs keyed by output name.
type Transaction struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	BlockHeight uint64            `json:"blockHeight,omitempty"`
	ConfirmedAt *time.Time        `json:"confirmedAt,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
}

// BroadcastRequest describes one program execution to broadcast.
type BroadcastRequest struct {
	Program   string   `json:"program"`
	Function  string   `json:"function"`
	Inputs    []string `json:"inputs"`
	Fee       uint64   `json:"fee"`
	Sender    string   `json:"sender"`
	Signature string   `json:"signature"`
}

// -----------------------------------------------------------------------------
// Typed literals
// -----------------------------------------------------------------------------

// FormatU64 renders a value as the node's typed integer literal, e.g. "650u64".
func FormatU64(v uint64) string {
	return strconv.FormatUint(v, 10) + "u64"
}

// ParseU64 parses a typed integer literal ("650u64"). A bare integer is
// accepted too; mapping values come back in either form depending on the
// node version.
func ParseU64(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "u64")
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger: malformed u64 literal %q", s)
	}
	return v, nil
}
