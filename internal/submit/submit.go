// Package submit drives commitments through the ledger: build the program
// execution, broadcast it, poll for confirmation, and extract the issued
// score record.
//
// A submission moves through built, broadcast, pending, and one of
// confirmed, failed, or timed out. Broadcasting is never transport-retried
// and a commitment hash that broadcast successfully once is refused on a
// second Submit: a duplicate execution would burn the fee twice. A timed
// out submission is resumed with AwaitConfirmation, not resubmitted.
package submit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ShahiTechnovation/proofScore/internal/attest"
	"github.com/ShahiTechnovation/proofScore/internal/idgen"
	"github.com/ShahiTechnovation/proofScore/internal/ledger"
	"github.com/ShahiTechnovation/proofScore/internal/retry"
	"github.com/ShahiTechnovation/proofScore/internal/validation"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidCommitment   = errors.New("submit: commitment failed verification")
	ErrInvalidAddress      = errors.New("submit: invalid address")
	ErrInvalidSigningKey   = errors.New("submit: invalid signing key")
	ErrAlreadySubmitted    = errors.New("submit: commitment already broadcast")
	ErrBroadcast           = errors.New("submit: broadcast failed")
	ErrConfirmationTimeout = errors.New("submit: confirmation timed out")
	ErrExecutionFailed     = errors.New("submit: on-chain execution failed")
)

// SubmitError wraps submission failures with context
type SubmitError struct {
	Op   string // Operation that failed
	TxID string // Transaction ID if available
	Err  error  // Underlying error
}

func (e *SubmitError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("submit: %s failed (tx: %s): %v", e.Op, e.TxID, e.Err)
	}
	return fmt.Sprintf("submit: %s failed: %v", e.Op, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Interfaces - for testability and flexibility
// -----------------------------------------------------------------------------

// Node abstracts the ledger client for testing
type Node interface {
	BroadcastTransaction(ctx context.Context, req *ledger.BroadcastRequest) (string, error)
	GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error)
	GetMappingValue(ctx context.Context, program, mapping, key string) (string, bool, error)
	Health(ctx context.Context) error
}

// Compile-time interface check
var _ Node = (*ledger.Client)(nil)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// VerifyFunction is the program entry point that checks a commitment.
	VerifyFunction = "verify_score"

	// ScoresMapping is the public mapping holding issued scores per owner.
	ScoresMapping = "scores"

	// DefaultFee is the submission fee in microcredits.
	DefaultFee = uint64(300_000)

	// DefaultConfirmInterval between transaction status checks
	DefaultConfirmInterval = 500 * time.Millisecond

	// DefaultConfirmAttempts bounds the confirmation poll (~10s total)
	DefaultConfirmAttempts = 20

	// SigningKeyLength is the total length of an account private key,
	// prefix included.
	SigningKeyLength = 59

	signingKeyPrefix = "APrivateKey1"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for creating a new submitter
type Config struct {
	Program  string // Verifier program ID, e.g. "creditproof.aleo"
	MinScore int    // Threshold passed to the verifier
	Fee      uint64 // Submission fee in microcredits (DefaultFee when zero)
}

// Option configures the submitter
type Option func(*Submitter)

// WithLogger sets the logger for submission lifecycle events
func WithLogger(l *slog.Logger) Option {
	return func(s *Submitter) { s.logger = l }
}

// WithConfirmPolicy overrides the confirmation polling schedule
func WithConfirmPolicy(p retry.Policy) Option {
	return func(s *Submitter) { s.policy = p }
}

// IssuedRecord is the on-chain score record extracted from a confirmed
// transaction's outputs.
type IssuedRecord struct {
	Owner       string    `json:"owner"`
	Score       int       `json:"score"`
	Threshold   int       `json:"threshold"`
	IssuedBlock uint64    `json:"issuedBlock"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// Submitter submits commitments and tracks which hashes already broadcast
type Submitter struct {
	node    Node
	program string
	minimum int
	fee     uint64
	policy  retry.Policy
	logger  *slog.Logger

	mu        sync.Mutex
	broadcast map[string]string // commitment hash -> transaction ID
}

// New creates a submitter over the given node
func New(node Node, cfg Config, opts ...Option) (*Submitter, error) {
	if node == nil {
		return nil, errors.New("submit: node required")
	}
	if cfg.Program == "" {
		return nil, errors.New("submit: program ID required")
	}
	if cfg.MinScore <= 0 {
		return nil, errors.New("submit: minimum score required")
	}
	if cfg.Fee == 0 {
		cfg.Fee = DefaultFee
	}

	s := &Submitter{
		node:    node,
		program: cfg.Program,
		minimum: cfg.MinScore,
		fee:     cfg.Fee,
		policy: retry.Policy{
			Interval:    DefaultConfirmInterval,
			MaxAttempts: DefaultConfirmAttempts,
		},
		logger:    slog.Default(),
		broadcast: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Submission
// -----------------------------------------------------------------------------

// Submit broadcasts a commitment and waits for it to confirm. The returned
// record is the score entry the verifier program issued on-chain.
//
// Broadcast happens at most once per commitment hash: a hash that already
// broadcast successfully returns ErrAlreadySubmitted carrying the original
// transaction ID, and a confirmation timeout leaves the hash registered so
// the caller re-polls with AwaitConfirmation instead of resubmitting.
func (s *Submitter) Submit(ctx context.Context, c *attest.Commitment, address, signingKey string) (*IssuedRecord, error) {
	if !attest.Verify(c) {
		return nil, ErrInvalidCommitment
	}
	if !validation.IsValidAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if err := validateSigningKey(signingKey); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if txID, ok := s.broadcast[c.Hash]; ok {
		s.mu.Unlock()
		return nil, &SubmitError{Op: "broadcast", TxID: txID, Err: ErrAlreadySubmitted}
	}
	s.mu.Unlock()

	subID := idgen.Submission()
	req := s.buildRequest(c, address, signingKey)
	txID, err := s.node.BroadcastTransaction(ctx, req)
	if err != nil {
		return nil, &SubmitError{Op: "broadcast", Err: fmt.Errorf("%w: %w", ErrBroadcast, err)}
	}

	// Register before polling: from here on this commitment must never
	// broadcast again, not even after a confirmation timeout.
	s.mu.Lock()
	s.broadcast[c.Hash] = txID
	s.mu.Unlock()

	s.logger.Info("commitment broadcast",
		"submission", subID,
		"txId", txID,
		"address", address,
		"program", s.program,
	)

	return s.awaitConfirmation(ctx, txID)
}

// AwaitConfirmation re-polls an in-flight transaction without resubmitting.
// Use it to resume after Submit returned ErrConfirmationTimeout.
func (s *Submitter) AwaitConfirmation(ctx context.Context, txID string) (*IssuedRecord, error) {
	if txID == "" {
		return nil, &SubmitError{Op: "confirm", Err: errors.New("transaction ID required")}
	}
	return s.awaitConfirmation(ctx, txID)
}

func (s *Submitter) awaitConfirmation(ctx context.Context, txID string) (*IssuedRecord, error) {
	var final *ledger.Transaction

	err := retry.Poll(ctx, s.policy, func() (bool, error) {
		tx, err := s.node.GetTransaction(ctx, txID)
		if err != nil {
			// Not found right after broadcast is normal propagation lag.
			if errors.Is(err, ledger.ErrNotFound) {
				s.logger.Debug("transaction not visible yet", "txId", txID)
				return false, nil
			}
			return false, err
		}
		if !tx.Status.Terminal() {
			return false, nil
		}
		final = tx
		return true, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrAttemptsExhausted) {
			err = fmt.Errorf("%w: %w", ErrConfirmationTimeout, err)
		}
		return nil, &SubmitError{Op: "confirm", TxID: txID, Err: err}
	}

	if final.Status == ledger.StatusFailed {
		return nil, &SubmitError{Op: "confirm", TxID: txID, Err: ErrExecutionFailed}
	}

	rec, err := recordFromTransaction(final)
	if err != nil {
		return nil, &SubmitError{Op: "confirm", TxID: txID, Err: err}
	}

	s.logger.Info("commitment confirmed",
		"txId", txID,
		"block", final.BlockHeight,
		"score", rec.Score,
	)
	return rec, nil
}

// TransactionFor returns the transaction ID a commitment hash broadcast as,
// if it ever broadcast successfully.
func (s *Submitter) TransactionFor(commitmentHash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.broadcast[commitmentHash]
	return id, ok
}

// FetchScore reads the issued score for an address from the public scores
// mapping. An address with no issued record is (0, false, nil), not an error.
func (s *Submitter) FetchScore(ctx context.Context, address string) (int, bool, error) {
	if !validation.IsValidAddress(address) {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	value, found, err := s.node.GetMappingValue(ctx, s.program, ScoresMapping, address)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	score, err := ledger.ParseU64(value)
	if err != nil {
		return 0, false, fmt.Errorf("submit: malformed score for %s: %w", address, err)
	}
	return int(score), true, nil
}

// CheckHealth reports whether the node answers within a short deadline
func (s *Submitter) CheckHealth(ctx context.Context) bool {
	return s.node.Health(ctx) == nil
}

// -----------------------------------------------------------------------------
// Request construction
// -----------------------------------------------------------------------------

func (s *Submitter) buildRequest(c *attest.Commitment, address, signingKey string) *ledger.BroadcastRequest {
	req := &ledger.BroadcastRequest{
		Program:  s.program,
		Function: VerifyFunction,
		Inputs: []string{
			c.Hash,
			ledger.FormatU64(uint64(s.minimum)),
		},
		Fee:    s.fee,
		Sender: address,
	}
	req.Signature = signRequest(signingKey, req)
	return req
}

// signRequest derives a stand-in signature over the canonical request
// fields. Credential lifecycle and real signing stay outside this service.
func signRequest(signingKey string, req *ledger.BroadcastRequest) string {
	digest := crypto.Keccak256(
		[]byte(signingKey),
		[]byte(req.Program),
		[]byte(req.Function),
		[]byte(strings.Join(req.Inputs, "|")),
		[]byte(req.Sender),
	)
	return "sign1" + hex.EncodeToString(digest)
}

func validateSigningKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key required", ErrInvalidSigningKey)
	}
	if !strings.HasPrefix(key, signingKeyPrefix) || len(key) != SigningKeyLength {
		return fmt.Errorf("%w: must be %s... (%d chars)", ErrInvalidSigningKey, signingKeyPrefix, SigningKeyLength)
	}
	return nil
}

// recordFromTransaction extracts the issued record from a confirmed
// transaction's outputs.
func recordFromTransaction(tx *ledger.Transaction) (*IssuedRecord, error) {
	owner, ok := tx.Outputs["owner"]
	if !ok || owner == "" {
		return nil, errors.New("confirmed transaction missing output \"owner\"")
	}

	score, err := parseU64Output(tx, "score")
	if err != nil {
		return nil, err
	}
	threshold, err := parseU64Output(tx, "threshold")
	if err != nil {
		return nil, err
	}

	issuedAt := time.Now()
	if tx.ConfirmedAt != nil {
		issuedAt = *tx.ConfirmedAt
	}

	return &IssuedRecord{
		Owner:       owner,
		Score:       int(score),
		Threshold:   int(threshold),
		IssuedBlock: tx.BlockHeight,
		IssuedAt:    issuedAt,
	}, nil
}

func parseU64Output(tx *ledger.Transaction, name string) (uint64, error) {
	raw, ok := tx.Outputs[name]
	if !ok {
		return 0, fmt.Errorf("confirmed transaction missing output %q", name)
	}
	v, err := ledger.ParseU64(raw)
	if err != nil {
		return 0, fmt.Errorf("output %q: %w", name, err)
	}
	return v, nil
}
