// Package attest turns credit assessments into privacy-preserving
// commitments.
//
// A commitment carries a proof object with three opaque components, the
// declared public values, and a hash binding the three together. The raw
// metrics enter the witness and never leave the process; only the final
// score, the assessment timestamp, and the address are declared public.
// Every generation embeds a fresh nonce, so two commitments over the same
// assessment are never identical.
//
// The proving system itself sits behind the Prover interface. The bundled
// SimulatedProver stands in for a real backend with the same latency
// profile and binding behavior.
package attest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ShahiTechnovation/proofScore/internal/idgen"
	"github.com/ShahiTechnovation/proofScore/internal/scoring"
	"github.com/ShahiTechnovation/proofScore/internal/validation"
)

var (
	// ErrProve wraps proving backend failures.
	ErrProve = errors.New("attest: proving failed")

	// ErrCommitmentInvalid marks a commitment that failed structural
	// verification. Such a commitment must never reach broadcast.
	ErrCommitmentInvalid = errors.New("attest: commitment failed verification")
)

// NonceBytes is the size of the random nonce embedded in every witness.
const NonceBytes = 16

// hashHexLen is the length of a hex-encoded keccak256 digest.
const hashHexLen = 64

// Proof is an opaque proving-system artifact. The components are
// hex-encoded and meaningful only to the verifier program.
type Proof struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// Commitment is what gets submitted on-chain in place of the raw metrics.
type Commitment struct {
	Hash         string    `json:"hash"`         // keccak256 over the proof components
	PublicValues []string  `json:"publicValues"` // ordered: finalScore, producedAt unix, address
	Proof        Proof     `json:"proof"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Witness is the private prover input. It stays inside the process; the
// commitment exposes only what PublicValues declares.
type Witness struct {
	Score            int
	TransactionCount int
	AccountAgeMonths int
	ActivityScore    int
	RepaymentRate    int
	Nonce            string // NonceBytes random bytes, hex-encoded
}

// Prover produces the proof components for a witness. Implementations must
// be deterministic for an identical witness (nonce included), honor ctx
// cancellation, and may take seconds per call.
type Prover interface {
	Prove(ctx context.Context, w *Witness, publicValues []string) (*Proof, error)
}

// Generator builds commitments from assessments.
type Generator struct {
	prover Prover
	logger *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorLogger sets the logger for proving diagnostics.
func WithGeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a generator over the given prover.
func NewGenerator(p Prover, opts ...GeneratorOption) *Generator {
	g := &Generator{
		prover: p,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds the witness for an assessment, runs the prover, and seals
// the result into a commitment. Proving is the slow step of the whole
// pipeline; the ctx deadline applies to it.
func (g *Generator) Generate(ctx context.Context, a *scoring.Assessment) (*Commitment, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil assessment", ErrProve)
	}

	w := &Witness{
		Score:            a.FinalScore,
		TransactionCount: a.Metrics.TransactionCount,
		AccountAgeMonths: a.Metrics.AccountAgeMonths,
		ActivityScore:    a.Metrics.ActivityScore,
		RepaymentRate:    a.Metrics.RepaymentRate,
		Nonce:            idgen.Hex(NonceBytes),
	}
	public := []string{
		strconv.Itoa(a.FinalScore),
		strconv.FormatInt(a.ProducedAt.Unix(), 10),
		a.Address,
	}

	start := time.Now()
	proof, err := g.prover.Prove(ctx, w, public)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProve, err)
	}
	g.logger.Debug("proof generated",
		"address", a.Address,
		"duration", time.Since(start),
	)

	return &Commitment{
		Hash:         commitmentHash(proof),
		PublicValues: public,
		Proof:        *proof,
		CreatedAt:    time.Now(),
	}, nil
}

// Verify runs the structural gate every commitment must pass before
// submission: a well-formed hash that matches the proof components, all
// three components present, and at least one declared public value.
// It does not re-run the proving system.
func Verify(c *Commitment) bool {
	if c == nil {
		return false
	}
	if len(c.Hash) != hashHexLen || !validation.IsValidHex(c.Hash) {
		return false
	}
	if c.Proof.A == "" || c.Proof.B == "" || c.Proof.C == "" {
		return false
	}
	if len(c.PublicValues) == 0 {
		return false
	}
	return c.Hash == commitmentHash(&c.Proof)
}

// commitmentHash binds the three proof components into one digest.
func commitmentHash(p *Proof) string {
	digest := crypto.Keccak256([]byte(p.A), []byte(p.B), []byte(p.C))
	return fmt.Sprintf("%x", digest)
}
