package attest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultProveLatency approximates the runtime of a real proving backend.
const DefaultProveLatency = 2 * time.Second

// defaultProveJitter widens the latency by up to this fraction per call.
const defaultProveJitter = 0.5

// Domain tags keep the four component digests independent even though they
// hash the same witness. B spans two digests, mirroring the wider second
// group element of pairing-based proofs.
const (
	tagA  = 1
	tagB0 = 2
	tagB1 = 3
	tagC  = 4
)

// SimulatedProver derives proof components by MiMC-hashing the witness over
// the bn254 scalar field, with a separate finalization per component. The
// output is deterministic for an identical witness and binds every witness
// field and public value, but it is not a real zero-knowledge proof: it
// stands in for one during development and testing, latency included.
type SimulatedProver struct {
	latency time.Duration
	jitter  float64
}

// ProverOption configures a SimulatedProver.
type ProverOption func(*SimulatedProver)

// WithProveLatency sets the base latency per Prove call. Zero disables the
// artificial delay, which tests rely on.
func WithProveLatency(d time.Duration) ProverOption {
	return func(p *SimulatedProver) { p.latency = d }
}

// WithProveJitter sets the random latency spread as a fraction of the base
// latency.
func WithProveJitter(frac float64) ProverOption {
	return func(p *SimulatedProver) { p.jitter = frac }
}

// NewSimulatedProver creates a prover with the default latency profile.
func NewSimulatedProver(opts ...ProverOption) *SimulatedProver {
	p := &SimulatedProver{
		latency: DefaultProveLatency,
		jitter:  defaultProveJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ Prover = (*SimulatedProver)(nil)

// Prove hashes the witness into the three proof components after simulating
// proving latency. Cancelling ctx during the delay aborts the call.
func (p *SimulatedProver) Prove(ctx context.Context, w *Witness, publicValues []string) (*Proof, error) {
	if w == nil {
		return nil, errors.New("attest: nil witness")
	}
	elems, err := witnessElements(w, publicValues)
	if err != nil {
		return nil, err
	}

	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	return &Proof{
		A: componentDigest(tagA, elems),
		B: componentDigest(tagB0, elems) + componentDigest(tagB1, elems),
		C: componentDigest(tagC, elems),
	}, nil
}

// simulate blocks for the configured latency or until ctx is cancelled.
func (p *SimulatedProver) simulate(ctx context.Context) error {
	d := p.latency
	if d <= 0 {
		return ctx.Err()
	}
	if p.jitter > 0 {
		d += randDuration(time.Duration(float64(d) * p.jitter))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// witnessElements encodes the witness and public values as canonical field
// elements in a fixed order.
func witnessElements(w *Witness, publicValues []string) ([]fr.Element, error) {
	nonce, err := hex.DecodeString(w.Nonce)
	if err != nil || len(nonce) == 0 {
		return nil, fmt.Errorf("attest: witness nonce must be non-empty hex, got %q", w.Nonce)
	}

	ints := []int{w.Score, w.TransactionCount, w.AccountAgeMonths, w.ActivityScore, w.RepaymentRate}
	elems := make([]fr.Element, 0, len(ints)+1+len(publicValues))
	for _, v := range ints {
		if v < 0 {
			return nil, fmt.Errorf("attest: witness value out of range: %d", v)
		}
		var e fr.Element
		e.SetUint64(uint64(v))
		elems = append(elems, e)
	}

	var n fr.Element
	n.SetBytes(nonce)
	elems = append(elems, n)

	for _, pv := range publicValues {
		elems = append(elems, stringElement(pv))
	}
	return elems, nil
}

// stringElement maps an arbitrary string into the scalar field. Truncating
// the keccak digest to 31 bytes keeps the value below the field modulus.
func stringElement(s string) fr.Element {
	digest := crypto.Keccak256([]byte(s))
	var e fr.Element
	e.SetBytes(digest[:31])
	return e
}

// componentDigest hashes the tag followed by every element. MiMC requires
// canonical 32-byte blocks, which fr.Element.Bytes guarantees.
func componentDigest(tag uint64, elems []fr.Element) string {
	h := mimc.NewMiMC()
	var t fr.Element
	t.SetUint64(tag)
	writeElement(h, &t)
	for i := range elems {
		writeElement(h, &elems[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeElement(h hash.Hash, e *fr.Element) {
	b := e.Bytes()
	_, _ = h.Write(b[:])
}

// randDuration returns a random duration in [0, span) using crypto/rand.
func randDuration(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return time.Duration(int64(v % uint64(span))) //nolint:gosec // span>0, v%span < span
}
