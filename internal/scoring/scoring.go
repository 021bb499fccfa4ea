// Package scoring implements deterministic credit assessment over account
// activity metrics.
//
// The score is built from an immutable base plus independent per-factor
// bonuses:
// - Transaction count (sustained usage)
// - Account age (time on the ledger)
// - Activity score (recent engagement)
// - Repayment rate (debt behavior, weighted highest)
//
// Each bonus is capped before summing, the final score is clamped to the
// credit range, and the risk tier is derived from the final score alone.
// Identical metrics always produce an identical score.
package scoring

import (
	"errors"
	"fmt"
	"time"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
)

// ErrInvalidMetrics indicates a metrics field outside its documented range.
// Scoring never clamps bad input into range; the caller gets this instead.
var ErrInvalidMetrics = errors.New("scoring: invalid metrics")

// Score range constants.
const (
	BaseScore = 300 // Floor: every valid account starts here
	MaxScore  = 850 // Ceiling after all bonuses
)

// Assessment is the outcome of scoring one account's metrics.
type Assessment struct {
	Address     string           `json:"address"`
	Metrics     activity.Metrics `json:"metrics"`
	BaseScore   int              `json:"baseScore"`
	BonusPoints int              `json:"bonusPoints"`
	FinalScore  int              `json:"finalScore"` // BaseScore..MaxScore
	RiskTier    RiskTier         `json:"riskTier"`
	ProducedAt  time.Time        `json:"producedAt"`
}

// RiskTier classifies a final score for downstream consumers.
type RiskTier string

const (
	TierLow    RiskTier = "low"    // 750-850: prime
	TierMedium RiskTier = "medium" // 500-749: acceptable
	TierHigh   RiskTier = "high"   // 300-499: subprime
)

// Breakdown shows how each factor contributed to an assessment.
type Breakdown struct {
	Base        int `json:"base"`
	Transaction int `json:"transaction"`
	Age         int `json:"age"`
	Activity    int `json:"activity"`
	Repayment   int `json:"repayment"`
	Total       int `json:"total"`
	Max         int `json:"max"`
}

// FactorPolicy defines one bonus factor: no bonus at or below Threshold,
// Rate points per unit once above it, never more than Cap.
type FactorPolicy struct {
	Threshold int
	Rate      int
	Cap       int
}

// Policy holds the bonus factors for all four metrics.
type Policy struct {
	Transaction FactorPolicy
	Age         FactorPolicy
	Activity    FactorPolicy
	Repayment   FactorPolicy
}

// DefaultPolicy is the production scoring table.
//
// The age bonus applies its rate to the full month count once the account
// is past the threshold, not to the excess: 3 months earns 0, 4 months
// earns 40. Every other factor pays on the excess above its threshold.
var DefaultPolicy = Policy{
	Transaction: FactorPolicy{Threshold: 10, Rate: 5, Cap: 100}, // 11 txns = 5, 30 txns = 100
	Age:         FactorPolicy{Threshold: 3, Rate: 10, Cap: 100}, // 4 months = 40, 10+ months = 100
	Activity:    FactorPolicy{Threshold: 20, Rate: 3, Cap: 100}, // 21 = 3, 54+ = 100
	Repayment:   FactorPolicy{Threshold: 75, Rate: 2, Cap: 150}, // 80 = 10, 100 = 50
}

// Engine computes assessments. It is stateless and safe for concurrent use.
type Engine struct {
	policy Policy
}

// NewEngine creates an engine with the production policy.
func NewEngine() *Engine {
	return &Engine{policy: DefaultPolicy}
}

// NewEngineWithPolicy creates an engine with a custom scoring table.
func NewEngineWithPolicy(p Policy) *Engine {
	return &Engine{policy: p}
}

// Calculate validates metrics and produces an assessment.
// Validation happens before any arithmetic; out-of-range input is an
// upstream data bug and is never silently corrected.
func (e *Engine) Calculate(m *activity.Metrics) (*Assessment, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil metrics", ErrInvalidMetrics)
	}
	if err := validate(m); err != nil {
		return nil, err
	}

	bonus := e.transactionBonus(m.TransactionCount) +
		e.ageBonus(m.AccountAgeMonths) +
		e.activityBonus(m.ActivityScore) +
		e.repaymentBonus(m.RepaymentRate)

	final := BaseScore + bonus
	if final > MaxScore {
		final = MaxScore
	}

	return &Assessment{
		Address:     m.Address,
		Metrics:     *m,
		BaseScore:   BaseScore,
		BonusPoints: bonus,
		FinalScore:  final,
		RiskTier:    tierOf(final),
		ProducedAt:  time.Now(),
	}, nil
}

// Breakdown recomputes the per-factor contributions for an assessment
// from its captured metrics, using the same bonus arithmetic as Calculate.
func (e *Engine) Breakdown(a *Assessment) *Breakdown {
	m := a.Metrics
	b := &Breakdown{
		Base:        BaseScore,
		Transaction: e.transactionBonus(m.TransactionCount),
		Age:         e.ageBonus(m.AccountAgeMonths),
		Activity:    e.activityBonus(m.ActivityScore),
		Repayment:   e.repaymentBonus(m.RepaymentRate),
		Max:         MaxScore,
	}
	b.Total = BaseScore + b.Transaction + b.Age + b.Activity + b.Repayment
	if b.Total > MaxScore {
		b.Total = MaxScore
	}
	return b
}

func validate(m *activity.Metrics) error {
	if m.TransactionCount < 0 {
		return fmt.Errorf("%w: transactionCount must be non-negative, got %d", ErrInvalidMetrics, m.TransactionCount)
	}
	if m.AccountAgeMonths < 0 {
		return fmt.Errorf("%w: accountAgeMonths must be non-negative, got %d", ErrInvalidMetrics, m.AccountAgeMonths)
	}
	if m.ActivityScore < 0 || m.ActivityScore > 100 {
		return fmt.Errorf("%w: activityScore must be within [0, 100], got %d", ErrInvalidMetrics, m.ActivityScore)
	}
	if m.RepaymentRate < 0 || m.RepaymentRate > 100 {
		return fmt.Errorf("%w: repaymentRate must be within [0, 100], got %d", ErrInvalidMetrics, m.RepaymentRate)
	}
	if m.Balance < 0 {
		return fmt.Errorf("%w: balance must be non-negative, got %f", ErrInvalidMetrics, m.Balance)
	}
	return nil
}

func (e *Engine) transactionBonus(count int) int {
	return excessBonus(e.policy.Transaction, count)
}

// ageBonus pays on the full month count once past the threshold.
func (e *Engine) ageBonus(months int) int {
	p := e.policy.Age
	if months <= p.Threshold {
		return 0
	}
	return capped(p.Rate*months, p.Cap)
}

func (e *Engine) activityBonus(score int) int {
	return excessBonus(e.policy.Activity, score)
}

func (e *Engine) repaymentBonus(rate int) int {
	return excessBonus(e.policy.Repayment, rate)
}

// excessBonus pays Rate points per unit above Threshold, up to Cap.
func excessBonus(p FactorPolicy, value int) int {
	if value <= p.Threshold {
		return 0
	}
	return capped(p.Rate*(value-p.Threshold), p.Cap)
}

func capped(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}

func tierOf(score int) RiskTier {
	switch {
	case score >= 750:
		return TierLow
	case score >= 500:
		return TierMedium
	default:
		return TierHigh
	}
}
