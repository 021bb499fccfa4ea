package scoring

import (
	"errors"
	"testing"
	"time"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
)

const testAddr = "aleo1rhgdu77hgyqd3xjcrgt9v3sqyzdtmvzr662t5xcj8pv8hrlh9yxqychn2f"

func metricsWith(txns, age, act, rep int) *activity.Metrics {
	return &activity.Metrics{
		Address:          testAddr,
		TransactionCount: txns,
		AccountAgeMonths: age,
		ActivityScore:    act,
		RepaymentRate:    rep,
	}
}

func TestCalculateZeroMetrics(t *testing.T) {
	engine := NewEngine()

	a, err := engine.Calculate(metricsWith(0, 0, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.FinalScore != BaseScore {
		t.Errorf("zero metrics should score the base %d, got %d", BaseScore, a.FinalScore)
	}
	if a.BonusPoints != 0 {
		t.Errorf("zero metrics should earn no bonus, got %d", a.BonusPoints)
	}
	if a.RiskTier != TierHigh {
		t.Errorf("base score should be TierHigh, got %s", a.RiskTier)
	}
}

func TestCalculateMidRange(t *testing.T) {
	engine := NewEngine()

	// txns: 5*(20-10)=50, age: 10*6=60, activity: 3*(40-20)=60, repayment: 2*(80-75)=10
	a, err := engine.Calculate(metricsWith(20, 6, 40, 80))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.BonusPoints != 180 {
		t.Errorf("expected 180 bonus points, got %d", a.BonusPoints)
	}
	if a.FinalScore != 480 {
		t.Errorf("expected final score 480, got %d", a.FinalScore)
	}
	if a.RiskTier != TierHigh {
		t.Errorf("480 should be TierHigh, got %s", a.RiskTier)
	}
}

func TestCalculateSaturating(t *testing.T) {
	engine := NewEngine()

	// Every factor past its cap: the per-factor caps bind well before the
	// 850 ceiling. 100+100+100+50 = 350 bonus.
	a, err := engine.Calculate(metricsWith(50, 24, 80, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.BonusPoints != 350 {
		t.Errorf("expected 350 bonus points, got %d", a.BonusPoints)
	}
	if a.FinalScore != 650 {
		t.Errorf("expected final score 650, got %d", a.FinalScore)
	}
	if a.RiskTier != TierMedium {
		t.Errorf("650 should be TierMedium, got %s", a.RiskTier)
	}
}

func TestAgeBonusUsesFullMonths(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		months int
		want   int // final score with only age contributing
	}{
		{0, 300},
		{3, 300},  // At the threshold: nothing
		{4, 340},  // One month past: rate applies to all 4 months
		{7, 370},
		{10, 400}, // 10*10 hits the cap exactly
		{24, 400},
	}

	for _, tc := range tests {
		a, err := engine.Calculate(metricsWith(0, tc.months, 0, 0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.FinalScore != tc.want {
			t.Errorf("age %d months: final score %d, want %d", tc.months, a.FinalScore, tc.want)
		}
	}
}

func TestThresholdsAreStrict(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name    string
		metrics *activity.Metrics
		bonus   int
	}{
		{"txns at threshold", metricsWith(10, 0, 0, 0), 0},
		{"txns one above", metricsWith(11, 0, 0, 0), 5},
		{"activity at threshold", metricsWith(0, 0, 20, 0), 0},
		{"activity one above", metricsWith(0, 0, 21, 0), 3},
		{"repayment at threshold", metricsWith(0, 0, 0, 75), 0},
		{"repayment one above", metricsWith(0, 0, 0, 76), 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := engine.Calculate(tc.metrics)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.BonusPoints != tc.bonus {
				t.Errorf("bonus %d, want %d", a.BonusPoints, tc.bonus)
			}
		})
	}
}

func TestTierOf(t *testing.T) {
	tests := []struct {
		score int
		tier  RiskTier
	}{
		{300, TierHigh},
		{499, TierHigh},
		{500, TierMedium},
		{649, TierMedium},
		{749, TierMedium},
		{750, TierLow},
		{850, TierLow},
	}

	for _, tc := range tests {
		result := tierOf(tc.score)
		if result != tc.tier {
			t.Errorf("tierOf(%d) = %s, expected %s", tc.score, result, tc.tier)
		}
	}
}

func TestCustomPolicyReachesCeiling(t *testing.T) {
	// The production caps top out at 650. A richer table must still be
	// clamped at the ceiling and classify as low risk.
	p := DefaultPolicy
	p.Repayment.Cap = 600

	engine := NewEngineWithPolicy(p)

	a, err := engine.Calculate(metricsWith(50, 24, 80, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.BonusPoints != 350 { // repayment excess is only 2*25=50, cap irrelevant
		t.Errorf("expected 350 bonus points, got %d", a.BonusPoints)
	}

	p.Repayment.Rate = 30 // 30*25 = 750, capped to 600
	engine = NewEngineWithPolicy(p)
	a, err = engine.Calculate(metricsWith(50, 24, 80, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.BonusPoints != 900 {
		t.Errorf("expected 900 bonus points, got %d", a.BonusPoints)
	}
	if a.FinalScore != MaxScore {
		t.Errorf("expected score clamped to %d, got %d", MaxScore, a.FinalScore)
	}
	if a.RiskTier != TierLow {
		t.Errorf("ceiling score should be TierLow, got %s", a.RiskTier)
	}
}

func TestCalculateRejectsOutOfRange(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name    string
		metrics *activity.Metrics
	}{
		{"negative transactions", metricsWith(-1, 0, 0, 0)},
		{"negative age", metricsWith(0, -1, 0, 0)},
		{"activity below range", metricsWith(0, 0, -1, 0)},
		{"activity above range", metricsWith(0, 0, 101, 0)},
		{"repayment below range", metricsWith(0, 0, 0, -1)},
		{"repayment above range", metricsWith(0, 0, 0, 101)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Calculate(tc.metrics)
			if !errors.Is(err, ErrInvalidMetrics) {
				t.Errorf("expected ErrInvalidMetrics, got %v", err)
			}
		})
	}

	if _, err := engine.Calculate(nil); !errors.Is(err, ErrInvalidMetrics) {
		t.Errorf("nil metrics should be rejected, got %v", err)
	}

	// Range endpoints are valid.
	if _, err := engine.Calculate(metricsWith(0, 0, 100, 100)); err != nil {
		t.Errorf("boundary values should validate, got %v", err)
	}

	neg := metricsWith(5, 5, 50, 50)
	neg.Balance = -0.01
	if _, err := engine.Calculate(neg); !errors.Is(err, ErrInvalidMetrics) {
		t.Errorf("negative balance should be rejected, got %v", err)
	}
}

func TestBreakdownMatchesCalculate(t *testing.T) {
	engine := NewEngine()

	cases := []*activity.Metrics{
		metricsWith(0, 0, 0, 0),
		metricsWith(20, 6, 40, 80),
		metricsWith(50, 24, 80, 100),
		metricsWith(11, 4, 21, 76),
	}

	for _, m := range cases {
		a, err := engine.Calculate(m)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		b := engine.Breakdown(a)
		sum := b.Transaction + b.Age + b.Activity + b.Repayment
		if sum != a.BonusPoints {
			t.Errorf("breakdown components sum to %d, assessment has %d", sum, a.BonusPoints)
		}
		if b.Total != a.FinalScore {
			t.Errorf("breakdown total %d, assessment final %d", b.Total, a.FinalScore)
		}
		if b.Base != BaseScore || b.Max != MaxScore {
			t.Errorf("breakdown range [%d, %d], want [%d, %d]", b.Base, b.Max, BaseScore, MaxScore)
		}
	}
}

func TestCalculateDeterministic(t *testing.T) {
	engine := NewEngine()
	m := metricsWith(33, 9, 57, 91)

	first, err := engine.Calculate(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.Calculate(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.FinalScore != second.FinalScore || first.BonusPoints != second.BonusPoints || first.RiskTier != second.RiskTier {
		t.Errorf("identical metrics produced different assessments: %+v vs %+v", first, second)
	}
}

func TestAssessmentOwnsMetricsCopy(t *testing.T) {
	engine := NewEngine()
	m := metricsWith(20, 6, 40, 80)

	a, err := engine.Calculate(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.TransactionCount = 999
	if a.Metrics.TransactionCount != 20 {
		t.Error("assessment should hold its own copy of the metrics")
	}
}

func TestProducedAtSet(t *testing.T) {
	engine := NewEngine()

	before := time.Now()
	a, err := engine.Calculate(metricsWith(1, 1, 1, 1))
	after := time.Now()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.ProducedAt.Before(before) || a.ProducedAt.After(after) {
		t.Error("ProducedAt should be set to current time")
	}
}
