// Package proofscore implements a typed client for the proofScore service API
// This is the foundation for the proofScore SDK
package proofscore

import (
	"fmt"
	"time"
)

// Metrics is the on-ledger activity snapshot an assessment is scored from
type Metrics struct {
	Address          string  `json:"address"`
	TransactionCount int     `json:"transactionCount"`
	AccountAgeMonths int     `json:"accountAgeMonths"`
	ActivityScore    int     `json:"activityScore"`
	RepaymentRate    int     `json:"repaymentRate"`
	Balance          float64 `json:"balance"`
	LastActivity     int64   `json:"lastActivity"`
}

// FieldFallback reports a metric field that was served by its documented
// default because the source query failed
type FieldFallback struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Assessment is the deterministic score the service derived from metrics
type Assessment struct {
	Address     string    `json:"address"`
	Metrics     Metrics   `json:"metrics"`
	BaseScore   int       `json:"baseScore"`
	BonusPoints int       `json:"bonusPoints"`
	FinalScore  int       `json:"finalScore"`
	RiskTier    string    `json:"riskTier"`
	ProducedAt  time.Time `json:"producedAt"`
}

// Breakdown itemizes an assessment's points per factor
type Breakdown struct {
	Base        int `json:"base"`
	Transaction int `json:"transaction"`
	Age         int `json:"age"`
	Activity    int `json:"activity"`
	Repayment   int `json:"repayment"`
	Total       int `json:"total"`
	Max         int `json:"max"`
}

// Proof is the opaque attestation triple
type Proof struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// Commitment binds a proof to the public values it attests to
type Commitment struct {
	Hash         string    `json:"hash"`
	PublicValues []string  `json:"publicValues"`
	Proof        Proof     `json:"proof"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Record is the on-chain score entry the verifier program issued
type Record struct {
	Owner       string    `json:"owner"`
	Score       int       `json:"score"`
	Threshold   int       `json:"threshold"`
	IssuedBlock uint64    `json:"issuedBlock"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// MetricsReport is the metrics endpoint response
type MetricsReport struct {
	Address   string          `json:"address"`
	Metrics   Metrics         `json:"metrics"`
	Fallbacks []FieldFallback `json:"fallbacks,omitempty"`
}

// AssessmentReport is the assessment endpoint response
type AssessmentReport struct {
	Assessment Assessment      `json:"assessment"`
	Breakdown  Breakdown       `json:"breakdown"`
	Fallbacks  []FieldFallback `json:"fallbacks,omitempty"`
}

// AttestResult is the response of a completed attestation flow
type AttestResult struct {
	Success       bool            `json:"success"`
	Address       string          `json:"address"`
	Assessment    *Assessment     `json:"assessment,omitempty"`
	Fallbacks     []FieldFallback `json:"fallbacks,omitempty"`
	Commitment    *Commitment     `json:"commitment,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Record        *Record         `json:"record,omitempty"`
	ElapsedMs     int64           `json:"elapsedMs"`
}

// Retry guidance values carried on API errors
const (
	RetrySafetyRetry    = "retry"     // Safe to repeat the whole request
	RetrySafetyPoll     = "poll"      // Poll the transaction; do not resubmit
	RetrySafetyFixInput = "fix_input" // The request is wrong; retrying cannot help
)

// APIError is a structured error response from the service. A confirmation
// timeout carries the transaction ID so the caller can resume with
// AwaitTransaction instead of resubmitting.
type APIError struct {
	Status        int    `json:"-"`
	Code          string `json:"error"`
	Message       string `json:"message"`
	RetrySafety   string `json:"retrySafety,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether repeating the same request may succeed
func (e *APIError) Retryable() bool {
	return e.RetrySafety == RetrySafetyRetry
}
