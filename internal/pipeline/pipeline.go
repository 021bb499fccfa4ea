// Package pipeline orchestrates the full credit attestation flow: fetch
// activity metrics, score them, generate a privacy-preserving commitment,
// and submit it to the ledger.
//
// An Orchestrator owns one session at a time: Init installs the active
// address, the step functions share the session's intermediate products, and
// Reset clears everything. RunFullFlow executes the steps in order under one
// lock, so concurrent runs serialize. Every failure comes back as a typed
// *Error whose code tells the caller whether to retry, re-poll, or fix
// input.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
	"github.com/ShahiTechnovation/proofScore/internal/attest"
	"github.com/ShahiTechnovation/proofScore/internal/idgen"
	"github.com/ShahiTechnovation/proofScore/internal/metrics"
	"github.com/ShahiTechnovation/proofScore/internal/scoring"
	"github.com/ShahiTechnovation/proofScore/internal/submit"
	"github.com/ShahiTechnovation/proofScore/internal/traces"
	"github.com/ShahiTechnovation/proofScore/internal/validation"
)

// Step names as they appear in logs, events, and spans.
const (
	StepFetchMetrics = "fetch_metrics"
	StepAssess       = "assess"
	StepGenerate     = "generate_commitment"
	StepSubmit       = "submit"
)

// MetricsStore fetches account activity metrics.
type MetricsStore interface {
	Fetch(ctx context.Context, address string) (*activity.Metrics, []activity.FieldFallback, error)
}

// Scorer turns metrics into an assessment.
type Scorer interface {
	Calculate(m *activity.Metrics) (*scoring.Assessment, error)
	Breakdown(a *scoring.Assessment) *scoring.Breakdown
}

// Attestor generates commitments from assessments.
type Attestor interface {
	Generate(ctx context.Context, a *scoring.Assessment) (*attest.Commitment, error)
}

// Submitter drives commitments through the ledger.
type Submitter interface {
	Submit(ctx context.Context, c *attest.Commitment, address, signingKey string) (*submit.IssuedRecord, error)
	AwaitConfirmation(ctx context.Context, txID string) (*submit.IssuedRecord, error)
	TransactionFor(commitmentHash string) (string, bool)
	FetchScore(ctx context.Context, address string) (int, bool, error)
	CheckHealth(ctx context.Context) bool
}

// Notifier receives pipeline progress events.
type Notifier interface {
	StepStarted(address, step string)
	StepCompleted(address, step string, elapsed time.Duration)
	StepFailed(address, step, code string)
	FlowCompleted(address string, success bool, txID string)
	ScoreIssued(address string, score int, block uint64)
}

// nopNotifier drops all events.
type nopNotifier struct{}

func (nopNotifier) StepStarted(string, string)                  {}
func (nopNotifier) StepCompleted(string, string, time.Duration) {}
func (nopNotifier) StepFailed(string, string, string)           {}
func (nopNotifier) FlowCompleted(string, bool, string)          {}
func (nopNotifier) ScoreIssued(string, int, uint64)             {}

// FlowResult is the total outcome of a full pipeline run: either Success
// with the issued record, or a typed Err. Intermediate products are carried
// for diagnostics either way.
type FlowResult struct {
	Success       bool                     `json:"success"`
	Address       string                   `json:"address"`
	Assessment    *scoring.Assessment      `json:"assessment,omitempty"`
	Fallbacks     []activity.FieldFallback `json:"fallbacks,omitempty"`
	Commitment    *attest.Commitment       `json:"commitment,omitempty"`
	TransactionID string                   `json:"transactionId,omitempty"`
	Record        *submit.IssuedRecord     `json:"record,omitempty"`
	ElapsedMs     int64                    `json:"elapsedMs"`
	Err           *Error                   `json:"-"`
}

// session holds the intermediate products of the step functions.
type session struct {
	address    string
	metrics    *activity.Metrics
	fallbacks  []activity.FieldFallback
	assessment *scoring.Assessment
	commitment *attest.Commitment
}

// Orchestrator runs the assessment pipeline. Construct one per service; all
// methods are safe for concurrent use, with flows serialized.
type Orchestrator struct {
	store     MetricsStore
	scorer    Scorer
	attestor  Attestor
	submitter Submitter
	notifier  Notifier
	logger    *slog.Logger

	mu      sync.Mutex
	session session
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithNotifier sets the progress event sink.
func WithNotifier(n Notifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the pipeline's collaborators together.
func NewOrchestrator(store MetricsStore, scorer Scorer, attestor Attestor, submitter Submitter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		scorer:    scorer,
		attestor:  attestor,
		submitter: submitter,
		notifier:  nopNotifier{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Init validates the address format and installs it as the session's active
// address. Any prior session products are cleared.
func (o *Orchestrator) Init(address string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initSession(address)
}

func (o *Orchestrator) initSession(address string) error {
	address = validation.SanitizeAddress(address)
	if !validation.IsValidAddress(address) {
		return wrap(CodeAddressFormat, fmt.Errorf("malformed account address %q", address))
	}
	o.session = session{address: address}
	return nil
}

// Reset clears all session state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = session{}
}

// Address returns the session's active address, if Init has been called.
func (o *Orchestrator) Address() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.address
}

// FetchMetrics runs the metrics step for the active address and stores the
// result in the session. The fallback report lists fields that degraded.
func (o *Orchestrator) FetchMetrics(ctx context.Context) (*activity.Metrics, []activity.FieldFallback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireInit(); err != nil {
		return nil, nil, err
	}
	if err := o.fetchMetrics(ctx); err != nil {
		return nil, nil, err
	}
	return o.session.metrics, o.session.fallbacks, nil
}

// Assess scores the session's metrics.
func (o *Orchestrator) Assess(ctx context.Context) (*scoring.Assessment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireInit(); err != nil {
		return nil, err
	}
	if o.session.metrics == nil {
		return nil, wrap(CodeInternal, errors.New("no metrics in session; fetch metrics first"))
	}
	if err := o.assess(ctx); err != nil {
		return nil, err
	}
	return o.session.assessment, nil
}

// GenerateCommitment proves the session's assessment into a commitment.
// This is the slow step; ctx bounds it.
func (o *Orchestrator) GenerateCommitment(ctx context.Context) (*attest.Commitment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireInit(); err != nil {
		return nil, err
	}
	if o.session.assessment == nil {
		return nil, wrap(CodeInternal, errors.New("no assessment in session; assess first"))
	}
	if err := o.generate(ctx); err != nil {
		return nil, err
	}
	return o.session.commitment, nil
}

// SubmitCommitment submits the session's commitment to the ledger and waits
// for confirmation.
func (o *Orchestrator) SubmitCommitment(ctx context.Context, signingKey string) (*submit.IssuedRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireInit(); err != nil {
		return nil, err
	}
	if o.session.commitment == nil {
		return nil, wrap(CodeInternal, errors.New("no commitment in session; generate first"))
	}
	return o.submit(ctx, signingKey)
}

// RunFullFlow executes the whole pipeline for the active address: fetch,
// assess, generate, verify, submit. The outcome is always total: a FlowResult
// carrying either the issued record or a typed error, never a panic or a
// partial write.
func (o *Orchestrator) RunFullFlow(ctx context.Context, signingKey string) *FlowResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runFullFlow(ctx, signingKey)
}

// AttestAccount is the request-scoped entry for the full flow: it installs
// address as the session atomically with the run, so concurrent callers for
// different accounts cannot interleave.
func (o *Orchestrator) AttestAccount(ctx context.Context, address, signingKey string) *FlowResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.initSession(address); err != nil {
		return &FlowResult{
			Address: validation.SanitizeAddress(address),
			Err:     classify(err),
		}
	}
	return o.runFullFlow(ctx, signingKey)
}

// MetricsFor fetches activity metrics for address, replacing the session.
func (o *Orchestrator) MetricsFor(ctx context.Context, address string) (*activity.Metrics, []activity.FieldFallback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.initSession(address); err != nil {
		return nil, nil, err
	}
	if err := o.fetchMetrics(ctx); err != nil {
		return nil, nil, err
	}
	return o.session.metrics, o.session.fallbacks, nil
}

// AssessAccount fetches and scores address in one locked pass, returning the
// assessment with its factor breakdown and any fallback report.
func (o *Orchestrator) AssessAccount(ctx context.Context, address string) (*scoring.Assessment, *scoring.Breakdown, []activity.FieldFallback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.initSession(address); err != nil {
		return nil, nil, nil, err
	}
	if err := o.fetchMetrics(ctx); err != nil {
		return nil, nil, nil, err
	}
	if err := o.assess(ctx); err != nil {
		return nil, nil, nil, err
	}
	return o.session.assessment, o.scorer.Breakdown(o.session.assessment), o.session.fallbacks, nil
}

// ScoreFor reads the issued score for address from the ledger's public
// mapping. ok is false when no score has been issued.
func (o *Orchestrator) ScoreFor(ctx context.Context, address string) (score int, ok bool, err error) {
	address = validation.SanitizeAddress(address)
	if !validation.IsValidAddress(address) {
		return 0, false, wrap(CodeAddressFormat, fmt.Errorf("malformed account address %q", address))
	}
	score, ok, err = o.submitter.FetchScore(ctx, address)
	if err != nil {
		return 0, false, classify(err)
	}
	return score, ok, nil
}

// AwaitTransaction resumes confirmation polling for a transaction that was
// broadcast earlier, without submitting anything new.
func (o *Orchestrator) AwaitTransaction(ctx context.Context, txID string) (*submit.IssuedRecord, error) {
	rec, err := o.submitter.AwaitConfirmation(ctx, txID)
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

func (o *Orchestrator) runFullFlow(ctx context.Context, signingKey string) *FlowResult {
	start := time.Now()
	runID := idgen.Attestation()
	result := &FlowResult{Address: o.session.address}

	finish := func(err error) *FlowResult {
		result.Assessment = o.session.assessment
		result.Fallbacks = o.session.fallbacks
		result.Commitment = o.session.commitment
		result.ElapsedMs = time.Since(start).Milliseconds()
		if o.session.commitment != nil {
			if txID, ok := o.submitter.TransactionFor(o.session.commitment.Hash); ok {
				result.TransactionID = txID
			}
		}
		if err != nil {
			result.Err = classify(err)
			metrics.FlowsTotal.WithLabelValues(string(result.Err.Code)).Inc()
			o.notifier.FlowCompleted(result.Address, false, result.TransactionID)
			return result
		}
		result.Success = true
		metrics.FlowsTotal.WithLabelValues("success").Inc()
		o.notifier.FlowCompleted(result.Address, true, result.TransactionID)
		return result
	}

	if err := o.requireInit(); err != nil {
		return finish(err)
	}

	ctx, span := traces.StartSpan(ctx, "pipeline.run_full_flow",
		traces.AccountAddr(o.session.address), traces.RunID(runID))
	defer span.End()

	// A dead node makes the submit step fail anyway; the probe only warns.
	if !o.submitter.CheckHealth(ctx) {
		o.logger.Warn("ledger node health probe failed, continuing",
			"run", runID,
			"address", o.session.address)
	}

	if err := o.fetchMetrics(ctx); err != nil {
		return finish(err)
	}
	if err := o.assess(ctx); err != nil {
		return finish(err)
	}
	if err := o.generate(ctx); err != nil {
		return finish(err)
	}
	record, err := o.submit(ctx, signingKey)
	if err != nil {
		return finish(err)
	}
	result.Record = record

	o.logger.Info("full flow completed",
		"run", runID,
		"address", o.session.address,
		"score", record.Score,
		"block", record.IssuedBlock,
		"duration", time.Since(start),
	)
	return finish(nil)
}

// requireInit guards step functions against running without a session.
func (o *Orchestrator) requireInit() error {
	if o.session.address == "" {
		return wrap(CodeAddressFormat, errors.New("no active address; call Init first"))
	}
	return nil
}

// step wraps one pipeline stage with its span, progress events, logging,
// and error classification. fn runs with the step's span context.
func (o *Orchestrator) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	address := o.session.address

	ctx, span := traces.StartSpan(ctx, "pipeline."+name,
		traces.AccountAddr(address), traces.Step(name))
	defer span.End()

	o.notifier.StepStarted(address, name)
	start := time.Now()

	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		perr := classify(err)
		span.RecordError(err)
		o.notifier.StepFailed(address, name, string(perr.Code))
		o.logger.Error("pipeline step failed",
			"step", name,
			"address", address,
			"code", string(perr.Code),
			"error", err,
			"duration", elapsed,
		)
		return perr
	}

	o.notifier.StepCompleted(address, name, elapsed)
	o.logger.Info("pipeline step completed",
		"step", name,
		"address", address,
		"duration", elapsed,
	)
	return nil
}

func (o *Orchestrator) fetchMetrics(ctx context.Context) error {
	return o.step(ctx, StepFetchMetrics, func(ctx context.Context) error {
		m, fallbacks, err := o.store.Fetch(ctx, o.session.address)
		if err != nil {
			return err
		}
		for _, fb := range fallbacks {
			metrics.FieldFallbacksTotal.WithLabelValues(fb.Field).Inc()
		}
		o.session.metrics = m
		o.session.fallbacks = fallbacks
		return nil
	})
}

func (o *Orchestrator) assess(ctx context.Context) error {
	return o.step(ctx, StepAssess, func(ctx context.Context) error {
		a, err := o.scorer.Calculate(o.session.metrics)
		if err != nil {
			return err
		}
		metrics.AssessmentsTotal.WithLabelValues(string(a.RiskTier)).Inc()
		o.session.assessment = a
		return nil
	})
}

func (o *Orchestrator) generate(ctx context.Context) error {
	return o.step(ctx, StepGenerate, func(ctx context.Context) error {
		start := time.Now()
		c, err := o.attestor.Generate(ctx, o.session.assessment)
		if err != nil {
			metrics.AttestationsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.AttestationsTotal.WithLabelValues("ok").Inc()
		metrics.ProveDuration.Observe(time.Since(start).Seconds())

		// The structural gate runs here, before broadcast is possible.
		if !attest.Verify(c) {
			return wrap(CodeCommitmentInvalid, attest.ErrCommitmentInvalid)
		}
		o.session.commitment = c
		return nil
	})
}

func (o *Orchestrator) submit(ctx context.Context, signingKey string) (*submit.IssuedRecord, error) {
	var record *submit.IssuedRecord
	err := o.step(ctx, StepSubmit, func(ctx context.Context) error {
		start := time.Now()
		rec, err := o.submitter.Submit(ctx, o.session.commitment, o.session.address, signingKey)
		if err != nil {
			metrics.SubmissionsTotal.WithLabelValues(submissionStatus(err)).Inc()
			return err
		}
		metrics.SubmissionsTotal.WithLabelValues("confirmed").Inc()
		metrics.ConfirmDuration.Observe(time.Since(start).Seconds())
		o.notifier.ScoreIssued(o.session.address, rec.Score, rec.IssuedBlock)
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// submissionStatus maps a submit failure to its metrics label.
func submissionStatus(err error) string {
	switch {
	case errors.Is(err, submit.ErrConfirmationTimeout):
		return "timeout"
	case errors.Is(err, submit.ErrExecutionFailed):
		return "failed"
	case errors.Is(err, submit.ErrBroadcast):
		return "broadcast_error"
	case errors.Is(err, submit.ErrAlreadySubmitted):
		return "duplicate"
	default:
		return "error"
	}
}
