package pipeline

import (
	"errors"
	"fmt"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
	"github.com/ShahiTechnovation/proofScore/internal/attest"
	"github.com/ShahiTechnovation/proofScore/internal/scoring"
	"github.com/ShahiTechnovation/proofScore/internal/submit"
)

// Code classifies a pipeline failure for programmatic handling.
type Code string

const (
	CodeAddressFormat       Code = "ADDRESS_FORMAT"
	CodeValidation          Code = "VALIDATION"
	CodeMetricsFetch        Code = "METRICS_FETCH"
	CodeAttestation         Code = "ATTESTATION"
	CodeCommitmentInvalid   Code = "COMMITMENT_INVALID"
	CodeSubmissionBroadcast Code = "SUBMISSION_BROADCAST"
	CodeConfirmationTimeout Code = "CONFIRMATION_TIMEOUT"
	CodeOnchainExecution    Code = "ONCHAIN_EXECUTION"
	CodeInternal            Code = "INTERNAL"
)

// Safety describes what a caller may do after a failure.
type Safety string

const (
	// SafetyRetry: run the whole attempt again; a fresh commitment is minted.
	SafetyRetry Safety = "retry"
	// SafetyPoll: re-poll the in-flight transaction; do NOT resubmit.
	SafetyPoll Safety = "poll"
	// SafetyFixInput: retrying without changing the input cannot succeed.
	SafetyFixInput Safety = "fix_input"
)

// RetrySafety reports the retry class of a failure code.
func (c Code) RetrySafety() Safety {
	switch c {
	case CodeAddressFormat, CodeValidation:
		return SafetyFixInput
	case CodeConfirmationTimeout:
		return SafetyPoll
	default:
		return SafetyRetry
	}
}

// Error is the uniform failure type every pipeline operation returns.
// The cause chain is preserved through Unwrap.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// wrap builds an Error with an explicit code.
func wrap(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// classify maps collaborator failures onto pipeline codes. An error that is
// already a pipeline Error passes through unchanged; anything unrecognized
// is INTERNAL.
func classify(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	switch {
	case errors.Is(err, activity.ErrAddressFormat),
		errors.Is(err, submit.ErrInvalidAddress):
		return wrap(CodeAddressFormat, err)

	case errors.Is(err, scoring.ErrInvalidMetrics):
		return wrap(CodeValidation, err)

	case errors.Is(err, activity.ErrMetricsFetch):
		return wrap(CodeMetricsFetch, err)

	case errors.Is(err, attest.ErrProve):
		return wrap(CodeAttestation, err)

	case errors.Is(err, attest.ErrCommitmentInvalid),
		errors.Is(err, submit.ErrInvalidCommitment):
		return wrap(CodeCommitmentInvalid, err)

	case errors.Is(err, submit.ErrConfirmationTimeout):
		return wrap(CodeConfirmationTimeout, err)

	case errors.Is(err, submit.ErrExecutionFailed):
		return wrap(CodeOnchainExecution, err)

	case errors.Is(err, submit.ErrBroadcast),
		errors.Is(err, submit.ErrAlreadySubmitted),
		errors.Is(err, submit.ErrInvalidSigningKey):
		return wrap(CodeSubmissionBroadcast, err)

	default:
		return wrap(CodeInternal, err)
	}
}
