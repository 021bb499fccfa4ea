package submit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
	"github.com/ShahiTechnovation/proofScore/internal/attest"
	"github.com/ShahiTechnovation/proofScore/internal/ledger"
	"github.com/ShahiTechnovation/proofScore/internal/logging"
	"github.com/ShahiTechnovation/proofScore/internal/retry"
	"github.com/ShahiTechnovation/proofScore/internal/scoring"
)

const (
	testAddr = "aleo1rhgdu77hgyqd3xjcrgt9v3sqyzdtmvzr662t5xcj8pv8hrlh9yxqychn2f"
	testTxID = "at1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
)

var testSigningKey = "APrivateKey1" + strings.Repeat("z", 47)

// -----------------------------------------------------------------------------
// Fake node
// -----------------------------------------------------------------------------

type pollStep struct {
	tx  *ledger.Transaction
	err error
}

type fakeNode struct {
	mu             sync.Mutex
	broadcastCalls int
	broadcastErr   error
	lastRequest    *ledger.BroadcastRequest

	pollCalls int
	steps     []pollStep // consumed in order; the last step repeats

	mappingValue string
	mappingFound bool
	mappingErr   error

	healthErr error
}

func (f *fakeNode) BroadcastTransaction(_ context.Context, req *ledger.BroadcastRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastCalls++
	f.lastRequest = req
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	return testTxID, nil
}

func (f *fakeNode) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if len(f.steps) == 0 {
		return nil, ledger.ErrNotFound
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	tx := *step.tx
	tx.ID = id
	return &tx, nil
}

func (f *fakeNode) GetMappingValue(_ context.Context, _, _, _ string) (string, bool, error) {
	return f.mappingValue, f.mappingFound, f.mappingErr
}

func (f *fakeNode) Health(_ context.Context) error { return f.healthErr }

func pending() pollStep {
	return pollStep{tx: &ledger.Transaction{Status: ledger.StatusPending}}
}

func confirmed() pollStep {
	at := time.Unix(1700000100, 0)
	return pollStep{tx: &ledger.Transaction{
		Status:      ledger.StatusConfirmed,
		BlockHeight: 4242,
		ConfirmedAt: &at,
		Outputs: map[string]string{
			"owner":     testAddr,
			"score":     "650u64",
			"threshold": "500u64",
		},
	}}
}

func failed() pollStep {
	return pollStep{tx: &ledger.Transaction{Status: ledger.StatusFailed}}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func newTestSubmitter(t *testing.T, node Node) *Submitter {
	t.Helper()
	s, err := New(node, Config{Program: "creditproof.aleo", MinScore: 500},
		WithLogger(logging.Discard()),
		WithConfirmPolicy(retry.Policy{Interval: time.Millisecond, MaxAttempts: 5}),
	)
	require.NoError(t, err)
	return s
}

func testCommitment(t *testing.T) *attest.Commitment {
	t.Helper()
	g := attest.NewGenerator(
		attest.NewSimulatedProver(attest.WithProveLatency(0)),
		attest.WithGeneratorLogger(logging.Discard()),
	)
	c, err := g.Generate(context.Background(), &scoring.Assessment{
		Address: testAddr,
		Metrics: activity.Metrics{
			Address:          testAddr,
			TransactionCount: 25,
			AccountAgeMonths: 14,
			ActivityScore:    60,
			RepaymentRate:    80,
		},
		BaseScore:   scoring.BaseScore,
		BonusPoints: 350,
		FinalScore:  650,
		RiskTier:    scoring.TierMedium,
		ProducedAt:  time.Unix(1700000000, 0),
	})
	require.NoError(t, err)
	return c
}

// -----------------------------------------------------------------------------
// Submit
// -----------------------------------------------------------------------------

func TestSubmit_ConfirmedFlow(t *testing.T) {
	node := &fakeNode{steps: []pollStep{pending(), pending(), confirmed()}}
	s := newTestSubmitter(t, node)

	rec, err := s.Submit(context.Background(), testCommitment(t), testAddr, testSigningKey)
	require.NoError(t, err)

	assert.Equal(t, testAddr, rec.Owner)
	assert.Equal(t, 650, rec.Score)
	assert.Equal(t, 500, rec.Threshold)
	assert.Equal(t, uint64(4242), rec.IssuedBlock)
	assert.Equal(t, time.Unix(1700000100, 0), rec.IssuedAt)
	assert.Equal(t, 1, node.broadcastCalls)
	assert.Equal(t, 3, node.pollCalls)
}

func TestSubmit_BuildsVerifyRequest(t *testing.T) {
	node := &fakeNode{steps: []pollStep{confirmed()}}
	s := newTestSubmitter(t, node)
	c := testCommitment(t)

	_, err := s.Submit(context.Background(), c, testAddr, testSigningKey)
	require.NoError(t, err)

	req := node.lastRequest
	require.NotNil(t, req)
	assert.Equal(t, "creditproof.aleo", req.Program)
	assert.Equal(t, VerifyFunction, req.Function)
	assert.Equal(t, []string{c.Hash, "500u64"}, req.Inputs)
	assert.Equal(t, DefaultFee, req.Fee)
	assert.Equal(t, testAddr, req.Sender)
	assert.True(t, strings.HasPrefix(req.Signature, "sign1"))
}

func TestSubmit_RejectsInvalidCommitment(t *testing.T) {
	node := &fakeNode{}
	s := newTestSubmitter(t, node)

	c := testCommitment(t)
	c.Proof.C = ""

	_, err := s.Submit(context.Background(), c, testAddr, testSigningKey)
	assert.ErrorIs(t, err, ErrInvalidCommitment)
	assert.Zero(t, node.broadcastCalls, "invalid commitment must never reach broadcast")
}

func TestSubmit_RejectsBadInputs(t *testing.T) {
	node := &fakeNode{}
	s := newTestSubmitter(t, node)
	c := testCommitment(t)

	_, err := s.Submit(context.Background(), c, "bogus", testSigningKey)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = s.Submit(context.Background(), c, testAddr, "hunter2")
	assert.ErrorIs(t, err, ErrInvalidSigningKey)

	assert.Zero(t, node.broadcastCalls)
}

func TestSubmit_BroadcastFailure(t *testing.T) {
	cause := errors.New("node rejected execution")
	node := &fakeNode{broadcastErr: cause}
	s := newTestSubmitter(t, node)
	c := testCommitment(t)

	_, err := s.Submit(context.Background(), c, testAddr, testSigningKey)
	assert.ErrorIs(t, err, ErrBroadcast)
	assert.ErrorIs(t, err, cause)

	// A failed broadcast does not register the hash: retrying is safe.
	node.broadcastErr = nil
	node.steps = []pollStep{confirmed()}
	_, err = s.Submit(context.Background(), c, testAddr, testSigningKey)
	require.NoError(t, err)
	assert.Equal(t, 2, node.broadcastCalls)
}

func TestSubmit_RefusesDoubleBroadcast(t *testing.T) {
	node := &fakeNode{steps: []pollStep{confirmed()}}
	s := newTestSubmitter(t, node)
	c := testCommitment(t)

	_, err := s.Submit(context.Background(), c, testAddr, testSigningKey)
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), c, testAddr, testSigningKey)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	var se *SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, testTxID, se.TxID)
	assert.Equal(t, 1, node.broadcastCalls)
}

func TestSubmit_ConfirmationTimeout(t *testing.T) {
	node := &fakeNode{steps: []pollStep{pending()}}
	s := newTestSubmitter(t, node)
	c := testCommitment(t)

	_, err := s.Submit(context.Background(), c, testAddr, testSigningKey)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)

	var se *SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, testTxID, se.TxID)
	assert.Equal(t, 5, node.pollCalls, "polls the full attempt budget")

	// The hash stays registered: resubmitting after a timeout is refused.
	_, err = s.Submit(context.Background(), c, testAddr, testSigningKey)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, 1, node.broadcastCalls)
}

func TestSubmit_ExecutionFailed(t *testing.T) {
	node := &fakeNode{steps: []pollStep{pending(), failed()}}
	s := newTestSubmitter(t, node)

	_, err := s.Submit(context.Background(), testCommitment(t), testAddr, testSigningKey)
	assert.ErrorIs(t, err, ErrExecutionFailed)
}

func TestSubmit_PollErrorsCountTowardCeiling(t *testing.T) {
	cause := errors.New("node flaking")
	node := &fakeNode{steps: []pollStep{{err: cause}}}
	s := newTestSubmitter(t, node)

	_, err := s.Submit(context.Background(), testCommitment(t), testAddr, testSigningKey)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 5, node.pollCalls)
}

func TestSubmit_ToleratesPropagationLag(t *testing.T) {
	node := &fakeNode{steps: []pollStep{
		{err: ledger.ErrNotFound},
		{err: ledger.ErrNotFound},
		confirmed(),
	}}
	s := newTestSubmitter(t, node)

	rec, err := s.Submit(context.Background(), testCommitment(t), testAddr, testSigningKey)
	require.NoError(t, err)
	assert.Equal(t, 650, rec.Score)
}

func TestSubmit_MissingOutput(t *testing.T) {
	step := confirmed()
	delete(step.tx.Outputs, "score")
	node := &fakeNode{steps: []pollStep{step}}
	s := newTestSubmitter(t, node)

	_, err := s.Submit(context.Background(), testCommitment(t), testAddr, testSigningKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing output")
}

// -----------------------------------------------------------------------------
// AwaitConfirmation
// -----------------------------------------------------------------------------

func TestAwaitConfirmation_ResumesWithoutResubmit(t *testing.T) {
	node := &fakeNode{steps: []pollStep{pending()}}
	s := newTestSubmitter(t, node)
	c := testCommitment(t)

	_, err := s.Submit(context.Background(), c, testAddr, testSigningKey)
	require.ErrorIs(t, err, ErrConfirmationTimeout)

	node.steps = []pollStep{pending(), confirmed()}
	rec, err := s.AwaitConfirmation(context.Background(), testTxID)
	require.NoError(t, err)

	assert.Equal(t, 650, rec.Score)
	assert.Equal(t, 1, node.broadcastCalls, "resume must not broadcast again")
}

func TestAwaitConfirmation_RequiresTxID(t *testing.T) {
	s := newTestSubmitter(t, &fakeNode{})

	_, err := s.AwaitConfirmation(context.Background(), "")
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// FetchScore / CheckHealth
// -----------------------------------------------------------------------------

func TestFetchScore(t *testing.T) {
	node := &fakeNode{mappingValue: "725u64", mappingFound: true}
	s := newTestSubmitter(t, node)

	score, found, err := s.FetchScore(context.Background(), testAddr)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 725, score)
}

func TestFetchScore_AbsentIsNotAnError(t *testing.T) {
	s := newTestSubmitter(t, &fakeNode{})

	score, found, err := s.FetchScore(context.Background(), testAddr)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, score)
}

func TestFetchScore_Malformed(t *testing.T) {
	node := &fakeNode{mappingValue: "not-a-score", mappingFound: true}
	s := newTestSubmitter(t, node)

	_, _, err := s.FetchScore(context.Background(), testAddr)
	assert.Error(t, err)
}

func TestFetchScore_InvalidAddress(t *testing.T) {
	s := newTestSubmitter(t, &fakeNode{})

	_, _, err := s.FetchScore(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestCheckHealth(t *testing.T) {
	node := &fakeNode{}
	s := newTestSubmitter(t, node)
	assert.True(t, s.CheckHealth(context.Background()))

	node.healthErr = ledger.ErrUnavailable
	assert.False(t, s.CheckHealth(context.Background()))
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Program: "creditproof.aleo", MinScore: 500})
	assert.Error(t, err)

	_, err = New(&fakeNode{}, Config{MinScore: 500})
	assert.Error(t, err)

	_, err = New(&fakeNode{}, Config{Program: "creditproof.aleo"})
	assert.Error(t, err)
}

func TestNew_DefaultFee(t *testing.T) {
	s, err := New(&fakeNode{}, Config{Program: "creditproof.aleo", MinScore: 500})
	require.NoError(t, err)
	assert.Equal(t, DefaultFee, s.fee)
}
