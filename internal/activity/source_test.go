package activity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ShahiTechnovation/proofScore/internal/ledger"
	"github.com/ShahiTechnovation/proofScore/internal/logging"
)

func newMappingNode(t *testing.T, values map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, ok := values[r.URL.Path]
		if !ok {
			w.Write([]byte("null"))
			return
		}
		json.NewEncoder(w).Encode(value)
	}))
}

func TestLedgerSourceReadsMappings(t *testing.T) {
	base := "/testnet/program/creditproof.aleo/mapping/"
	server := newMappingNode(t, map[string]string{
		base + "transactions/" + storeAddr:    "21u64",
		base + "account_ages/" + storeAddr:    "7u64",
		base + "activity_scores/" + storeAddr: "44u64",
		base + "repayment_rates/" + storeAddr: "88u64",
		"/testnet/program/credits.aleo/mapping/account/" + storeAddr: "2500000u64",
	})
	defer server.Close()

	client := ledger.NewClient(server.URL, ledger.WithRetry(1, time.Millisecond), ledger.WithLogger(logging.Discard()))
	src := NewLedgerSource(client, "creditproof.aleo")
	ctx := context.Background()

	if v, err := src.TransactionCount(ctx, storeAddr); err != nil || v != 21 {
		t.Errorf("TransactionCount = %d, %v; want 21", v, err)
	}
	if v, err := src.AccountAgeMonths(ctx, storeAddr); err != nil || v != 7 {
		t.Errorf("AccountAgeMonths = %d, %v; want 7", v, err)
	}
	if v, err := src.ActivityScore(ctx, storeAddr); err != nil || v != 44 {
		t.Errorf("ActivityScore = %d, %v; want 44", v, err)
	}
	if v, err := src.RepaymentRate(ctx, storeAddr); err != nil || v != 88 {
		t.Errorf("RepaymentRate = %d, %v; want 88", v, err)
	}
	if v, err := src.Balance(ctx, storeAddr); err != nil || v != 2.5 {
		t.Errorf("Balance = %f, %v; want 2.5 credits", v, err)
	}
}

func TestLedgerSourceMissingEntriesReadZero(t *testing.T) {
	server := newMappingNode(t, nil)
	defer server.Close()

	client := ledger.NewClient(server.URL, ledger.WithRetry(1, time.Millisecond), ledger.WithLogger(logging.Discard()))
	src := NewLedgerSource(client, "creditproof.aleo")

	// A brand new account has no mapping entries anywhere; that is zero
	// activity, not an error.
	if v, err := src.TransactionCount(context.Background(), storeAddr); err != nil || v != 0 {
		t.Errorf("TransactionCount = %d, %v; want 0, nil", v, err)
	}
	if v, err := src.Balance(context.Background(), storeAddr); err != nil || v != 0 {
		t.Errorf("Balance = %f, %v; want 0, nil", v, err)
	}
}

func TestLedgerSourceMalformedLiteral(t *testing.T) {
	base := "/testnet/program/creditproof.aleo/mapping/"
	server := newMappingNode(t, map[string]string{
		base + "transactions/" + storeAddr: "not-a-number",
	})
	defer server.Close()

	client := ledger.NewClient(server.URL, ledger.WithRetry(1, time.Millisecond), ledger.WithLogger(logging.Discard()))
	src := NewLedgerSource(client, "creditproof.aleo")

	if _, err := src.TransactionCount(context.Background(), storeAddr); err == nil {
		t.Error("malformed mapping literal should surface as an error")
	}
}
