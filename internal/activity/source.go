package activity

import (
	"context"
	"fmt"

	"github.com/ShahiTechnovation/proofScore/internal/ledger"
)

// Public mappings the credit program maintains per account.
const (
	mappingTransactions = "transactions"
	mappingAccountAges  = "account_ages"
	mappingActivity     = "activity_scores"
	mappingRepayments   = "repayment_rates"

	// Balances live in the native credits program, not ours.
	creditsProgram = "credits.aleo"
	balanceMapping = "account"

	microcreditsPerCredit = 1_000_000
)

// LedgerSource reads activity fields from on-chain public mappings.
// A missing mapping entry means the account simply has no recorded
// activity for that field and reads as zero.
type LedgerSource struct {
	client  *ledger.Client
	program string
}

var _ Source = (*LedgerSource)(nil)

// NewLedgerSource creates a source over the given node client and credit
// program ID.
func NewLedgerSource(client *ledger.Client, program string) *LedgerSource {
	return &LedgerSource{client: client, program: program}
}

func (s *LedgerSource) TransactionCount(ctx context.Context, address string) (int, error) {
	return s.readCount(ctx, s.program, mappingTransactions, address)
}

func (s *LedgerSource) AccountAgeMonths(ctx context.Context, address string) (int, error) {
	return s.readCount(ctx, s.program, mappingAccountAges, address)
}

func (s *LedgerSource) ActivityScore(ctx context.Context, address string) (int, error) {
	return s.readCount(ctx, s.program, mappingActivity, address)
}

func (s *LedgerSource) RepaymentRate(ctx context.Context, address string) (int, error) {
	return s.readCount(ctx, s.program, mappingRepayments, address)
}

// Balance returns the account balance in whole credits.
func (s *LedgerSource) Balance(ctx context.Context, address string) (float64, error) {
	value, found, err := s.client.GetMappingValue(ctx, creditsProgram, balanceMapping, address)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	micro, err := ledger.ParseU64(value)
	if err != nil {
		return 0, fmt.Errorf("activity: balance for %s: %w", address, err)
	}
	return float64(micro) / microcreditsPerCredit, nil
}

func (s *LedgerSource) readCount(ctx context.Context, program, mapping, address string) (int, error) {
	value, found, err := s.client.GetMappingValue(ctx, program, mapping, address)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	v, err := ledger.ParseU64(value)
	if err != nil {
		return 0, fmt.Errorf("activity: %s/%s for %s: %w", program, mapping, address, err)
	}
	return int(v), nil
}
