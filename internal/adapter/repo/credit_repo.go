package repo

import (
	"context"
	"fmt"

	"sunrunner/internal/domain"
	"sunrunner/internal/infra"
	"sunrunner/internal/sqlinline"
)

// CreditRepositoryPG implements domain.CreditLedger over the per-user
// backfill credit table.
//
// Consume and Refund are deliberately not wrapped in a transaction with the
// task table; idempotency across retries comes from the reservedCredit flag
// on the task payload. The balance itself is only ever mutated through the
// guarded statements below, never read-then-written by callers.
type CreditRepositoryPG struct {
	runner infra.SQLExecutor
}

// NewCreditRepository creates a credit ledger backed by PostgreSQL.
func NewCreditRepository(runner infra.SQLExecutor) *CreditRepositoryPG {
	return &CreditRepositoryPG{runner: runner}
}

// Consume takes one credit from the user's balance.
func (r *CreditRepositoryPG) Consume(ctx context.Context, userID string) error {
	var credits int
	err := r.runner.QueryRow(ctx, sqlinline.QGetCredits, userID).Scan(&credits)
	switch {
	case infra.IsNoRows(err):
		// First-time user: materialize the row at zero so the shortage
		// below is an accounting outcome, not a missing-row crash.
		if _, initErr := r.runner.Exec(ctx, sqlinline.QInitCredits, userID); initErr != nil {
			return fmt.Errorf("init credits for %s: %w", userID, initErr)
		}
		credits = 0
	case err != nil:
		return fmt.Errorf("get credits for %s: %w", userID, err)
	}

	if credits < 1 {
		return domain.ErrInsufficientCredit
	}

	tag, err := r.runner.Exec(ctx, sqlinline.QConsumeCredit, userID)
	if err != nil {
		return fmt.Errorf("consume credit for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		// Another worker drained the balance between the read and the
		// guarded decrement.
		return domain.ErrInsufficientCredit
	}
	return nil
}

// Refund returns one credit to the user's balance.
func (r *CreditRepositoryPG) Refund(ctx context.Context, userID string) error {
	if _, err := r.runner.Exec(ctx, sqlinline.QRefundCredit, userID); err != nil {
		return fmt.Errorf("refund credit for %s: %w", userID, err)
	}
	return nil
}

var _ domain.CreditLedger = (*CreditRepositoryPG)(nil)
