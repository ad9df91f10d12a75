package domain

import "context"

// TaskStore defines persistence for the shared submission queue.
type TaskStore interface {
	// ListOnePending returns the oldest PENDING task by id, or nil when the
	// queue is empty.
	ListOnePending(ctx context.Context) (*Task, error)
	// TryLock transitions PENDING -> PROCESSING conditioned on the row still
	// being PENDING. It returns nil when another worker won the race. This
	// compare-and-swap is the sole concurrency-safety mechanism.
	TryLock(ctx context.Context, id int64) (*Task, error)
	// Finalize unconditionally moves the task to a terminal or re-queued
	// state, storing the outcome log and the updated payload.
	Finalize(ctx context.Context, id int64, status TaskStatus, resultLog string, data UserData) error
	// SaveUserData persists engine-owned payload fields mid-flight, used to
	// record a credit reservation before execution begins.
	SaveUserData(ctx context.Context, id int64, data UserData) error
}

// CreditLedger meters backfill submissions against a per-user balance.
type CreditLedger interface {
	// Consume decrements the balance by one, initializing absent rows at
	// zero first so first-time users are rejected rather than crashing.
	// Returns ErrInsufficientCredit when the balance is below one.
	Consume(ctx context.Context, userID string) error
	// Refund increments the balance by one, creating the row at one if
	// absent.
	Refund(ctx context.Context, userID string) error
}
