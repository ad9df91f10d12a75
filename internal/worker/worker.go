// Package worker implements the job lifecycle controller: acquire a pending
// task by compare-and-swap, reserve a backfill credit when needed, execute,
// and finalize into SUCCESS, a re-queued PENDING, or FAILED with a
// compensating refund. All lifecycle state lives in the store so it survives
// process restarts; the loop keeps nothing across cycles.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sunrunner/internal/domain"
	"sunrunner/internal/infra"
)

// Executor is the slice of the execution engine the loop depends on.
type Executor interface {
	Execute(ctx context.Context, data domain.UserData) (string, error)
}

// Options configures a Loop.
type Options struct {
	Store          domain.TaskStore
	Credits        domain.CreditLedger
	Engine         Executor
	Logger         infra.Logger
	PollingDelay   time.Duration
	RateLimitDelay time.Duration
	MaxAttempts    int
	Stats          *Stats
}

// Loop is one worker instance. Any number of loops may run against the same
// store; TryLock arbitrates ownership.
type Loop struct {
	store          domain.TaskStore
	credits        domain.CreditLedger
	engine         Executor
	logger         infra.Logger
	pollingDelay   time.Duration
	rateLimitDelay time.Duration
	maxAttempts    int
	stats          *Stats
}

// New builds a Loop, applying defaults for unset options.
func New(opts Options) *Loop {
	if opts.PollingDelay <= 0 {
		opts.PollingDelay = 15 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	return &Loop{
		store:          opts.Store,
		credits:        opts.Credits,
		engine:         opts.Engine,
		logger:         opts.Logger,
		pollingDelay:   opts.PollingDelay,
		rateLimitDelay: opts.RateLimitDelay,
		maxAttempts:    opts.MaxAttempts,
		stats:          opts.Stats,
	}
}

// Stats exposes the loop's counters for the ops surface.
func (l *Loop) Stats() *Stats {
	return l.stats
}

// Run polls until ctx is cancelled. No error other than the context's ever
// escapes: store failures skip the cycle and execution failures become state
// transitions, so a crashing dependency degrades into idling, not exit.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Msg("worker started")
	for {
		delay := l.safeCycle(ctx)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// safeCycle guards the loop against anything cycle did not anticipate: a
// panic is logged and the worker idles for a polling interval instead of
// taking the process down.
func (l *Loop) safeCycle(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("cycle panicked")
			delay = l.pollingDelay
		}
	}()
	return l.cycle(ctx)
}

// cycle performs one acquire/process round and returns how long to sleep
// before the next one. Zero means go again immediately (lost lock race).
func (l *Loop) cycle(ctx context.Context) time.Duration {
	task, err := l.store.ListOnePending(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("list pending tasks failed")
		return l.pollingDelay
	}
	if task == nil {
		return l.pollingDelay
	}

	locked, err := l.store.TryLock(ctx, task.ID)
	if err != nil {
		l.logger.Error().Err(err).Int64("task", task.ID).Msg("lock attempt failed")
		return l.pollingDelay
	}
	if locked == nil {
		// Lost the race; contention is expected and cheap.
		l.logger.Debug().Int64("task", task.ID).Msg("task claimed by another worker")
		return 0
	}

	l.process(ctx, locked)
	return l.rateLimitDelay
}

func (l *Loop) process(ctx context.Context, task *domain.Task) {
	attempt := task.UserData.RetryCount + 1
	started := time.Now()
	l.logger.Info().Int64("task", task.ID).Int("attempt", attempt).Msg("processing task")

	if err := l.reserveCredit(ctx, task); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredit) {
			// Credit shortage is not transient; fail without burning
			// the remaining attempts.
			l.finalize(ctx, task, domain.TaskStatusFailed, attempt, err)
			return
		}
		l.fail(ctx, task, attempt, err)
		return
	}

	summary, err := l.engine.Execute(ctx, task.UserData)
	if err != nil {
		l.fail(ctx, task, attempt, err)
		return
	}

	task.UserData.RetryCount = attempt
	if err := l.store.Finalize(ctx, task.ID, domain.TaskStatusSuccess, summary, task.UserData); err != nil {
		l.logger.Error().Err(err).Int64("task", task.ID).Msg("finalize success failed")
	}
	l.stats.recordSuccess()
	l.logger.Info().
		Int64("task", task.ID).
		Dur("elapsed", time.Since(started)).
		Msg("task succeeded")
}

// reserveCredit consumes a backfill credit exactly once per task. The
// reservation flag is persisted before execution so a crash between
// consumption and completion cannot lead the next attempt to consume again.
func (l *Loop) reserveCredit(ctx context.Context, task *domain.Task) error {
	data := &task.UserData
	if !data.IsBackfill() || data.ReservedCredit {
		return nil
	}
	user := data.StuNumber()
	if user == "" {
		return nil
	}
	if err := l.credits.Consume(ctx, user); err != nil {
		return err
	}
	data.ReservedCredit = true
	if err := l.store.SaveUserData(ctx, task.ID, *data); err != nil {
		// Credit already spent; the attempt can still succeed.
		l.logger.Warn().Err(err).Int64("task", task.ID).Msg("persist credit reservation failed")
	}
	return nil
}

// fail routes a failed attempt: re-queue while attempts remain and the error
// is transient, otherwise exhaust with a compensating refund.
func (l *Loop) fail(ctx context.Context, task *domain.Task, attempt int, cause error) {
	exhausted := attempt >= l.maxAttempts || !domain.Retryable(cause)
	if !exhausted {
		l.finalize(ctx, task, domain.TaskStatusPending, attempt, cause)
		l.stats.recordRequeue()
		l.logger.Warn().Err(cause).Int64("task", task.ID).Int("attempt", attempt).Msg("task re-queued")
		return
	}

	if task.UserData.ReservedCredit {
		if user := task.UserData.StuNumber(); user != "" {
			// Best effort: the terminal disposition must not depend
			// on ledger availability.
			if err := l.credits.Refund(ctx, user); err != nil {
				l.logger.Error().Err(err).Int64("task", task.ID).Str("user", user).Msg("credit refund failed")
			}
		}
	}
	l.finalize(ctx, task, domain.TaskStatusFailed, attempt, cause)
	l.logger.Error().Err(cause).Int64("task", task.ID).Int("attempt", attempt).Msg("task failed")
}

func (l *Loop) finalize(ctx context.Context, task *domain.Task, status domain.TaskStatus, attempt int, cause error) {
	task.UserData.RetryCount = attempt
	resultLog := fmt.Sprintf("attempt %d failed: %v", attempt, cause)
	if err := l.store.Finalize(ctx, task.ID, status, resultLog, task.UserData); err != nil {
		l.logger.Error().Err(err).Int64("task", task.ID).Str("status", string(status)).Msg("finalize failed")
	}
	if status == domain.TaskStatusFailed {
		l.stats.recordFailure()
	}
}
