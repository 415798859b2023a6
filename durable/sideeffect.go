package durable

import (
	"errors"
	"time"

	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
	"go.uber.org/zap"
)

// RunSideEffect is the only construct that admits user non-determinism.
//
// On replay it delivers the journaled value or failure without
// invoking fn, and returns synchronously. On first execution it
// appends the SideEffect entry synchronously (so that two concurrently
// scheduled side effects get indices in the order their closures are
// scheduled, per spec.md §4.6 point 4) and then runs fn — and any
// retries — in its own goroutine, so that a caller can schedule several
// side effects before awaiting any of them.
func (c *Context) RunSideEffect(fn func() ([]byte, error), policy RetryPolicy) *Future {
	entry, err := c.journal.MatchOrAppend(wire.KindSideEffect, nil)
	if err != nil {
		return failedFuture(err)
	}

	if entry.Result.Ready() {
		return readyFuture(entry.Index, entry.Result)
	}

	if c.inSideEffect.Load() > 0 {
		result := journal.FailureResult(wire.FailureCodeTerminal, forbiddenInSideEffectError("side effect").Message)
		_ = c.journal.CompleteByIndex(entry.Index, result)
		return readyFuture(entry.Index, result)
	}

	ch, err := c.journal.RegisterResolver(entry.Index)
	if err != nil {
		return failedFuture(err)
	}

	// Entered here, before the goroutine is scheduled, so a concurrent
	// WaitIdle can never observe this side effect as already parked
	// when it hasn't even started running yet.
	c.journal.Enter()
	go c.runSideEffectAttempts(entry.Index, fn, policy.normalized())

	return newFuture(c.journal, entry.Index, ch)
}

func (c *Context) runSideEffectAttempts(index uint32, fn func() ([]byte, error), p RetryPolicy) {
	defer c.journal.Leave()
	for attempt := 0; ; attempt++ {
		attemptStart := time.Now()
		c.inSideEffect.Add(1)
		value, runErr := fn()
		c.inSideEffect.Add(-1)

		if runErr == nil {
			c.metrics.RecordSideEffectAttempt("success", time.Since(attemptStart))
			_ = c.journal.CompleteByIndex(index, journal.ValueResult(value))
			return
		}

		var term *TerminalError
		if errors.As(runErr, &term) {
			c.metrics.RecordSideEffectAttempt("terminal", time.Since(attemptStart))
			_ = c.journal.CompleteByIndex(index, journal.FailureResult(term.Code, term.Message))
			return
		}

		if attempt >= p.MaxRetries {
			c.metrics.RecordSideEffectAttempt("exhausted", time.Since(attemptStart))
			c.phaseLogger().Warn("side effect exhausted retries",
				zap.Uint32("index", index), zap.Int("attempts", attempt+1), zap.Error(runErr))
			_ = c.journal.CompleteByIndex(index, journal.FailureResult(wire.FailureCodeTerminal, runErr.Error()))
			return
		}

		c.metrics.RecordSideEffectAttempt("retry", time.Since(attemptStart))
		c.phaseLogger().Debug("side effect attempt failed, retrying",
			zap.Uint32("index", index), zap.Int("attempt", attempt+1), zap.Error(runErr))
		delay := p.delayForAttempt(attempt + 1)
		sleep := c.sleepInternal(delay)
		if _, sleepErr := sleep.Await(); sleepErr != nil {
			_ = c.journal.CompleteByIndex(index, journal.FailureResult(wire.FailureCodeInternal, sleepErr.Error()))
			return
		}
	}
}
