package durable

import (
	"time"

	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
)

// indexedResult pairs a child future's position (its index among the
// combinator's arguments, not its journal index) with its result, used
// by the fan-in goroutines below.
type indexedResult struct {
	pos    int
	result journal.Result
}

// journalOf returns the journal shared by a combinator's futures, for
// the Enter/Leave pair around the aggregate blocking receive below —
// every future passed to one combinator call belongs to the same
// invocation, so the first non-nil one will do.
func journalOf(futures []*Future) *journal.Journal {
	for _, f := range futures {
		if f != nil && f.journal != nil {
			return f.journal
		}
	}
	return nil
}

func fanIn(futures []*Future) (<-chan indexedResult, func()) {
	out := make(chan indexedResult, len(futures))
	done := make(chan struct{})
	for i, f := range futures {
		go func(pos int, f *Future) {
			select {
			case r := <-f.resultChan():
				select {
				case out <- indexedResult{pos: pos, result: r}:
				case <-done:
				}
			case <-done:
			}
		}(i, f)
	}
	return out, func() { close(done) }
}

// All resolves when every future has resolved, in argument order,
// yielding their results. It fails with the first failure encountered
// once all children have been observed.
func All(futures ...*Future) ([]journal.Result, error) {
	results := make([]journal.Result, len(futures))
	out, cancel := fanIn(futures)
	defer cancel()
	j := journalOf(futures)
	var firstErr error
	for i := 0; i < len(futures); i++ {
		if j != nil {
			j.Leave()
		}
		ir := <-out
		if j != nil {
			j.Enter()
		}
		results[ir.pos] = ir.result
		if firstErr == nil {
			if err := AsError(ir.result); err != nil {
				firstErr = err
			}
		}
	}
	return results, firstErr
}

// Race resolves with the first future to resolve, regardless of
// success or failure. Its own completion rule is evaluated whenever a
// child resolves, per spec.md §4.4; the aggregator is not itself a
// journal entry.
func Race(futures ...*Future) (int, journal.Result) {
	out, cancel := fanIn(futures)
	defer cancel()
	j := journalOf(futures)
	if j != nil {
		j.Leave()
	}
	ir := <-out
	if j != nil {
		j.Enter()
	}
	return ir.pos, ir.result
}

// Any resolves with the first *successful* future. If every future
// fails, it returns the last observed failure.
func Any(futures ...*Future) (int, journal.Result, error) {
	out, cancel := fanIn(futures)
	defer cancel()
	j := journalOf(futures)
	var lastErr error
	var lastResult journal.Result
	for i := 0; i < len(futures); i++ {
		if j != nil {
			j.Leave()
		}
		ir := <-out
		if j != nil {
			j.Enter()
		}
		if err := AsError(ir.result); err == nil {
			return ir.pos, ir.result, nil
		} else {
			lastErr = err
			lastResult = ir.result
		}
	}
	return -1, lastResult, lastErr
}

// Settled is one entry of an AllSettled result: Result holds the
// future's outcome, success or failure, as carried in journal.Result.
type Settled struct {
	Result journal.Result
}

// AllSettled waits for every future and returns all results in
// argument order, never itself failing.
func AllSettled(futures ...*Future) []Settled {
	results := make([]Settled, len(futures))
	out, cancel := fanIn(futures)
	defer cancel()
	j := journalOf(futures)
	for i := 0; i < len(futures); i++ {
		if j != nil {
			j.Leave()
		}
		ir := <-out
		if j != nil {
			j.Enter()
		}
		results[ir.pos] = Settled{Result: ir.result}
	}
	return results
}

// OrTimeout races target against an auxiliary Sleep of d. If the
// sleep fires first, the returned Future resolves to a TimeoutError
// terminal failure; otherwise it carries target's result.
func (c *Context) OrTimeout(target *Future, d time.Duration) *Future {
	timeoutFuture := c.Sleep(d)
	pos, result := Race(target, timeoutFuture)
	if pos == 1 {
		result = journal.FailureResult(wire.FailureCodeTimeout, (&TimeoutError{}).Error())
	}
	return readyFuture(target.index, result)
}
