// Package converge waits for host-side state to catch up with a mutation.
// Host mutations are asynchronous: the gateway re-reads observable state
// until a predicate holds or a bounded attempt budget runs out. Running out
// is not a failure; callers report the outcome and move on.
package converge

import (
	"context"
	"time"
)

// Policy bounds one wait: how many predicate evaluations to spend and how
// long to pause between them.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Condition reads observable state. Returning an error means the state
// could not be read this round and counts as not ready, not as a failure.
type Condition func(ctx context.Context) (bool, error)

// Result reports how a wait ended.
type Result struct {
	Confirmed bool
	Attempts  int
}

// Await evaluates cond until it holds or the budget is exhausted. The only
// error it returns is the context's: cancellation is the sole way to abort
// a wait early without an answer.
func Await(ctx context.Context, policy Policy, cond Condition) (Result, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := cond(ctx)
		if err == nil && ok {
			return Result{Confirmed: true, Attempts: attempt}, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return Result{Attempts: attempt}, ctx.Err()
		case <-time.After(policy.Interval):
		}
	}
	return Result{Attempts: attempts}, nil
}
