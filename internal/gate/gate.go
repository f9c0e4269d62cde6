// Package gate implements cooperative readiness polling.
//
// A Gate waits for a predicate to hold for a required number of
// consecutive probes within a bounded window. Presence-style gates
// (a socket file appearing) use a stability threshold of 1; deep-health
// gates use a higher threshold because presence is observed before the
// service behind it is actually serving.
package gate

import (
	"context"
	"fmt"
	"time"
)

// Probe checks one readiness condition. A nil return is a passing probe.
type Probe func(ctx context.Context) error

// Gate describes a single wait operation. Create one per wait; a Gate
// holds no state across invocations.
type Gate struct {
	// Name identifies the gate in logs and timeout errors.
	Name string

	// Interval is the sleep between probes. The loop never busy-spins.
	Interval time.Duration

	// MaxWait bounds the whole wait.
	MaxWait time.Duration

	// RequiredStable is the number of consecutive passing probes needed
	// before the gate reports success. Zero means 1.
	RequiredStable int
}

// TimeoutError reports a gate that exceeded its budget, carrying the
// last probe failure for classification.
type TimeoutError struct {
	Gate    string
	Budget  time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("gate %s timed out after %s (last failure: %v)", e.Gate, e.Budget, e.LastErr)
	}
	return fmt.Sprintf("gate %s timed out after %s", e.Gate, e.Budget)
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Wait polls probe until it has passed RequiredStable times in a row or
// MaxWait elapses. A single failing probe anywhere in the window resets
// the consecutive counter to zero. Context cancellation is honored
// between probes.
func (g Gate) Wait(ctx context.Context, probe Probe) error {
	required := g.RequiredStable
	if required < 1 {
		required = 1
	}

	deadline := time.Now().Add(g.MaxWait)
	streak := 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := probe(ctx); err != nil {
			streak = 0
			lastErr = err
		} else {
			streak++
			if streak >= required {
				return nil
			}
		}

		if time.Now().Add(g.Interval).After(deadline) {
			return &TimeoutError{Gate: g.Name, Budget: g.MaxWait, LastErr: lastErr}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.Interval):
		}
	}
}
