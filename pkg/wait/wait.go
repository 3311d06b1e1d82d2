// Package wait polls conditions against a live page until they are satisfied or time runs out.
// Polling is cooperative: the caller's goroutine sleeps between polls, nothing runs in background.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/umputun/sitecheck/pkg/browser"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("wait timed out")

// TimeoutError reports a condition that never became true.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	Polls     int
	Last      string // last observed state
	Err       error  // last poll error or the context error, may be nil
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %v waiting for %s", e.Timeout, e.Condition)
	if e.Last != "" {
		msg += ", last observed: " + e.Last
	}
	if e.Err != nil {
		msg += ", last error: " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Unwrap returns the last poll or context error.
func (e *TimeoutError) Unwrap() error { return e.Err }

// Observation is what a single poll saw.
type Observation[T any] struct {
	Value T
	OK    bool   // condition satisfied
	State string // what was seen, used in timeout diagnostics
}

// Met is a satisfied observation.
func Met[T any](v T, state string) Observation[T] { return Observation[T]{Value: v, OK: true, State: state} }

// Unmet is an unsatisfied observation.
func Unmet[T any](state string) Observation[T] { return Observation[T]{State: state} }

// Condition is a named check of page state.
type Condition[T any] struct {
	Desc string
	Poll func(ctx context.Context) (Observation[T], error)
}

// Func adapts a boolean check into a Condition.
func Func(desc string, fn func(ctx context.Context) (bool, error)) Condition[bool] {
	return Condition[bool]{Desc: desc, Poll: func(ctx context.Context) (Observation[bool], error) {
		ok, err := fn(ctx)
		if err != nil {
			return Unmet[bool](""), err
		}
		if !ok {
			return Unmet[bool]("false"), nil
		}
		return Met(true, "true"), nil
	}}
}

// stopError marks a poll error that ends polling immediately.
type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop wraps err so Until returns it right away instead of polling on.
// Poll errors that are not wrapped are treated as transient, e.g. a stale element mid re-render.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Engine holds polling timings.
type Engine struct {
	Timeout  time.Duration
	Interval time.Duration
}

// New makes an engine with the session's timings.
func New(s *browser.Session) Engine {
	return Engine{Timeout: s.WaitTimeout(), Interval: s.WaitPollInterval()}
}

// WithTimeout returns a copy with another timeout, non-positive values keep the current one.
func (e Engine) WithTimeout(d time.Duration) Engine {
	if d > 0 {
		e.Timeout = d
	}
	return e
}

func (e Engine) normalized() Engine {
	if e.Timeout <= 0 {
		e.Timeout = browser.DefaultTimeout
	}
	if e.Interval <= 0 {
		e.Interval = browser.DefaultPollInterval
	}
	return e
}

// Until polls c every interval until it is satisfied, returning the satisfying value.
// It returns a *TimeoutError once the timeout elapses or ctx is done; a poll error wrapped
// with Stop is returned as is. Total wall time is bounded by timeout plus one poll interval.
func Until[T any](ctx context.Context, e Engine, c Condition[T]) (T, error) {
	var zero T
	e = e.normalized()
	deadline := time.Now().Add(e.Timeout)

	// polls get a hard bound too, so a hung backend call can't overrun the wait
	pollCtx, cancel := context.WithDeadline(ctx, deadline.Add(e.Interval))
	defer cancel()

	timeoutErr := &TimeoutError{Condition: c.Desc, Timeout: e.Timeout}
	timer := time.NewTimer(e.Interval)
	timer.Stop()
	defer timer.Stop()

	for {
		obs, err := c.Poll(pollCtx)
		timeoutErr.Polls++
		var stop *stopError
		switch {
		case errors.As(err, &stop):
			return zero, stop.err
		case err != nil:
			timeoutErr.Err = err
		case obs.OK:
			return obs.Value, nil
		default:
			timeoutErr.Err = nil
		}
		if obs.State != "" {
			timeoutErr.Last = obs.State
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, timeoutErr
		}
		timer.Reset(min(e.Interval, remaining))
		select {
		case <-ctx.Done():
			timeoutErr.Err = ctx.Err()
			return zero, timeoutErr
		case <-timer.C:
		}
	}
}

// Check polls c once. Absence is a normal outcome reported by ok=false, not an error.
func Check[T any](ctx context.Context, c Condition[T]) (v T, ok bool, err error) {
	obs, err := c.Poll(ctx)
	if err != nil {
		var stop *stopError
		if errors.As(err, &stop) {
			err = stop.err
		}
		return v, false, err
	}
	return obs.Value, obs.OK, nil
}
