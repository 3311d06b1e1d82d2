// Package verify defines the tri-state outcome of a verification step.
package verify

import (
	"errors"
	"fmt"

	"github.com/umputun/sitecheck/pkg/locator"
	"github.com/umputun/sitecheck/pkg/wait"
)

// Status of a verification.
type Status string

// status values
const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Result is the outcome of one verification call.
type Result struct {
	Status Status
	Reason string // human readable summary
	Cause  error  // underlying error for failures and error-driven skips
	Notes  []string
}

// Pass makes a passing result.
func Pass(reason string) Result { return Result{Status: StatusPass, Reason: reason} }

// Fail makes a failing result.
func Fail(reason string, cause error) Result {
	return Result{Status: StatusFail, Reason: reason, Cause: cause}
}

// Skip makes a skipped result.
func Skip(reason string) Result { return Result{Status: StatusSkip, Reason: reason} }

// Passed reports a pass.
func (r Result) Passed() bool { return r.Status == StatusPass }

// Failed reports a failure.
func (r Result) Failed() bool { return r.Status == StatusFail }

// Skipped reports a skip.
func (r Result) Skipped() bool { return r.Status == StatusSkip }

// Note returns a copy with an extra diagnostic note.
func (r Result) Note(format string, args ...any) Result {
	r.Notes = append(append([]string(nil), r.Notes...), fmt.Sprintf(format, args...))
	return r
}

// Err returns nil unless the result failed, so test code can require.NoError(t, res.Err()).
func (r Result) Err() error {
	if r.Status != StatusFail {
		return nil
	}
	if r.Cause == nil {
		return errors.New(r.Reason)
	}
	return fmt.Errorf("%s: %w", r.Reason, r.Cause)
}

func (r Result) String() string {
	s := string(r.Status) + ": " + r.Reason
	if r.Cause != nil && r.Status != StatusPass {
		s += ": " + r.Cause.Error()
	}
	return s
}

// FromError converts an error into a result. A nil error passes with okReason.
// On optional paths element-not-found and timeouts mean "feature absent" and become Skip;
// everything else, and any error on a required path, is a Fail.
func FromError(err error, optional bool, okReason string) Result {
	if err == nil {
		return Pass(okReason)
	}
	if optional && IsAbsence(err) {
		return Result{Status: StatusSkip, Reason: "feature absent", Cause: err}
	}
	return Fail("verification failed", err)
}

// IsAbsence reports errors that mean the target is not there, as opposed to wrong behavior.
// Mismatch errors never count as absence, even when they wrap a timeout.
func IsAbsence(err error) bool {
	var mm interface{ Mismatch() bool }
	if errors.As(err, &mm) && mm.Mismatch() {
		return false
	}
	return errors.Is(err, locator.ErrNotFound) || errors.Is(err, wait.ErrTimeout)
}
