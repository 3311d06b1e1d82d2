package verify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitecheck/pkg/locator"
	"github.com/umputun/sitecheck/pkg/wait"
)

type mismatchErr struct{}

func (mismatchErr) Error() string  { return "order mismatch" }
func (mismatchErr) Mismatch() bool { return true }

func TestFromError(t *testing.T) {
	notFound := &locator.NotFoundError{Candidates: locator.Of(locator.ID("a"), locator.CSS(".b"))}
	timeout := &wait.TimeoutError{Condition: "element visible"}
	other := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		optional bool
		want     Status
	}{
		{name: "nil passes", err: nil, want: StatusPass},
		{name: "not found required", err: notFound, want: StatusFail},
		{name: "not found optional", err: notFound, optional: true, want: StatusSkip},
		{name: "wrapped timeout optional", err: fmt.Errorf("step: %w", timeout), optional: true, want: StatusSkip},
		{name: "timeout required", err: timeout, want: StatusFail},
		{name: "other optional", err: other, optional: true, want: StatusFail},
		{name: "mismatch optional", err: mismatchErr{}, optional: true, want: StatusFail},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := FromError(tc.err, tc.optional, "ok")
			assert.Equal(t, tc.want, res.Status)
			if tc.err != nil {
				assert.ErrorIs(t, res.Cause, tc.err)
			}
		})
	}
}

func TestResult_Err(t *testing.T) {
	require.NoError(t, Pass("fine").Err())
	require.NoError(t, Skip("absent").Err())

	err := Fail("link", errors.New("wrong domain")).Err()
	require.Error(t, err)
	assert.Equal(t, "link: wrong domain", err.Error())

	err = Fail("no cause", nil).Err()
	require.EqualError(t, err, "no cause")
}

func TestResult_Note(t *testing.T) {
	r := Pass("ok")
	r2 := r.Note("picked %s", "ctx-2")
	assert.Empty(t, r.Notes)
	assert.Equal(t, []string{"picked ctx-2"}, r2.Notes)
	assert.True(t, r2.Passed())
	assert.Equal(t, "pass: ok", r2.String())
	assert.Equal(t, "skip: gone", Skip("gone").String())
	assert.True(t, Skip("gone").Skipped())
	assert.True(t, Fail("x", nil).Failed())
}
