package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/locator"
	"github.com/umputun/sitecheck/pkg/navigation"
	"github.com/umputun/sitecheck/pkg/ordering"
	"github.com/umputun/sitecheck/pkg/verify"
	"github.com/umputun/sitecheck/pkg/wait"
)

// Runner executes scenarios on one session.
type Runner struct {
	Session       *browser.Session
	NavTimeout    time.Duration // default external link timeout, session timeout when zero
	SettleTimeout time.Duration // default reorder settle timeout, session timeout when zero

	// OnStep is called after every step, used for progress output.
	OnStep func(sc *Scenario, res StepResult)
}

// StepResult is the outcome of one step.
type StepResult struct {
	verify.Result
	Index    int // 1-based
	Label    string
	Optional bool
	Duration time.Duration
}

// Report is the outcome of one scenario run.
type Report struct {
	Scenario string
	BaseURL  string
	Steps    []StepResult
	Duration time.Duration
}

// Counts returns the number of passed, failed and skipped steps.
func (r Report) Counts() (passed, failed, skipped int) {
	for _, st := range r.Steps {
		switch {
		case st.Passed():
			passed++
		case st.Failed():
			failed++
		default:
			skipped++
		}
	}
	return passed, failed, skipped
}

// OK reports a run without failed steps.
func (r Report) OK() bool {
	_, failed, _ := r.Counts()
	return failed == 0
}

// Failures returns the failed steps.
func (r Report) Failures() []StepResult {
	var res []StepResult
	for _, st := range r.Steps {
		if st.Failed() {
			res = append(res, st)
		}
	}
	return res
}

// Run executes the steps of sc in order. After the first failed step the remaining
// steps are skipped, a canceled context skips everything not yet started.
func (r *Runner) Run(ctx context.Context, sc *Scenario) Report {
	start := time.Now()
	rep := Report{Scenario: sc.Name, BaseURL: sc.BaseURL}
	stopped := ""
	for i, st := range sc.Steps {
		sr := StepResult{Index: i + 1, Label: st.Label(), Optional: st.Optional}
		stepStart := time.Now()
		switch {
		case stopped != "":
			sr.Result = verify.Skip(stopped)
		case ctx.Err() != nil:
			sr.Result = verify.Skip("run canceled")
		default:
			sr.Result = r.step(ctx, sc, st)
		}
		sr.Duration = time.Since(stepStart)
		if sr.Failed() && stopped == "" {
			stopped = fmt.Sprintf("not run, step %d failed", sr.Index)
		}
		rep.Steps = append(rep.Steps, sr)
		if r.OnStep != nil {
			r.OnStep(sc, sr)
		}
	}
	rep.Duration = time.Since(start)
	return rep
}

// step runs a single step and folds absence on optional steps into a skip.
func (r *Runner) step(ctx context.Context, sc *Scenario, st Step) verify.Result {
	res := r.exec(ctx, sc, st)
	if res.Failed() && st.Optional && verify.IsAbsence(res.Cause) {
		return verify.FromError(res.Cause, true, "")
	}
	return res
}

func (r *Runner) exec(ctx context.Context, sc *Scenario, st Step) verify.Result {
	s := r.Session
	switch {
	case st.Open != "":
		target, err := resolveURL(sc.BaseURL, st.Open)
		if err == nil {
			err = s.Driver.Navigate(ctx, target)
		}
		return verify.FromError(wrap(err, "open %s", st.Open), st.Optional, "opened "+target)

	case st.Click != nil:
		chain, _ := st.Click.Locate.Chain()
		el, err := r.interactable(ctx, chain)
		if err == nil {
			err = el.Click(ctx)
		}
		return verify.FromError(wrap(err, "click %s", chain), st.Optional, "clicked "+chain.String())

	case st.Fill != nil:
		chain, _ := st.Fill.Locate.Chain()
		el, err := r.interactable(ctx, chain)
		if err == nil {
			err = el.Fill(ctx, st.Fill.Text)
		}
		return verify.FromError(wrap(err, "fill %s", chain), st.Optional, "filled "+chain.String())

	case st.Select != nil:
		chain, _ := st.Select.Locate.Chain()
		el, err := r.interactable(ctx, chain)
		if err == nil {
			err = el.SelectOption(ctx, st.Select.Option)
		}
		return verify.FromError(wrap(err, "select %q in %s", st.Select.Option, chain), st.Optional,
			fmt.Sprintf("selected %q in %s", st.Select.Option, chain))

	case st.Wait != nil:
		state, err := r.wait(ctx, st.Wait)
		return verify.FromError(err, st.Optional, state)

	case st.ExternalLink != nil:
		l := st.ExternalLink
		chain, _ := l.Locate.Chain()
		opts := navigation.Options{Timeout: r.NavTimeout, Strict: l.Strict}
		if l.TimeoutMs > 0 {
			opts.Timeout = time.Duration(l.TimeoutMs) * time.Millisecond
		}
		if len(l.Marker) > 0 {
			opts.Marker, _ = l.Marker.Chain()
		}
		return navigation.VerifyLink(ctx, s, chain, l.Expect, st.Optional, opts)

	case st.Reorder != nil:
		ro := st.Reorder
		a, _ := ro.Assertion()
		items, _ := ro.Items.Chain()
		var action ordering.Action
		if ro.Select != nil {
			ctl, _ := ro.Select.Locate.Chain()
			action = ordering.SelectOption(s, ctl, ro.Select.Option)
		} else {
			ctl, _ := ro.Click.Locate.Chain()
			action = ordering.Click(s, ctl)
		}
		opts := ordering.Options{SettleTimeout: r.SettleTimeout}
		if ro.SettleTimeoutMs > 0 {
			opts.SettleTimeout = time.Duration(ro.SettleTimeoutMs) * time.Millisecond
		}
		return ordering.VerifyReorder(ctx, s, ordering.TextExtractor(s, items, a), action, a, opts)

	case st.Sorted != nil:
		a, _ := st.Sorted.Assertion()
		items, _ := st.Sorted.Items.Chain()
		return ordering.VerifySorted(ctx, ordering.TextExtractor(s, items, a), a)
	}
	return verify.Fail("step has no action", errors.New("no action"))
}

// interactable waits for the first visible and enabled element of chain.
func (r *Runner) interactable(ctx context.Context, chain locator.Chain) (browser.Element, error) {
	return wait.Until(ctx, wait.New(r.Session), wait.Clickable(r.Session.Driver, chain.In(locator.Interactable)))
}

// wait runs a wait step and returns the observed state.
func (r *Runner) wait(ctx context.Context, w *Wait) (string, error) {
	eng := wait.New(r.Session)
	if w.TimeoutMs > 0 {
		eng = eng.WithTimeout(time.Duration(w.TimeoutMs) * time.Millisecond)
	}
	d := r.Session.Driver
	visible := func(l Locate) wait.Lookup {
		c, _ := l.Chain()
		return c.In(locator.Visible)
	}
	var err error
	state := ""
	switch {
	case len(w.Visible) > 0:
		_, err = wait.Until(ctx, eng, wait.Visible(d, visible(w.Visible)))
		state = describe(w.Visible) + " visible"
	case len(w.Present) > 0:
		c, _ := w.Present.Chain()
		_, err = wait.Until(ctx, eng, wait.Present(d, c))
		state = describe(w.Present) + " present"
	case len(w.Clickable) > 0:
		c, _ := w.Clickable.Chain()
		_, err = wait.Until(ctx, eng, wait.Clickable(d, c.In(locator.Interactable)))
		state = describe(w.Clickable) + " clickable"
	case len(w.Gone) > 0:
		_, err = wait.Until(ctx, eng, wait.Gone(d, visible(w.Gone)))
		state = describe(w.Gone) + " gone"
	case w.URLContains != "":
		_, err = wait.Until(ctx, eng, wait.URLContains(d, w.URLContains))
		state = fmt.Sprintf("url containing %q", w.URLContains)
	case w.Text != nil && w.Text.Equals != "":
		_, err = wait.Until(ctx, eng, wait.TextEquals(d, visible(w.Text.Locate), w.Text.Equals))
		state = fmt.Sprintf("text %q", w.Text.Equals)
	case w.Text != nil:
		_, err = wait.Until(ctx, eng, wait.TextContains(d, visible(w.Text.Locate), w.Text.Contains))
		state = fmt.Sprintf("text containing %q", w.Text.Contains)
	case w.Count != nil && w.Count.Is != nil:
		_, err = wait.Until(ctx, eng, wait.CountIs(d, visible(w.Count.Locate), *w.Count.Is))
		state = fmt.Sprintf("%d elements", *w.Count.Is)
	case w.Count != nil:
		_, err = wait.Until(ctx, eng, wait.CountAtLeast(d, visible(w.Count.Locate), *w.Count.AtLeast))
		state = fmt.Sprintf("at least %d elements", *w.Count.AtLeast)
	default:
		return "", errors.New("wait has no condition")
	}
	if err != nil {
		return "", fmt.Errorf("wait %s: %w", state, err)
	}
	return state, nil
}

func describe(l Locate) string {
	c, _ := l.Chain()
	return c.String()
}

// wrap adds context to a non-nil error.
func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
