// Package navigation verifies that following a link leads to the expected destination and
// restores the browser afterwards. A link may open a new browsing context (target=_blank,
// window.open) or navigate the current one; both are detected and handled.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/locator"
	"github.com/umputun/sitecheck/pkg/verify"
	"github.com/umputun/sitecheck/pkg/wait"
)

// ErrMismatch is matched by every *MismatchError.
var ErrMismatch = errors.New("navigation mismatch")

// MismatchError reports a link that led somewhere other than expected.
type MismatchError struct {
	Link       string // link description, text and href
	Fragment   string // expected location fragment
	Actual     string // location that was reached
	NewContext bool
	Reason     string // set when the mismatch is not about the location
}

func (e *MismatchError) Error() string {
	where := "same context"
	if e.NewContext {
		where = "new context"
	}
	if e.Reason != "" {
		return fmt.Sprintf("link %s: %s", e.Link, e.Reason)
	}
	return fmt.Sprintf("link %s led to %q in %s, expected location containing %q", e.Link, e.Actual, where, e.Fragment)
}

// Is makes errors.Is(err, ErrMismatch) true.
func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// Mismatch marks the error as wrong behavior rather than absence.
func (e *MismatchError) Mismatch() bool { return true }

// TimeoutError reports a click that neither opened a context nor reached the expected location.
// It wraps the underlying *wait.TimeoutError, so errors.Is(err, wait.ErrTimeout) holds.
type TimeoutError struct {
	Link     string
	Fragment string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("navigation timeout: link %s opened no context and reached no location containing %q: %v",
		e.Link, e.Fragment, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RestoreError reports that the browser could not be put back the way it was before the click.
type RestoreError struct {
	Err error
}

func (e *RestoreError) Error() string { return "restore browser: " + e.Err.Error() }

func (e *RestoreError) Unwrap() error { return e.Err }

// Mismatch keeps restore failures out of the "feature absent" class, a broken
// environment must fail the step even on optional paths.
func (e *RestoreError) Mismatch() bool { return true }

// Options tune a link verification.
type Options struct {
	// Timeout bounds detection and the wait for the destination location, session timeout when zero.
	Timeout time.Duration
	// Marker locates content of the original page that must be visible again after going back
	// in the same context. When empty the original URL is awaited instead.
	Marker locator.Chain
	// Strict turns more than one new context into a mismatch instead of a note.
	Strict bool
}

// Outcome describes a verified navigation.
type Outcome struct {
	Link       string
	URL        string // destination location
	NewContext bool
	Context    browser.ContextID // context that showed the destination
	Notes      []string
}

// detection is what the click produced, whichever came first.
type detection struct {
	fresh []browser.ContextID
	url   string
}

// CheckExternalLink clicks link, detects whether it opened a new context or navigated the current
// one, checks the destination location contains fragment and restores the original context.
// After it returns the original context is current and contexts opened by the click are closed,
// on failures too where possible.
func CheckExternalLink(ctx context.Context, s *browser.Session, link browser.Element, fragment string, opts Options) (Outcome, error) {
	d := s.Driver
	log := s.Logger()
	eng := wait.New(s).WithTimeout(opts.Timeout)

	origin := d.Current()
	before, err := d.Contexts(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list contexts: %w", err)
	}
	origURL, err := d.URL(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read location: %w", err)
	}
	out := Outcome{Link: describe(ctx, link)}
	log.Print("[DEBUG] following %s from %s (%d contexts), expecting %q", out.Link, origURL, len(before), fragment)

	if err := link.Click(ctx); err != nil {
		return out, fmt.Errorf("click %s: %w", out.Link, err)
	}

	det, err := wait.Until(ctx, eng, detect(d, before, origURL, fragment))
	if err != nil {
		return out, undetected(ctx, s, eng, out, origin, before, origURL, fragment, opts, err)
	}

	if len(det.fresh) > 0 {
		return newContextBranch(ctx, s, eng, out, det.fresh, origin, before, fragment, opts)
	}
	return sameContextBranch(ctx, s, eng, out, det.url, origURL, opts)
}

func newContextBranch(ctx context.Context, s *browser.Session, eng wait.Engine, out Outcome, fresh []browser.ContextID,
	origin browser.ContextID, before []browser.ContextID, fragment string, opts Options) (Outcome, error) {
	d := s.Driver
	out.NewContext = true
	out.Context = fresh[0]

	var verr error
	if len(fresh) > 1 {
		note := fmt.Sprintf("click opened %d new contexts %v, checked the first one", len(fresh), fresh)
		out.Notes = append(out.Notes, note)
		s.Logger().Print("[WARN] %s: %s", out.Link, note)
		if opts.Strict {
			verr = &MismatchError{Link: out.Link, Fragment: fragment, NewContext: true,
				Reason: fmt.Sprintf("opened %d new contexts, expected one", len(fresh))}
		}
	}

	if verr == nil {
		verr = func() error {
			if err := d.SwitchTo(ctx, out.Context); err != nil {
				return fmt.Errorf("switch to new context: %w", err)
			}
			// the new context usually starts blank and may pass through redirects
			u, err := wait.Until(ctx, eng, wait.URLContains(d, fragment))
			if err != nil {
				actual, _ := d.URL(ctx)
				return &MismatchError{Link: out.Link, Fragment: fragment, Actual: actual, NewContext: true}
			}
			out.URL = u
			return nil
		}()
	}

	if rerr := restoreContexts(ctx, d, origin, before); rerr != nil {
		return out, errors.Join(verr, &RestoreError{Err: rerr})
	}
	return out, verr
}

func sameContextBranch(ctx context.Context, s *browser.Session, eng wait.Engine, out Outcome, url, origURL string,
	opts Options) (Outcome, error) {
	out.URL = url
	out.Context = s.Driver.Current()
	if err := goBack(ctx, s.Driver, eng, url, origURL, opts); err != nil {
		return out, &RestoreError{Err: err}
	}
	return out, nil
}

// undetected builds the error of a click whose destination was never detected. A location that
// changed without a new context is a same-context mismatch, the original page is then restored by
// going back. Otherwise the click timed out. Contexts opened late are closed in both cases.
func undetected(ctx context.Context, s *browser.Session, eng wait.Engine, out Outcome, origin browser.ContextID,
	before []browser.ContextID, origURL, fragment string, opts Options, waitErr error) error {
	d := s.Driver
	var navErr error = &TimeoutError{Link: out.Link, Fragment: fragment, Err: waitErr}
	if rerr := restoreContexts(ctx, d, origin, before); rerr != nil {
		return errors.Join(navErr, &RestoreError{Err: rerr})
	}
	u, err := d.URL(ctx)
	if err != nil || u == origURL {
		return navErr
	}
	navErr = &MismatchError{Link: out.Link, Fragment: fragment, Actual: u}
	if err := goBack(ctx, d, eng, u, origURL, opts); err != nil {
		return errors.Join(navErr, &RestoreError{Err: err})
	}
	return navErr
}

// goBack navigates back from url and waits for the original page, by its marker when set.
func goBack(ctx context.Context, d browser.Driver, eng wait.Engine, url, origURL string, opts Options) error {
	if err := d.Back(ctx); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	var err error
	if len(opts.Marker) > 0 {
		_, err = wait.Until(ctx, eng, wait.Visible(d, opts.Marker))
	} else {
		_, err = wait.Until(ctx, eng, wait.URLEquals(d, origURL))
	}
	if err != nil {
		return fmt.Errorf("return from %s: %w", url, err)
	}
	return nil
}

// detect waits for either new contexts or a location containing fragment. When the original
// location already contains fragment the location must also change, otherwise the page the
// link lives on would count as its destination.
func detect(d browser.Driver, before []browser.ContextID, origURL, fragment string) wait.Condition[detection] {
	return wait.Condition[detection]{
		Desc: fmt.Sprintf("new context or location containing %q", fragment),
		Poll: func(ctx context.Context) (wait.Observation[detection], error) {
			ids, err := d.Contexts(ctx)
			if err != nil {
				return wait.Unmet[detection]("contexts unavailable"), err
			}
			if fresh := added(before, ids); len(fresh) > 0 {
				return wait.Met(detection{fresh: fresh}, fmt.Sprintf("%d new contexts", len(fresh))), nil
			}
			u, err := d.URL(ctx)
			if err != nil {
				return wait.Unmet[detection]("location unavailable"), err
			}
			if strings.Contains(u, fragment) && (u != origURL || !strings.Contains(origURL, fragment)) {
				return wait.Met(detection{url: u}, "url "+u), nil
			}
			return wait.Unmet[detection](fmt.Sprintf("%d contexts, url %s", len(ids), u)), nil
		},
	}
}

// restoreContexts closes every context not in before and switches back to origin.
func restoreContexts(ctx context.Context, d browser.Driver, origin browser.ContextID, before []browser.ContextID) error {
	ids, err := d.Contexts(ctx)
	if err != nil {
		return fmt.Errorf("list contexts: %w", err)
	}
	var errs []error
	for _, id := range added(before, ids) {
		if err := d.CloseContext(ctx, id); err != nil && !errors.Is(err, browser.ErrNoSuchContext) {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	if err := d.SwitchTo(ctx, origin); err != nil {
		errs = append(errs, fmt.Errorf("switch back to %s: %w", origin, err))
	}
	return errors.Join(errs...)
}

// added returns ids not present in before, in driver order.
func added(before, ids []browser.ContextID) []browser.ContextID {
	var res []browser.ContextID
	for _, id := range ids {
		if !slices.Contains(before, id) {
			res = append(res, id)
		}
	}
	return res
}

// describe renders a link for diagnostics, read before the click since the handle may go stale.
func describe(ctx context.Context, link browser.Element) string {
	text, _ := link.Text(ctx)
	text = strings.Join(strings.Fields(text), " ")
	href, ok, _ := link.Attribute(ctx, "href")
	switch {
	case text != "" && ok:
		return fmt.Sprintf("%q (%s)", text, href)
	case ok:
		return href
	case text != "":
		return fmt.Sprintf("%q", text)
	}
	return "<link>"
}

// VerifyExternalLink is CheckExternalLink reported as a verification result.
func VerifyExternalLink(ctx context.Context, s *browser.Session, link browser.Element, fragment string, opts Options) verify.Result {
	return result(CheckExternalLink(ctx, s, link, fragment, opts))
}

// CheckLink waits for the first interactable element of chain and checks it as an external link.
// A missing link fails with a wait timeout, which optional callers treat as absence.
func CheckLink(ctx context.Context, s *browser.Session, chain locator.Chain, fragment string, opts Options) (Outcome, error) {
	link, err := wait.Until(ctx, wait.New(s), wait.Clickable(s.Driver, chain.In(locator.Interactable)))
	if err != nil {
		return Outcome{Link: chain.String()}, fmt.Errorf("link %s: %w", chain, err)
	}
	return CheckExternalLink(ctx, s, link, fragment, opts)
}

// VerifyLink is CheckLink reported as a verification result. With optional set a missing link
// is a Skip.
func VerifyLink(ctx context.Context, s *browser.Session, chain locator.Chain, fragment string, optional bool, opts Options) verify.Result {
	out, err := CheckLink(ctx, s, chain, fragment, opts)
	if err != nil && optional && verify.IsAbsence(err) {
		return verify.FromError(err, true, "")
	}
	return result(out, err)
}

func result(out Outcome, err error) verify.Result {
	if err != nil {
		return verify.Fail(fmt.Sprintf("external link %s", out.Link), err)
	}
	where := "same context"
	if out.NewContext {
		where = "new context"
	}
	res := verify.Pass(fmt.Sprintf("%s opened %s in %s", out.Link, out.URL, where))
	for _, n := range out.Notes {
		res = res.Note("%s", n)
	}
	return res
}
