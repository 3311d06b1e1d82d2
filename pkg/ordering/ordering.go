// Package ordering verifies that a rendered list is reordered correctly by a user action,
// such as picking a sort option. The expected order is the stable sort of the list as it was
// before the action.
package ordering

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

// Extractor captures the current sequence of values.
type Extractor func(ctx context.Context) ([]Value, error)

// Action triggers the reordering.
type Action func(ctx context.Context) error

// Options tune a reorder verification.
type Options struct {
	// SettleTimeout bounds the wait for the list to settle, session timeout when zero.
	SettleTimeout time.Duration
	// Settle replaces the default settle condition.
	Settle *wait.Condition[bool]
}

// TextExtractor reads the trimmed text of every visible element matched by chain and
// parses it as a.Kind. A list that isn't there fails with locator.ErrNotFound.
func TextExtractor(s *browser.Session, chain locator.Chain, a Assertion) Extractor {
	return func(ctx context.Context) ([]Value, error) {
		els, err := locator.ResolveAll(ctx, s, chain, locator.Visible)
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(els))
		for i, el := range els {
			if texts[i], err = el.Text(ctx); err != nil {
				return nil, fmt.Errorf("read value %d of %s: %w", i, chain, err)
			}
		}
		return a.Parse(texts)
	}
}

// SelectOption returns an action choosing label in the select element found by chain.
func SelectOption(s *browser.Session, chain locator.Chain, label string) Action {
	return func(ctx context.Context) error {
		el, err := wait.Until(ctx, wait.New(s), wait.Clickable(s.Driver, chain.In(locator.Interactable)))
		if err != nil {
			return fmt.Errorf("sort control: %w", err)
		}
		if err := el.SelectOption(ctx, label); err != nil {
			return fmt.Errorf("select %q: %w", label, err)
		}
		return nil
	}
}

// Click returns an action clicking the first interactable element of chain.
func Click(s *browser.Session, chain locator.Chain) Action {
	return func(ctx context.Context) error {
		el, err := wait.Until(ctx, wait.New(s), wait.Clickable(s.Driver, chain.In(locator.Interactable)))
		if err != nil {
			return fmt.Errorf("reorder control: %w", err)
		}
		if err := el.Click(ctx); err != nil {
			return fmt.Errorf("click %s: %w", chain, err)
		}
		return nil
	}
}

// CheckReorder captures the baseline, runs action, waits for the list to settle, recaptures
// and compares with the expected order. It returns the settled sequence; a wrong order is
// reported as *MismatchError.
func CheckReorder(ctx context.Context, s *browser.Session, extract Extractor, action Action, a Assertion, opts Options) ([]Value, error) {
	before, err := extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture baseline: %w", err)
	}
	expected := a.Expected(before)
	s.Logger().Print("[DEBUG] baseline %v, expecting %s order %v", before, a, expected)

	if err := action(ctx); err != nil {
		return nil, fmt.Errorf("reorder action: %w", err)
	}

	settle := defaultSettle(extract, a, before, expected)
	if opts.Settle != nil {
		settle = *opts.Settle
	}
	_, settleErr := wait.Until(ctx, wait.New(s).WithTimeout(opts.SettleTimeout), settle)
	if settleErr != nil && (opts.Settle != nil || !errors.Is(settleErr, wait.ErrTimeout)) {
		return nil, fmt.Errorf("settle: %w", settleErr)
	}

	after, err := extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture result: %w", err)
	}
	if mm := a.Diff(expected, after); mm != nil {
		if settleErr != nil {
			// the default settle condition only times out when the list never took the expected shape
			mm.Note = "list did not settle: " + settleErr.Error()
		}
		return after, mm
	}
	return after, nil
}

// defaultSettle waits until the list has the same length as before and either differs from
// before or already matches the expected order. Extraction errors are transient here,
// the list is typically being re-rendered.
func defaultSettle(extract Extractor, a Assertion, before, expected []Value) wait.Condition[bool] {
	return wait.Condition[bool]{
		Desc: fmt.Sprintf("list of %d values to settle in %s order", len(before), a),
		Poll: func(ctx context.Context) (wait.Observation[bool], error) {
			cur, err := extract(ctx)
			if err != nil {
				return wait.Unmet[bool]("extract failed"), err
			}
			state := fmt.Sprintf("%d values %v", len(cur), cur)
			if len(cur) != len(before) {
				return wait.Unmet[bool](state), nil
			}
			if a.Diff(expected, cur) == nil || !rawEqual(cur, before) {
				return wait.Met(true, state), nil
			}
			return wait.Unmet[bool](state), nil
		},
	}
}

func rawEqual(x, y []Value) bool {
	return slices.EqualFunc(x, y, func(a, b Value) bool { return a.Raw == b.Raw })
}

// VerifyReorder is CheckReorder reported as a verification result.
func VerifyReorder(ctx context.Context, s *browser.Session, extract Extractor, action Action, a Assertion, opts Options) verify.Result {
	after, err := CheckReorder(ctx, s, extract, action, a, opts)
	if err != nil {
		return verify.Fail(fmt.Sprintf("%s reorder", a), err)
	}
	return verify.Pass(fmt.Sprintf("%d values in %s order: %s", len(after), a, joinRaw(after)))
}

// CheckSorted verifies that the current sequence is already in the expected order,
// e.g. the default sort of a page on load.
func CheckSorted(ctx context.Context, extract Extractor, a Assertion) ([]Value, error) {
	cur, err := extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if mm := a.Diff(a.Expected(cur), cur); mm != nil {
		return cur, mm
	}
	return cur, nil
}

// VerifySorted is CheckSorted reported as a verification result.
func VerifySorted(ctx context.Context, extract Extractor, a Assertion) verify.Result {
	cur, err := CheckSorted(ctx, extract, a)
	if err != nil {
		return verify.Fail(fmt.Sprintf("%s order", a), err)
	}
	return verify.Pass(fmt.Sprintf("%d values in %s order: %s", len(cur), a, joinRaw(cur)))
}

func joinRaw(vals []Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.Raw
	}
	return strings.Join(parts, ", ")
}
