package wait

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/umputun/sitecheck/pkg/browser"
)

// Lookup finds the elements a condition inspects. locator.Chain implements it.
type Lookup interface {
	Elements(ctx context.Context, d browser.Driver) ([]browser.Element, error)
	String() string
}

// Present is satisfied by the first element the lookup returns, visible or not.
func Present(d browser.Driver, l Lookup) Condition[browser.Element] {
	return Condition[browser.Element]{
		Desc: fmt.Sprintf("element present %s", l),
		Poll: func(ctx context.Context) (Observation[browser.Element], error) {
			els, err := l.Elements(ctx, d)
			if err != nil {
				return Unmet[browser.Element]("lookup failed"), err
			}
			if len(els) == 0 {
				return Unmet[browser.Element]("no elements"), nil
			}
			return Met(els[0], fmt.Sprintf("%d elements", len(els))), nil
		},
	}
}

// Visible is satisfied by the first rendered element of the lookup.
func Visible(d browser.Driver, l Lookup) Condition[browser.Element] {
	return Condition[browser.Element]{
		Desc: fmt.Sprintf("element visible %s", l),
		Poll: func(ctx context.Context) (Observation[browser.Element], error) {
			return firstMatching(ctx, d, l, false)
		},
	}
}

// Clickable is satisfied by the first element that is both visible and enabled.
func Clickable(d browser.Driver, l Lookup) Condition[browser.Element] {
	return Condition[browser.Element]{
		Desc: fmt.Sprintf("element clickable %s", l),
		Poll: func(ctx context.Context) (Observation[browser.Element], error) {
			return firstMatching(ctx, d, l, true)
		},
	}
}

func firstMatching(ctx context.Context, d browser.Driver, l Lookup, enabled bool) (Observation[browser.Element], error) {
	els, err := l.Elements(ctx, d)
	if err != nil {
		return Unmet[browser.Element]("lookup failed"), err
	}
	if len(els) == 0 {
		return Unmet[browser.Element]("no elements"), nil
	}
	hidden, disabled := 0, 0
	for _, el := range els {
		vis, err := el.Visible(ctx)
		if err != nil {
			return Unmet[browser.Element]("visibility check failed"), err
		}
		if !vis {
			hidden++
			continue
		}
		if enabled {
			en, err := el.Enabled(ctx)
			if err != nil {
				return Unmet[browser.Element]("enabled check failed"), err
			}
			if !en {
				disabled++
				continue
			}
		}
		return Met(el, fmt.Sprintf("%d elements", len(els))), nil
	}
	return Unmet[browser.Element](fmt.Sprintf("%d elements, %d hidden, %d disabled", len(els), hidden, disabled)), nil
}

// Gone is satisfied once the lookup has no visible element left.
func Gone(d browser.Driver, l Lookup) Condition[struct{}] {
	return Condition[struct{}]{
		Desc: fmt.Sprintf("element gone %s", l),
		Poll: func(ctx context.Context) (Observation[struct{}], error) {
			obs, err := firstMatching(ctx, d, l, false)
			if err != nil {
				return Unmet[struct{}]("lookup failed"), err
			}
			if obs.OK {
				return Unmet[struct{}]("still visible: " + obs.State), nil
			}
			return Met(struct{}{}, obs.State), nil
		},
	}
}

// Stale is satisfied once el is detached from the document.
func Stale(el browser.Element) Condition[struct{}] {
	return Condition[struct{}]{
		Desc: "element to become stale",
		Poll: func(ctx context.Context) (Observation[struct{}], error) {
			attached, err := el.Attached(ctx)
			if err != nil {
				return Unmet[struct{}]("attach check failed"), err
			}
			if attached {
				return Unmet[struct{}]("still attached"), nil
			}
			return Met(struct{}{}, "detached"), nil
		},
	}
}

// URLContains is satisfied when the current location contains substr.
func URLContains(d browser.Driver, substr string) Condition[string] {
	return urlCondition(d, fmt.Sprintf("url containing %q", substr), func(u string) bool {
		return strings.Contains(u, substr)
	})
}

// URLEquals is satisfied when the current location equals url.
func URLEquals(d browser.Driver, url string) Condition[string] {
	return urlCondition(d, fmt.Sprintf("url equal to %q", url), func(u string) bool { return u == url })
}

// URLMatches is satisfied when the current location matches re.
func URLMatches(d browser.Driver, re *regexp.Regexp) Condition[string] {
	return urlCondition(d, fmt.Sprintf("url matching %q", re), re.MatchString)
}

func urlCondition(d browser.Driver, desc string, match func(string) bool) Condition[string] {
	return Condition[string]{
		Desc: desc,
		Poll: func(ctx context.Context) (Observation[string], error) {
			u, err := d.URL(ctx)
			if err != nil {
				return Unmet[string](""), err
			}
			if !match(u) {
				return Unmet[string]("url " + u), nil
			}
			return Met(u, "url "+u), nil
		},
	}
}

// CountIs is satisfied when the lookup returns exactly n elements.
func CountIs(d browser.Driver, l Lookup, n int) Condition[int] {
	return countCondition(d, l, fmt.Sprintf("%d elements %s", n, l), func(c int) bool { return c == n })
}

// CountAtLeast is satisfied when the lookup returns n or more elements.
func CountAtLeast(d browser.Driver, l Lookup, n int) Condition[int] {
	return countCondition(d, l, fmt.Sprintf("at least %d elements %s", n, l), func(c int) bool { return c >= n })
}

func countCondition(d browser.Driver, l Lookup, desc string, match func(int) bool) Condition[int] {
	return Condition[int]{
		Desc: desc,
		Poll: func(ctx context.Context) (Observation[int], error) {
			els, err := l.Elements(ctx, d)
			if err != nil {
				return Unmet[int]("lookup failed"), err
			}
			state := fmt.Sprintf("%d elements", len(els))
			if !match(len(els)) {
				return Unmet[int](state), nil
			}
			return Met(len(els), state), nil
		},
	}
}

// TextEquals is satisfied when the first element's trimmed text equals want.
func TextEquals(d browser.Driver, l Lookup, want string) Condition[string] {
	return textCondition(d, l, fmt.Sprintf("text %q in %s", want, l), func(s string) bool { return s == want })
}

// TextContains is satisfied when the first element's text contains substr.
func TextContains(d browser.Driver, l Lookup, substr string) Condition[string] {
	return textCondition(d, l, fmt.Sprintf("text containing %q in %s", substr, l), func(s string) bool {
		return strings.Contains(s, substr)
	})
}

func textCondition(d browser.Driver, l Lookup, desc string, match func(string) bool) Condition[string] {
	return Condition[string]{
		Desc: desc,
		Poll: func(ctx context.Context) (Observation[string], error) {
			els, err := l.Elements(ctx, d)
			if err != nil {
				return Unmet[string]("lookup failed"), err
			}
			if len(els) == 0 {
				return Unmet[string]("no elements"), nil
			}
			text, err := els[0].Text(ctx)
			if err != nil {
				return Unmet[string]("text read failed"), err
			}
			text = strings.TrimSpace(text)
			if !match(text) {
				return Unmet[string](fmt.Sprintf("text %q", text)), nil
			}
			return Met(text, fmt.Sprintf("text %q", text)), nil
		},
	}
}

// ContextsMoreThan is satisfied when more than n contexts are open.
func ContextsMoreThan(d browser.Driver, n int) Condition[[]browser.ContextID] {
	return Condition[[]browser.ContextID]{
		Desc: fmt.Sprintf("more than %d open contexts", n),
		Poll: func(ctx context.Context) (Observation[[]browser.ContextID], error) {
			ids, err := d.Contexts(ctx)
			if err != nil {
				return Unmet[[]browser.ContextID](""), err
			}
			state := fmt.Sprintf("%d contexts", len(ids))
			if len(ids) <= n {
				return Unmet[[]browser.ContextID](state), nil
			}
			return Met(ids, state), nil
		},
	}
}
