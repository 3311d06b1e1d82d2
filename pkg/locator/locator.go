// Package locator resolves elements through an ordered chain of candidate queries.
// Target pages have inconsistent markup, so every lookup names several ways of finding the
// same element and the first candidate that matches wins.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/umputun/sitecheck/pkg/browser"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("element not found")

// Mode selects which matched elements count.
type Mode int

// resolution modes
const (
	Present      Mode = iota // attached to the document, visible or not
	Visible                  // rendered
	Interactable             // rendered and enabled
)

func (m Mode) String() string {
	switch m {
	case Visible:
		return "visible"
	case Interactable:
		return "interactable"
	default:
		return "present"
	}
}

// ID finds elements by id attribute.
func ID(id string) browser.Query { return browser.Query{By: browser.ByID, Value: id} }

// CSS finds elements by CSS selector.
func CSS(sel string) browser.Query { return browser.Query{By: browser.ByCSS, Value: sel} }

// XPath finds elements by XPath expression.
func XPath(expr string) browser.Query { return browser.Query{By: browser.ByXPath, Value: expr} }

// Name finds elements by name attribute.
func Name(name string) browser.Query { return browser.Query{By: browser.ByName, Value: name} }

// Text finds the innermost tag elements whose normalized text contains s. Empty tag means any.
func Text(tag, s string) browser.Query { return browser.Query{By: browser.ByText, Tag: tag, Value: s} }

// LinkText finds links whose normalized text equals s.
func LinkText(s string) browser.Query { return browser.Query{By: browser.ByLinkText, Value: s} }

// Chain is an ordered list of candidate queries; order is priority, first match wins.
type Chain []browser.Query

// Of builds a chain from candidates in priority order.
func Of(candidates ...browser.Query) Chain { return Chain(candidates) }

// Or returns a copy of the chain with fallbacks appended.
func (c Chain) Or(fallbacks ...browser.Query) Chain {
	res := make(Chain, 0, len(c)+len(fallbacks))
	res = append(res, c...)
	return append(res, fallbacks...)
}

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, q := range c {
		parts[i] = q.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Elements returns the elements of the first candidate matching anything, in Present mode.
// An empty result with nil error means nothing matched.
func (c Chain) Elements(ctx context.Context, d browser.Driver) ([]browser.Element, error) {
	return c.In(Present).Elements(ctx, d)
}

// In returns a lookup of the chain restricted to mode, usable in wait conditions.
func (c Chain) In(mode Mode) ModeLookup { return ModeLookup{Chain: c, Mode: mode} }

// ModeLookup is a chain bound to a resolution mode.
type ModeLookup struct {
	Chain Chain
	Mode  Mode
}

// Elements returns the filtered elements of the first matching candidate, or none.
func (l ModeLookup) Elements(ctx context.Context, d browser.Driver) ([]browser.Element, error) {
	els, _, err := resolve(ctx, d, l.Chain, l.Mode)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return els, err
}

func (l ModeLookup) String() string {
	if l.Mode == Present {
		return l.Chain.String()
	}
	return l.Mode.String() + " " + l.Chain.String()
}

// NotFoundError reports that no candidate of a chain matched.
type NotFoundError struct {
	Candidates Chain
	Mode       Mode
	Errs       map[int]error // candidate index -> query error
}

func (e *NotFoundError) Error() string {
	if len(e.Candidates) == 0 {
		return "element not found: no locator candidates"
	}
	msg := fmt.Sprintf("no %s element matched any of %s", e.Mode, e.Candidates)
	for i, q := range e.Candidates {
		if err, ok := e.Errs[i]; ok {
			msg += fmt.Sprintf("; %s: %v", q, err)
		}
	}
	return msg
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Match is the outcome of Find: either a found element or a normal absence.
type Match struct {
	Element browser.Element
	Query   browser.Query // candidate that matched
	Index   int           // candidate position in the chain
	Found   bool
}

// Resolve returns the first element of the first candidate that has a match in the given mode.
// It fails with *NotFoundError carrying every candidate and the lookup errors of failed candidates
// when nothing matches.
func Resolve(ctx context.Context, s *browser.Session, c Chain, mode Mode) (browser.Element, error) {
	els, _, err := resolve(ctx, s.Driver, c, mode)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

// ResolveAll returns all matching elements of the first candidate that has any match in mode.
func ResolveAll(ctx context.Context, s *browser.Session, c Chain, mode Mode) ([]browser.Element, error) {
	els, _, err := resolve(ctx, s.Driver, c, mode)
	return els, err
}

// Find is Resolve with absence reported as Match.Found=false instead of an error.
// Backend errors of individual candidates don't abort the chain; context errors do.
func Find(ctx context.Context, s *browser.Session, c Chain, mode Mode) (Match, error) {
	els, idx, err := resolve(ctx, s.Driver, c, mode)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			for i, qerr := range nf.Errs {
				s.Logger().Print("[DEBUG] locator candidate %s failed: %v", c[i], qerr)
			}
			return Match{}, nil
		}
		return Match{}, err
	}
	return Match{Element: els[0], Query: c[idx], Index: idx, Found: true}, nil
}

func resolve(ctx context.Context, d browser.Driver, c Chain, mode Mode) ([]browser.Element, int, error) {
	nf := &NotFoundError{Candidates: c, Mode: mode}
	for i, q := range c {
		els, err := d.FindElements(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, -1, fmt.Errorf("find %s: %w", q, ctx.Err())
			}
			if nf.Errs == nil {
				nf.Errs = map[int]error{}
			}
			nf.Errs[i] = err
			continue
		}
		matched, err := filter(ctx, els, mode)
		if err != nil {
			return nil, -1, fmt.Errorf("filter %s: %w", q, err)
		}
		if len(matched) > 0 {
			return matched, i, nil
		}
	}
	return nil, -1, nf
}

// filter keeps elements acceptable in mode. An element that went stale while being checked
// no longer exists, so it is dropped rather than failing the lookup.
func filter(ctx context.Context, els []browser.Element, mode Mode) ([]browser.Element, error) {
	if mode == Present {
		return els, nil
	}
	var res []browser.Element
	for _, el := range els {
		ok, err := el.Visible(ctx)
		if err == nil && ok && mode == Interactable {
			ok, err = el.Enabled(ctx)
		}
		if errors.Is(err, browser.ErrStaleElement) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if ok {
			res = append(res, el)
		}
	}
	return res, nil
}
