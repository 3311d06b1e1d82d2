// Package scenario reads YAML verification scenarios and runs them step by step
// against a browser session.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/locator"
	"github.com/umputun/sitecheck/pkg/ordering"
)

// Scenario is one named sequence of steps against a site.
type Scenario struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Steps   []Step `yaml:"steps"`

	Path string `yaml:"-"` // file the scenario was loaded from
}

// Step is one action or verification. Exactly one of the action fields is set.
type Step struct {
	Name     string `yaml:"name,omitempty"`
	Optional bool   `yaml:"optional,omitempty"` // absent element or timeout is a skip, not a failure

	Open         string   `yaml:"open,omitempty"`
	Click        *Target  `yaml:"click,omitempty"`
	Fill         *Fill    `yaml:"fill,omitempty"`
	Select       *Select  `yaml:"select,omitempty"`
	Wait         *Wait    `yaml:"wait,omitempty"`
	ExternalLink *Link    `yaml:"external_link,omitempty"`
	Reorder      *Reorder `yaml:"reorder,omitempty"`
	Sorted       *Sorted  `yaml:"sorted,omitempty"`
}

// Query is one locator strategy, e.g. {id: login-button} or {text: Add, tag: button}.
type Query struct {
	ID    string `yaml:"id,omitempty"`
	CSS   string `yaml:"css,omitempty"`
	XPath string `yaml:"xpath,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Text  string `yaml:"text,omitempty"`
	Tag   string `yaml:"tag,omitempty"` // element tag for text queries
	Link  string `yaml:"link,omitempty"`
}

// Locate is an ordered list of alternative queries, first match wins.
type Locate []Query

// Target is a step acting on one element.
type Target struct {
	Locate Locate `yaml:"locate"`
}

// Fill types text into an input.
type Fill struct {
	Locate Locate `yaml:"locate"`
	Text   string `yaml:"text"`
}

// Select chooses an option of a select element by label.
type Select struct {
	Locate Locate `yaml:"locate"`
	Option string `yaml:"option"`
}

// Wait blocks until one condition holds.
type Wait struct {
	Visible     Locate     `yaml:"visible,omitempty"`
	Present     Locate     `yaml:"present,omitempty"`
	Clickable   Locate     `yaml:"clickable,omitempty"`
	Gone        Locate     `yaml:"gone,omitempty"`
	URLContains string     `yaml:"url_contains,omitempty"`
	Text        *TextWait  `yaml:"text,omitempty"`
	Count       *CountWait `yaml:"count,omitempty"`
	TimeoutMs   int        `yaml:"timeout_ms,omitempty"`
}

// TextWait waits for the text of an element.
type TextWait struct {
	Locate   Locate `yaml:"locate"`
	Equals   string `yaml:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// CountWait waits for the number of visible matches.
type CountWait struct {
	Locate  Locate `yaml:"locate"`
	Is      *int   `yaml:"is,omitempty"`
	AtLeast *int   `yaml:"at_least,omitempty"`
}

// Link verifies that activating a link reaches a location containing Expect.
type Link struct {
	Locate    Locate `yaml:"locate"`
	Expect    string `yaml:"expect"`
	Marker    Locate `yaml:"marker,omitempty"` // content of the original page awaited after going back
	Strict    bool   `yaml:"strict,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
}

// Order is the expected order of a list.
type Order struct {
	Items      Locate `yaml:"items"`
	Kind       string `yaml:"kind"`
	Direction  string `yaml:"direction"`
	FoldCase   bool   `yaml:"fold_case,omitempty"`
	DecimalSep string `yaml:"decimal_sep,omitempty"`
	LooseTies  bool   `yaml:"loose_ties,omitempty"`
}

// Reorder triggers a sort control and verifies the resulting order.
type Reorder struct {
	Order           `yaml:",inline"`
	Select          *Select `yaml:"select,omitempty"`
	Click           *Target `yaml:"click,omitempty"`
	SettleTimeoutMs int     `yaml:"settle_timeout_ms,omitempty"`
}

// Sorted verifies the current order without acting on the page.
type Sorted struct {
	Order `yaml:",inline"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided scenario path
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	sc.Path = path
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}

// Parse decodes and validates a scenario document. Unknown keys are errors.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadDir loads all .yml and .yaml files of dir in name order.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}
	var res []*Scenario
	for _, e := range entries {
		if e.IsDir() || !IsScenarioFile(e.Name()) {
			continue
		}
		sc, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	return res, nil
}

// IsScenarioFile reports whether name has a scenario extension.
func IsScenarioFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yml" || ext == ".yaml"
}

// Validate checks that every step has exactly one action with well-formed locators.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("no steps")
	}
	if sc.BaseURL != "" {
		if _, err := url.Parse(sc.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	}
	var errs []error
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i+1, st.Label(), err))
		}
	}
	return errors.Join(errs...)
}

// Action returns the name of the step's action, empty when none is set.
func (st Step) Action() string {
	var names []string
	if st.Open != "" {
		names = append(names, "open")
	}
	for _, a := range []struct {
		name string
		set  bool
	}{
		{"click", st.Click != nil}, {"fill", st.Fill != nil}, {"select", st.Select != nil},
		{"wait", st.Wait != nil}, {"external_link", st.ExternalLink != nil},
		{"reorder", st.Reorder != nil}, {"sorted", st.Sorted != nil},
	} {
		if a.set {
			names = append(names, a.name)
		}
	}
	return strings.Join(names, "+")
}

// Label is the step name, or its action when unnamed.
func (st Step) Label() string {
	if st.Name != "" {
		return st.Name
	}
	if a := st.Action(); a != "" {
		return a
	}
	return "empty step"
}

func (st Step) validate() error {
	action := st.Action()
	switch {
	case action == "":
		return errors.New("no action")
	case strings.Contains(action, "+"):
		return fmt.Errorf("more than one action: %s", action)
	}

	var locs []Locate
	switch {
	case st.Click != nil:
		locs = append(locs, st.Click.Locate)
	case st.Fill != nil:
		locs = append(locs, st.Fill.Locate)
	case st.Select != nil:
		if st.Select.Option == "" {
			return errors.New("select needs an option")
		}
		locs = append(locs, st.Select.Locate)
	case st.Wait != nil:
		return st.Wait.validate()
	case st.ExternalLink != nil:
		if st.ExternalLink.Expect == "" {
			return errors.New("external_link needs expect")
		}
		locs = append(locs, st.ExternalLink.Locate)
		if len(st.ExternalLink.Marker) > 0 {
			locs = append(locs, st.ExternalLink.Marker)
		}
	case st.Reorder != nil:
		if (st.Reorder.Select == nil) == (st.Reorder.Click == nil) {
			return errors.New("reorder needs exactly one of select or click")
		}
		if _, err := st.Reorder.Assertion(); err != nil {
			return err
		}
		locs = append(locs, st.Reorder.Items)
		if st.Reorder.Select != nil {
			locs = append(locs, st.Reorder.Select.Locate)
		} else {
			locs = append(locs, st.Reorder.Click.Locate)
		}
	case st.Sorted != nil:
		if _, err := st.Sorted.Assertion(); err != nil {
			return err
		}
		locs = append(locs, st.Sorted.Items)
	}
	for _, l := range locs {
		if _, err := l.Chain(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wait) validate() error {
	set := 0
	for _, l := range []Locate{w.Visible, w.Present, w.Clickable, w.Gone} {
		if len(l) > 0 {
			if _, err := l.Chain(); err != nil {
				return err
			}
			set++
		}
	}
	if w.URLContains != "" {
		set++
	}
	if w.Text != nil {
		if (w.Text.Equals == "") == (w.Text.Contains == "") {
			return errors.New("text wait needs exactly one of equals or contains")
		}
		if _, err := w.Text.Locate.Chain(); err != nil {
			return err
		}
		set++
	}
	if w.Count != nil {
		if (w.Count.Is == nil) == (w.Count.AtLeast == nil) {
			return errors.New("count wait needs exactly one of is or at_least")
		}
		if _, err := w.Count.Locate.Chain(); err != nil {
			return err
		}
		set++
	}
	if set != 1 {
		return fmt.Errorf("wait needs exactly one condition, got %d", set)
	}
	return nil
}

// Query converts q into a browser query. Exactly one strategy must be set.
func (q Query) Query() (browser.Query, error) {
	var res []browser.Query
	add := func(v string, mk func(string) browser.Query) {
		if v != "" {
			res = append(res, mk(v))
		}
	}
	add(q.ID, locator.ID)
	add(q.CSS, locator.CSS)
	add(q.XPath, locator.XPath)
	add(q.Name, locator.Name)
	add(q.Link, locator.LinkText)
	add(q.Text, func(s string) browser.Query { return locator.Text(q.Tag, s) })
	switch {
	case len(res) == 0:
		return browser.Query{}, errors.New("empty locator")
	case len(res) > 1:
		return browser.Query{}, fmt.Errorf("locator sets %d strategies, expected one", len(res))
	case q.Tag != "" && q.Text == "":
		return browser.Query{}, errors.New("tag is only valid with text")
	}
	return res[0], nil
}

// Chain converts the list into a locator chain.
func (l Locate) Chain() (locator.Chain, error) {
	if len(l) == 0 {
		return nil, errors.New("no locator")
	}
	qs := make([]browser.Query, 0, len(l))
	for _, q := range l {
		bq, err := q.Query()
		if err != nil {
			return nil, err
		}
		qs = append(qs, bq)
	}
	return locator.Of(qs...), nil
}

// Assertion converts the order description.
func (o Order) Assertion() (ordering.Assertion, error) {
	kind, err := ordering.ParseKind(o.Kind)
	if err != nil {
		return ordering.Assertion{}, err
	}
	dir, err := ordering.ParseDirection(o.Direction)
	if err != nil {
		return ordering.Assertion{}, err
	}
	a := ordering.Assertion{Kind: kind, Direction: dir, FoldCase: o.FoldCase, LooseTies: o.LooseTies}
	switch o.DecimalSep {
	case "":
	case ".", ",":
		a.DecimalSep = rune(o.DecimalSep[0])
	default:
		return ordering.Assertion{}, fmt.Errorf("decimal_sep %q must be \".\" or \",\"", o.DecimalSep)
	}
	return a, nil
}

// resolveURL resolves ref against base. Absolute refs are returned as is.
func resolveURL(base, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	if u.IsAbs() || base == "" {
		return u.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	return b.ResolveReference(u).String(), nil
}
