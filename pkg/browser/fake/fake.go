// Package fake provides an in-memory browser.Driver for unit tests.
// Pages are flat lists of nodes; any page change invalidates previously located elements,
// which mirrors how real drivers report stale handles after a re-render.
package fake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/umputun/sitecheck/pkg/browser"
)

// Node is one element of a fake page.
type Node struct {
	Tag      string
	ID       string
	Name     string
	Classes  []string
	Text     string
	Href     string
	Target   string // "_blank" makes a link open a new context
	Hidden   bool
	Disabled bool
	Options  []string // option labels of a select
	Value    string
	Attrs    map[string]string

	// OnClick replaces the default link behavior when set.
	OnClick func(b *Browser)
	// OnSelect runs after an option has been selected.
	OnSelect func(b *Browser, label string)
}

func (n *Node) String() string {
	var b strings.Builder
	b.WriteString(n.Tag)
	if n.ID != "" {
		b.WriteString("#" + n.ID)
	}
	for _, c := range n.Classes {
		b.WriteString("." + c)
	}
	return b.String()
}

// Page is a rendered document.
type Page struct {
	URL   string
	Nodes []*Node
}

// tab is one browsing context.
type tab struct {
	id      browser.ContextID
	history []string
	pos     int
	page    *Page
	gen     int
	closed  bool
}

// Browser is a scriptable fake browser. It is safe for use from click handlers
// that schedule page changes with time.AfterFunc.
type Browser struct {
	mu      sync.Mutex
	routes  map[string]func() *Page
	tabs    []*tab
	current browser.ContextID
	seq     int
	clicks  int
}

// New creates a browser with one context showing start.
func New(start *Page) *Browser {
	b := &Browser{routes: map[string]func() *Page{}}
	t := b.newTabLocked()
	t.history = []string{start.URL}
	t.page = start
	b.current = t.id
	return b
}

// Route registers a page factory for url, used by navigation and back.
func (b *Browser) Route(url string, render func() *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[url] = render
}

// Open opens url in a new context without switching to it, like target=_blank.
func (b *Browser) Open(url string) browser.ContextID {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.newTabLocked()
	t.history = []string{url}
	t.page = b.renderLocked(url)
	return t.id
}

// Go navigates the current context to url.
func (b *Browser) Go(url string) {
	b.GoIn(b.Current(), url)
}

// GoIn navigates the given context to url, e.g. a redirect in a background tab.
func (b *Browser) GoIn(id browser.ContextID, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tabLocked(id)
	if t == nil {
		return
	}
	t.history = append(t.history[:t.pos+1], url)
	t.pos++
	t.page = b.renderLocked(url)
	t.gen++
}

// Mutate changes the current page in place and invalidates located elements.
func (b *Browser) Mutate(fn func(p *Page)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tabLocked(b.current)
	if t == nil {
		return
	}
	fn(t.page)
	t.gen++
}

// Later runs fn after d, for pages that change asynchronously.
func (b *Browser) Later(d time.Duration, fn func(b *Browser)) {
	time.AfterFunc(d, func() { fn(b) })
}

// Clicks returns the number of clicks performed.
func (b *Browser) Clicks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clicks
}

// CurrentURL returns the location of the current context, empty when there is none.
func (b *Browser) CurrentURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := b.tabLocked(b.current); t != nil {
		return t.page.URL
	}
	return ""
}

// OpenContexts returns open contexts in order.
func (b *Browser) OpenContexts() []browser.ContextID {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := make([]browser.ContextID, 0, len(b.tabs))
	for _, t := range b.tabs {
		res = append(res, t.id)
	}
	return res
}

// FindElements implements browser.Driver.
func (b *Browser) FindElements(_ context.Context, q browser.Query) ([]browser.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tabLocked(b.current)
	if t == nil {
		return nil, fmt.Errorf("find %s: %w", q, browser.ErrNoSuchContext)
	}
	match, err := matcher(q)
	if err != nil {
		return nil, err
	}
	var res []browser.Element
	for _, n := range t.page.Nodes {
		if match(n) {
			res = append(res, &element{b: b, tab: t, gen: t.gen, node: n})
		}
	}
	return res, nil
}

// URL implements browser.Driver.
func (b *Browser) URL(_ context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tabLocked(b.current)
	if t == nil {
		return "", fmt.Errorf("url: %w", browser.ErrNoSuchContext)
	}
	return t.page.URL, nil
}

// Navigate implements browser.Driver.
func (b *Browser) Navigate(_ context.Context, url string) error {
	if !b.hasCurrent() {
		return fmt.Errorf("navigate: %w", browser.ErrNoSuchContext)
	}
	b.Go(url)
	return nil
}

// Back implements browser.Driver.
func (b *Browser) Back(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tabLocked(b.current)
	if t == nil {
		return fmt.Errorf("back: %w", browser.ErrNoSuchContext)
	}
	if t.pos == 0 {
		return nil // nothing to go back to, same as a real browser
	}
	t.pos--
	t.page = b.renderLocked(t.history[t.pos])
	t.gen++
	return nil
}

// Contexts implements browser.Driver.
func (b *Browser) Contexts(_ context.Context) ([]browser.ContextID, error) {
	return b.OpenContexts(), nil
}

// Current implements browser.Driver.
func (b *Browser) Current() browser.ContextID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// SwitchTo implements browser.Driver.
func (b *Browser) SwitchTo(_ context.Context, id browser.ContextID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabLocked(id) == nil {
		return fmt.Errorf("switch to %s: %w", id, browser.ErrNoSuchContext)
	}
	b.current = id
	return nil
}

// CloseContext implements browser.Driver.
func (b *Browser) CloseContext(_ context.Context, id browser.ContextID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := slices.IndexFunc(b.tabs, func(t *tab) bool { return t.id == id })
	if idx < 0 {
		return fmt.Errorf("close %s: %w", id, browser.ErrNoSuchContext)
	}
	b.tabs[idx].closed = true
	b.tabs = slices.Delete(b.tabs, idx, idx+1)
	if b.current == id {
		b.current = ""
	}
	return nil
}

func (b *Browser) newTabLocked() *tab {
	b.seq++
	t := &tab{id: browser.ContextID(fmt.Sprintf("ctx-%d", b.seq))}
	b.tabs = append(b.tabs, t)
	return t
}

func (b *Browser) tabLocked(id browser.ContextID) *tab {
	for _, t := range b.tabs {
		if t.id == id {
			return t
		}
	}
	return nil
}

func (b *Browser) hasCurrent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tabLocked(b.current) != nil
}

func (b *Browser) renderLocked(url string) *Page {
	if render, ok := b.routes[url]; ok {
		p := render()
		p.URL = url
		return p
	}
	return &Page{URL: url}
}

// element implements browser.Element over a Node.
type element struct {
	b    *Browser
	tab  *tab
	gen  int
	node *Node
}

func (e *element) checkLocked() error {
	if e.tab.closed || e.tab.gen != e.gen {
		return fmt.Errorf("%s: %w", e.node, browser.ErrStaleElement)
	}
	return nil
}

func (e *element) Click(context.Context) error {
	e.b.mu.Lock()
	if err := e.checkLocked(); err != nil {
		e.b.mu.Unlock()
		return err
	}
	if e.node.Hidden || e.node.Disabled {
		e.b.mu.Unlock()
		return fmt.Errorf("click %s: element is not interactable", e.node)
	}
	e.b.clicks++
	n := *e.node
	e.b.mu.Unlock()

	switch {
	case n.OnClick != nil:
		n.OnClick(e.b)
	case n.Href != "" && n.Target == "_blank":
		e.b.Open(n.Href)
	case n.Href != "":
		e.b.Go(n.Href)
	}
	return nil
}

func (e *element) Text(context.Context) (string, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return "", err
	}
	return e.node.Text, nil
}

func (e *element) Attribute(_ context.Context, name string) (value string, ok bool, err error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return "", false, err
	}
	n := e.node
	switch name {
	case "id":
		return n.ID, n.ID != "", nil
	case "name":
		return n.Name, n.Name != "", nil
	case "href":
		return n.Href, n.Href != "", nil
	case "target":
		return n.Target, n.Target != "", nil
	case "class":
		return strings.Join(n.Classes, " "), len(n.Classes) > 0, nil
	case "value":
		return n.Value, true, nil
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (e *element) Visible(context.Context) (bool, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return false, err
	}
	return !e.node.Hidden, nil
}

func (e *element) Enabled(context.Context) (bool, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return false, err
	}
	return !e.node.Disabled, nil
}

func (e *element) Attached(context.Context) (bool, error) {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	return e.checkLocked() == nil, nil
}

func (e *element) Fill(_ context.Context, text string) error {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.checkLocked(); err != nil {
		return err
	}
	e.node.Value = text
	return nil
}

func (e *element) SelectOption(_ context.Context, label string) error {
	e.b.mu.Lock()
	if err := e.checkLocked(); err != nil {
		e.b.mu.Unlock()
		return err
	}
	if !slices.Contains(e.node.Options, label) {
		e.b.mu.Unlock()
		return fmt.Errorf("select %s: no option %q", e.node, label)
	}
	e.node.Value = label
	onSelect := e.node.OnSelect
	e.b.mu.Unlock()

	if onSelect != nil {
		onSelect(e.b, label)
	}
	return nil
}

// errUnsupported is returned for queries the fake cannot evaluate.
var errUnsupported = errors.New("fake: unsupported query")

// matcher compiles q into a node predicate.
func matcher(q browser.Query) (func(*Node) bool, error) {
	switch q.By {
	case browser.ByID:
		return func(n *Node) bool { return n.ID == q.Value }, nil
	case browser.ByName:
		return func(n *Node) bool { return n.Name == q.Value }, nil
	case browser.ByLinkText:
		return func(n *Node) bool { return n.Tag == "a" && strings.TrimSpace(n.Text) == q.Value }, nil
	case browser.ByText:
		return func(n *Node) bool {
			if q.Tag != "" && q.Tag != "*" && n.Tag != q.Tag {
				return false
			}
			return strings.Contains(strings.Join(strings.Fields(n.Text), " "), q.Value)
		}, nil
	case browser.ByCSS:
		return cssMatcher(q.Value)
	default:
		return nil, fmt.Errorf("%s: %w", q, errUnsupported)
	}
}

// cssMatcher supports comma separated compound selectors made of tag, #id and .class parts.
func cssMatcher(sel string) (func(*Node) bool, error) {
	var alts []func(*Node) bool
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.ContainsAny(part, " >+~[:") {
			return nil, fmt.Errorf("css=%s: %w", sel, errUnsupported)
		}
		alts = append(alts, compoundMatcher(part))
	}
	return func(n *Node) bool {
		for _, m := range alts {
			if m(n) {
				return true
			}
		}
		return false
	}, nil
}

func compoundMatcher(s string) func(*Node) bool {
	var tag, id string
	var classes []string
	for s != "" {
		end := strings.IndexAny(s[1:], ".#") + 1
		if end == 0 {
			end = len(s)
		}
		tok := s[:end]
		s = s[end:]
		switch tok[0] {
		case '#':
			id = tok[1:]
		case '.':
			classes = append(classes, tok[1:])
		default:
			tag = tok
		}
	}
	return func(n *Node) bool {
		if tag != "" && tag != "*" && n.Tag != tag {
			return false
		}
		if id != "" && n.ID != id {
			return false
		}
		for _, c := range classes {
			if !slices.Contains(n.Classes, c) {
				return false
			}
		}
		return true
	}
}
