// Package cdp implements browser.Driver with chromedp over the Chrome DevTools Protocol.
// Each page target is a browsing context; element state is read with small scripts called
// on the resolved DOM node, so a node id that no longer exists surfaces as a stale element.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/umputun/sitecheck/pkg/browser"
)

// Options configure a launched Chrome.
type Options struct {
	Headless bool
	ExecPath string // chrome binary, auto-detected when empty
	Logf     func(format string, args ...any)
}

// tab is an attached page target.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Driver is a browser.Driver over the page targets of one Chrome instance.
type Driver struct {
	root    context.Context // chromedp context of the first tab
	closers []context.CancelFunc

	mu      sync.Mutex
	tabs    map[target.ID]*tab
	order   []target.ID // first-seen order
	current target.ID
}

// Launch starts Chrome and attaches to its first tab.
func Launch(ctx context.Context, opts Options) (*Driver, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1366, 900),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)

	var ctxOpts []chromedp.ContextOption
	if opts.Logf != nil {
		ctxOpts = append(ctxOpts, chromedp.WithLogf(opts.Logf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	d, err := New(tabCtx)
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}
	d.closers = append(d.closers, tabCancel, allocCancel)
	return d, nil
}

// New makes a driver over an already running chromedp context, its tab becomes current.
func New(ctx context.Context) (*Driver, error) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return nil, errors.New("chromedp context has no target, run it first")
	}
	id := c.Target.TargetID
	return &Driver{
		root:    ctx,
		tabs:    map[target.ID]*tab{id: {ctx: ctx}},
		order:   []target.ID{id},
		current: id,
	}, nil
}

// Close stops Chrome when the driver launched it.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tabs {
		if t.cancel != nil {
			t.cancel()
		}
	}
	for _, c := range d.closers {
		c()
	}
	return nil
}

// run executes actions in a tab, aborting when ctx is done.
func run(ctx, tabCtx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rctx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(err)
	}
	return nil
}

func (d *Driver) currentTab() (*tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tabs[d.current]
	if !ok {
		return nil, browser.ErrNoSuchContext
	}
	return t, nil
}

// FindElements implements browser.Driver. XPath, text and link-text queries use DOM search.
func (d *Driver) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	t, err := d.currentTab()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q, err)
	}
	sel, xpath, err := selector(q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q, err)
	}
	var nodes []*cdproto.Node
	by := chromedp.ByQueryAll
	if xpath {
		by = chromedp.BySearch
	}
	action := chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))
	if err := run(ctx, t.ctx, action); err != nil {
		return nil, fmt.Errorf("find %s: %w", q, err)
	}
	res := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeType != cdproto.NodeTypeElement {
			continue // dom search may also return text and attribute nodes
		}
		res = append(res, &element{tab: t.ctx, node: n, desc: q.String()})
	}
	return res, nil
}

// selector renders q for chromedp, xpath reports whether sel must go through DOM search.
func selector(q browser.Query) (sel string, xpath bool, err error) {
	if css, ok := q.CSS(); ok {
		return css, false, nil
	}
	if xp, ok := q.XPath(); ok {
		return xp, true, nil
	}
	return "", false, fmt.Errorf("unsupported query strategy %q", q.By)
}

// URL implements browser.Driver.
func (d *Driver) URL(ctx context.Context) (string, error) {
	t, err := d.currentTab()
	if err != nil {
		return "", fmt.Errorf("url: %w", err)
	}
	var u string
	if err := run(ctx, t.ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("url: %w", err)
	}
	return u, nil
}

// Navigate implements browser.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	t, err := d.currentTab()
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := run(ctx, t.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Back implements browser.Driver.
func (d *Driver) Back(ctx context.Context) error {
	t, err := d.currentTab()
	if err != nil {
		return fmt.Errorf("back: %w", err)
	}
	if err := run(ctx, t.ctx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("back: %w", err)
	}
	return nil
}

// Contexts implements browser.Driver. Page targets are listed in the order first seen.
func (d *Driver) Contexts(ctx context.Context) ([]browser.ContextID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := chromedp.Targets(d.root)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	open := pageTargets(infos)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range open {
		if !slices.Contains(d.order, id) {
			d.order = append(d.order, id)
		}
	}
	var res []browser.ContextID
	kept := d.order[:0]
	for _, id := range d.order {
		if !slices.Contains(open, id) {
			if t, ok := d.tabs[id]; ok && t.cancel != nil {
				t.cancel()
			}
			delete(d.tabs, id)
			continue
		}
		kept = append(kept, id)
		res = append(res, browser.ContextID(id))
	}
	d.order = kept
	return res, nil
}

// Current implements browser.Driver.
func (d *Driver) Current() browser.ContextID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return browser.ContextID(d.current)
}

// SwitchTo implements browser.Driver, attaching to the target on first use.
func (d *Driver) SwitchTo(ctx context.Context, id browser.ContextID) error {
	t, err := d.attach(ctx, target.ID(id))
	if err != nil {
		return fmt.Errorf("switch to %s: %w", id, err)
	}
	if err := run(ctx, t.ctx, page.BringToFront()); err != nil {
		return fmt.Errorf("switch to %s: %w", id, err)
	}
	d.mu.Lock()
	d.current = target.ID(id)
	d.mu.Unlock()
	return nil
}

// CloseContext implements browser.Driver.
func (d *Driver) CloseContext(ctx context.Context, id browser.ContextID) error {
	t, err := d.attach(ctx, target.ID(id))
	if err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	if err := run(ctx, t.ctx, page.Close()); err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	delete(d.tabs, target.ID(id))
	if d.current == target.ID(id) {
		d.current = ""
	}
	return nil
}

// attach returns the tab for id, creating a chromedp context for targets not attached yet.
func (d *Driver) attach(ctx context.Context, id target.ID) (*tab, error) {
	ids, err := d.Contexts(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(ids, browser.ContextID(id)) {
		return nil, browser.ErrNoSuchContext
	}
	d.mu.Lock()
	t, ok := d.tabs[id]
	d.mu.Unlock()
	if ok {
		return t, nil
	}

	// the target is bound to the context of its first run
	tctx, cancel := chromedp.NewContext(d.root, chromedp.WithTargetID(id))
	if err := chromedp.Run(tctx); err != nil {
		cancel()
		return nil, fmt.Errorf("attach: %w", err)
	}
	t = &tab{ctx: tctx, cancel: cancel}
	d.mu.Lock()
	d.tabs[id] = t
	d.mu.Unlock()
	return t, nil
}

// pageTargets keeps page targets, dropping workers, iframes and extensions.
func pageTargets(infos []*target.Info) []target.ID {
	var res []target.ID
	for _, info := range infos {
		if info.Type == "page" {
			res = append(res, info.TargetID)
		}
	}
	return res
}

// staleMarkers are devtools error fragments meaning a node id is gone.
var staleMarkers = []string{
	"no node with given id",
	"could not find node with given id",
	"node with given id does not belong to the document",
	"cannot find context with specified id",
	"node is detached from document",
}

// classify wraps errors about dead nodes with browser.ErrStaleElement.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, m := range staleMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", browser.ErrStaleElement, err)
		}
	}
	return err
}

// element is a DOM node of a tab. Its node id dies with the document it was found in.
type element struct {
	tab  context.Context
	node *cdproto.Node
	desc string
}

// call runs fn with the node as this and decodes the returned value into out when not nil.
func (e *element) call(ctx context.Context, fn string, out any) error {
	return run(ctx, e.tab, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(e.node.BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		res, exc, err := runtime.CallFunctionOn(fn).WithObjectID(obj.ObjectID).WithReturnByValue(true).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}))
}

// scripts called on the element node
const (
	connectedJS = `function() { return this.isConnected }`
	visibleJS   = `function() {
		if (!this.isConnected) return false;
		const s = window.getComputedStyle(this);
		if (s.visibility === 'hidden' || s.display === 'none') return false;
		const r = this.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}`
	enabledJS = `function() { return !this.matches(':disabled') }`
	textJS    = `function() { return this.innerText ?? this.textContent ?? '' }`
	clearJS   = `function() {
		this.focus();
		if ('value' in this) {
			this.value = '';
			this.dispatchEvent(new Event('input', {bubbles: true}));
		}
		return true;
	}`
	// %s is the json encoded label
	selectJS = `function() {
		const label = %s;
		const opt = Array.from(this.options || []).find(o => o.label.trim() === label || o.text.trim() === label);
		if (!opt) return false;
		this.value = opt.value;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}`
	// %s is the json encoded attribute name
	attrJS = `function() { const n = %s; return this.hasAttribute(n) ? this.getAttribute(n) : null }`
)

// checkAttached fails with browser.ErrStaleElement once the node left the document.
func (e *element) checkAttached(ctx context.Context) error {
	ok, err := e.Attached(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", e.desc, browser.ErrStaleElement)
	}
	return nil
}

func (e *element) Click(ctx context.Context) error {
	if err := e.checkAttached(ctx); err != nil {
		return err
	}
	if err := run(ctx, e.tab, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("click %s: %w", e.desc, err)
	}
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := e.checkAttached(ctx); err != nil {
		return "", err
	}
	var s string
	if err := e.call(ctx, textJS, &s); err != nil {
		return "", fmt.Errorf("text of %s: %w", e.desc, err)
	}
	return s, nil
}

func (e *element) Attribute(ctx context.Context, name string) (value string, ok bool, err error) {
	quoted, err := json.Marshal(name)
	if err != nil {
		return "", false, fmt.Errorf("encode attribute name: %w", err)
	}
	var v *string
	if err := e.call(ctx, fmt.Sprintf(attrJS, quoted), &v); err != nil {
		return "", false, fmt.Errorf("attribute %s of %s: %w", name, e.desc, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	var ok bool
	if err := e.call(ctx, visibleJS, &ok); err != nil {
		return false, fmt.Errorf("visibility of %s: %w", e.desc, err)
	}
	return ok, nil
}

func (e *element) Enabled(ctx context.Context) (bool, error) {
	var ok bool
	if err := e.call(ctx, enabledJS, &ok); err != nil {
		return false, fmt.Errorf("state of %s: %w", e.desc, err)
	}
	return ok, nil
}

func (e *element) Attached(ctx context.Context) (bool, error) {
	var ok bool
	if err := e.call(ctx, connectedJS, &ok); err != nil {
		if errors.Is(err, browser.ErrStaleElement) {
			return false, nil
		}
		return false, fmt.Errorf("attached %s: %w", e.desc, err)
	}
	return ok, nil
}

func (e *element) Fill(ctx context.Context, text string) error {
	if err := e.checkAttached(ctx); err != nil {
		return err
	}
	if err := e.call(ctx, clearJS, nil); err != nil {
		return fmt.Errorf("fill %s: %w", e.desc, err)
	}
	if text == "" {
		return nil
	}
	if err := run(ctx, e.tab, input.InsertText(text)); err != nil {
		return fmt.Errorf("fill %s: %w", e.desc, err)
	}
	return nil
}

func (e *element) SelectOption(ctx context.Context, label string) error {
	quoted, err := json.Marshal(label)
	if err != nil {
		return fmt.Errorf("encode option label: %w", err)
	}
	if err := e.checkAttached(ctx); err != nil {
		return err
	}
	var ok bool
	if err := e.call(ctx, fmt.Sprintf(selectJS, quoted), &ok); err != nil {
		return fmt.Errorf("select %q in %s: %w", label, e.desc, err)
	}
	if !ok {
		return fmt.Errorf("select %q in %s: no such option", label, e.desc)
	}
	return nil
}
