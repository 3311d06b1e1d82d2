// Package pw implements browser.Driver on top of playwright-go.
// Browsing contexts of a session are the pages of one playwright BrowserContext, so tabs opened
// by target=_blank links show up as new contexts.
package pw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/umputun/sitecheck/pkg/browser"
)

// Options configure a launched browser.
type Options struct {
	Browser  string        // chromium, firefox or webkit
	Headless bool
	Install  bool          // install playwright driver and browsers before launch
	SlowMo   time.Duration // delay between operations, useful with a visible browser
	Timeout  time.Duration // per operation timeout of playwright calls
}

// Launched owns a playwright instance, a browser and the browser context the driver runs in.
type Launched struct {
	*Driver
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Launch starts playwright, launches the configured browser and opens one page.
func Launch(opts Options) (*Launched, error) {
	if opts.Install {
		runOpts := &playwright.RunOptions{Browsers: []string{browserName(opts.Browser)}}
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("run playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(opts.Headless)}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo / time.Millisecond))
	}
	var bt playwright.BrowserType
	switch browserName(opts.Browser) {
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		bt = pw.Chromium
	}
	b, err := bt.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch %s: %w", browserName(opts.Browser), err)
	}

	bc, err := b.NewContext()
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	if opts.Timeout > 0 {
		bc.SetDefaultTimeout(float64(opts.Timeout / time.Millisecond))
	}
	page, err := bc.NewPage()
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &Launched{Driver: New(page), pw: pw, browser: b}, nil
}

// Close shuts down the browser and the playwright driver.
func (l *Launched) Close() error {
	var errs []error
	if err := l.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := l.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

func browserName(s string) string {
	switch strings.ToLower(s) {
	case "firefox", "webkit":
		return strings.ToLower(s)
	}
	return "chromium"
}

// Driver is a browser.Driver over the pages of one playwright BrowserContext.
// Pages get a random context id when first seen.
type Driver struct {
	bc playwright.BrowserContext

	mu      sync.Mutex
	ids     map[playwright.Page]browser.ContextID
	order   []playwright.Page // first-seen order
	current playwright.Page
}

// New makes a driver with page as the current context.
func New(page playwright.Page) *Driver {
	d := &Driver{bc: page.Context(), ids: map[playwright.Page]browser.ContextID{}}
	d.current = page
	d.track(page)
	return d
}

// Page returns the current page, nil when the current context was closed.
func (d *Driver) Page() playwright.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// track registers a page and returns its id. Caller holds mu.
func (d *Driver) track(p playwright.Page) browser.ContextID {
	if id, ok := d.ids[p]; ok {
		return id
	}
	id := browser.ContextID(uuid.New().String())
	d.ids[p] = id
	d.order = append(d.order, p)
	return id
}

func (d *Driver) page() (playwright.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil || d.current.IsClosed() {
		return nil, browser.ErrNoSuchContext
	}
	return d.current, nil
}

// FindElements implements browser.Driver. Text and link-text queries are evaluated as XPath.
func (d *Driver) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.page()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q, err)
	}
	sel, err := selector(q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q, err)
	}
	handles, err := p.QuerySelectorAll(sel)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q, classify(err))
	}
	res := make([]browser.Element, len(handles))
	for i, h := range handles {
		res[i] = &element{h: h, desc: q.String()}
	}
	return res, nil
}

// selector renders q with a playwright engine prefix, css when the query has a css form.
func selector(q browser.Query) (string, error) {
	if css, ok := q.CSS(); ok {
		return "css=" + css, nil
	}
	if xp, ok := q.XPath(); ok {
		return "xpath=" + xp, nil
	}
	return "", fmt.Errorf("unsupported query strategy %q", q.By)
}

// URL implements browser.Driver.
func (d *Driver) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := d.page()
	if err != nil {
		return "", fmt.Errorf("url: %w", err)
	}
	return p.URL(), nil
}

// Navigate implements browser.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.page()
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if _, err := p.Goto(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Back implements browser.Driver.
func (d *Driver) Back(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.page()
	if err != nil {
		return fmt.Errorf("back: %w", err)
	}
	if _, err := p.GoBack(); err != nil {
		return fmt.Errorf("back: %w", err)
	}
	return nil
}

// Contexts implements browser.Driver. Open pages are listed in the order they were first seen.
func (d *Driver) Contexts(ctx context.Context) ([]browser.ContextID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages := d.bc.Pages()
	d.mu.Lock()
	defer d.mu.Unlock()
	open := make(map[playwright.Page]bool, len(pages))
	for _, p := range pages {
		d.track(p)
		open[p] = true
	}
	var res []browser.ContextID
	kept := d.order[:0]
	for _, p := range d.order {
		if !open[p] || p.IsClosed() {
			delete(d.ids, p)
			continue
		}
		kept = append(kept, p)
		res = append(res, d.ids[p])
	}
	d.order = kept
	return res, nil
}

// Current implements browser.Driver.
func (d *Driver) Current() browser.ContextID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return ""
	}
	return d.ids[d.current]
}

// SwitchTo implements browser.Driver.
func (d *Driver) SwitchTo(ctx context.Context, id browser.ContextID) error {
	p, err := d.lookup(ctx, id)
	if err != nil {
		return fmt.Errorf("switch to %s: %w", id, err)
	}
	if err := p.BringToFront(); err != nil {
		return fmt.Errorf("switch to %s: %w", id, classify(err))
	}
	d.mu.Lock()
	d.current = p
	d.mu.Unlock()
	return nil
}

// CloseContext implements browser.Driver.
func (d *Driver) CloseContext(ctx context.Context, id browser.ContextID) error {
	p, err := d.lookup(ctx, id)
	if err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("close %s: %w", id, classify(err))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == p {
		d.current = nil
	}
	return nil
}

func (d *Driver) lookup(ctx context.Context, id browser.ContextID) (playwright.Page, error) {
	if _, err := d.Contexts(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for p, pid := range d.ids {
		if pid == id {
			return p, nil
		}
	}
	return nil, browser.ErrNoSuchContext
}

// element wraps an ElementHandle, which goes stale when its node is detached or the page navigates.
type element struct {
	h    playwright.ElementHandle
	desc string
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.h.Click(); err != nil {
		return fmt.Errorf("click %s: %w", e.desc, classify(err))
	}
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s, err := e.h.InnerText()
	if err != nil {
		return "", fmt.Errorf("text of %s: %w", e.desc, classify(err))
	}
	return s, nil
}

func (e *element) Attribute(ctx context.Context, name string) (value string, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	// GetAttribute can't tell a missing attribute from an empty one
	res, err := e.h.Evaluate(`(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`, name)
	if err != nil {
		return "", false, fmt.Errorf("attribute %s of %s: %w", name, e.desc, classify(err))
	}
	if res == nil {
		return "", false, nil
	}
	return fmt.Sprint(res), true, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := e.h.IsVisible()
	if err != nil {
		return false, fmt.Errorf("visibility of %s: %w", e.desc, classify(err))
	}
	return ok, nil
}

func (e *element) Enabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := e.h.IsEnabled()
	if err != nil {
		return false, fmt.Errorf("state of %s: %w", e.desc, classify(err))
	}
	return ok, nil
}

func (e *element) Attached(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := e.h.Evaluate(`el => el.isConnected`)
	if err != nil {
		if errors.Is(classify(err), browser.ErrStaleElement) {
			return false, nil
		}
		return false, fmt.Errorf("attached %s: %w", e.desc, err)
	}
	connected, _ := res.(bool)
	return connected, nil
}

func (e *element) Fill(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.h.Fill(text); err != nil {
		return fmt.Errorf("fill %s: %w", e.desc, classify(err))
	}
	return nil
}

func (e *element) SelectOption(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	selected, err := e.h.SelectOption(playwright.SelectOptionValues{Labels: &[]string{label}})
	if err != nil {
		return fmt.Errorf("select %q in %s: %w", label, e.desc, classify(err))
	}
	if len(selected) == 0 {
		return fmt.Errorf("select %q in %s: no such option", label, e.desc)
	}
	return nil
}

// staleMarkers are playwright error fragments meaning the handle no longer points to a live node.
var staleMarkers = []string{
	"not attached to the dom",
	"jshandle is disposed",
	"execution context was destroyed",
	"target page, context or browser has been closed",
	"target closed",
}

// classify wraps playwright errors about dead handles with browser.ErrStaleElement.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("%w: %w", browser.ErrStaleElement, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range staleMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", browser.ErrStaleElement, err)
		}
	}
	return err
}
