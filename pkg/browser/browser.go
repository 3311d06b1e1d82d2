// Package browser defines the automation capability the verification engine runs on.
// Backends (playwright, chromedp, in-memory fake) implement Driver and Element;
// engine packages never talk to a wire protocol directly.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrStaleElement is wrapped by backends when an Element no longer refers to a live node,
// typically because the page navigated or re-rendered after the element was located.
var ErrStaleElement = errors.New("stale element")

// ErrNoSuchContext is wrapped by backends when a context id is not open.
var ErrNoSuchContext = errors.New("no such browsing context")

// ContextID identifies one window or tab of a session.
type ContextID string

// Element is a transient reference to a located DOM node.
// Handles are owned by the step that located them and must not be kept across navigations.
type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	// Attached reports false once the node is detached from the document.
	Attached(ctx context.Context) (bool, error)
	Fill(ctx context.Context, text string) error
	// SelectOption selects an <option> of a <select> element by its visible label.
	SelectOption(ctx context.Context, label string) error
}

// Driver is the automation capability of one browser session.
// All methods act on the current context unless stated otherwise.
type Driver interface {
	FindElements(ctx context.Context, q Query) ([]Element, error)
	URL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	// Contexts lists open contexts in backend order.
	Contexts(ctx context.Context) ([]ContextID, error)
	Current() ContextID
	SwitchTo(ctx context.Context, id ContextID) error
	// CloseContext closes the given context. Closing the current one leaves no current context
	// until SwitchTo is called.
	CloseContext(ctx context.Context, id ContextID) error
}

// Logger is the narrow logging dependency of engine packages.
type Logger interface {
	Print(format string, args ...any)
}

// nopLogger discards everything, used when a Session has no logger.
type nopLogger struct{}

func (nopLogger) Print(string, ...any) {}

// Default timings, used when a Session leaves them zero.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Session is the explicit browser session passed into every verification call.
// A Session has a single owner at a time; it is not safe for concurrent use.
type Session struct {
	Driver       Driver
	Timeout      time.Duration // default wait timeout
	PollInterval time.Duration // default poll interval
	Log          Logger
}

// NewSession makes a session with default timings for the given driver.
func NewSession(d Driver, log Logger) *Session {
	return &Session{Driver: d, Timeout: DefaultTimeout, PollInterval: DefaultPollInterval, Log: log}
}

// Logger returns the session logger or a no-op one.
func (s *Session) Logger() Logger {
	if s == nil || s.Log == nil {
		return nopLogger{}
	}
	return s.Log
}

// WaitTimeout returns the configured timeout or DefaultTimeout.
func (s *Session) WaitTimeout() time.Duration {
	if s == nil || s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// WaitPollInterval returns the configured poll interval or DefaultPollInterval.
func (s *Session) WaitPollInterval() time.Duration {
	if s == nil || s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return s.PollInterval
}
