// Package notify sends sitecheck run summaries to telegram, email, slack, webhooks or a custom script.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	ntfy "github.com/go-pkgz/notify"
)

// Params holds configuration for creating a notification Service.
type Params struct {
	Channels      []string
	OnError       bool
	OnComplete    bool
	TimeoutMs     int
	TelegramToken string
	TelegramChat  string
	SlackToken    string
	SlackChannel  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPStartTLS  bool
	EmailFrom     string
	EmailTo       []string
	WebhookURLs   []string
	CustomScript  string
}

// Result holds run summary data for notifications.
type Result struct {
	Status    string   `json:"status"` // "success" or "failure"
	Suite     string   `json:"suite"`
	BaseURL   string   `json:"base_url,omitempty"`
	Backend   string   `json:"backend"`
	Duration  string   `json:"duration"`
	Scenarios int      `json:"scenarios"`
	Passed    int      `json:"passed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Failures  []string `json:"failures,omitempty"` // one line per failed step
	Error     string   `json:"error,omitempty"`    // run error, e.g. the browser did not start
}

// Service delivers run results to the configured channels.
type Service struct {
	channels []channel
	sendOn   map[string]bool // result status -> deliver
	timeout  time.Duration
	hostname string
	log      logger
}

type logger interface {
	Print(format string, args ...any)
}

// channel is a named delivery target. text is the rendered message, r the raw result.
type channel struct {
	name    string
	deliver func(ctx context.Context, r Result, text string) error
}

// channelMaker builds the channels of one configured channel kind.
type channelMaker func(p Params) ([]channel, error)

// disabledError marks a channel that is configured correctly but can't start right now.
// New logs it and goes on without the channel.
type disabledError struct{ err error }

func (e *disabledError) Error() string { return e.err.Error() }
func (e *disabledError) Unwrap() error { return e.err }

const (
	defaultTimeout = 10 * time.Second
	maxFailures    = 10 // failure lines in a message, the custom script gets all of them
)

// makers maps a notify_channels entry to its builder.
var makers = map[string]channelMaker{
	"telegram": makeTelegramChannels,
	"email":    makeEmailChannels,
	"slack":    makeSlackChannels,
	"webhook":  makeWebhookChannels,
	"custom":   makeCustomChannels,
}

// New creates a notification Service from the given Params.
// returns nil, nil if no channels are configured; Send is nil-safe.
func New(p Params, log logger) (*Service, error) {
	if len(p.Channels) == 0 {
		return nil, nil //nolint:nilnil // no channels configured, callers rely on nil-safe Send
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	svc := &Service{
		sendOn:   map[string]bool{"success": p.OnComplete, "failure": p.OnError},
		timeout:  time.Duration(p.TimeoutMs) * time.Millisecond,
		hostname: hostname,
		log:      log,
	}
	if svc.timeout <= 0 {
		svc.timeout = defaultTimeout
	}

	for _, name := range p.Channels {
		kind := strings.TrimSpace(strings.ToLower(name))
		mk, ok := makers[kind]
		if !ok {
			return nil, fmt.Errorf("unknown notification channel: %q, known: %s", name, knownChannels())
		}
		chs, mkErr := mk(p)
		var disabled *disabledError
		if errors.As(mkErr, &disabled) {
			log.Print("[WARN] %s channel disabled: %v", kind, disabled)
			continue
		}
		if mkErr != nil {
			return nil, fmt.Errorf("%s channel: %w", kind, mkErr)
		}
		svc.channels = append(svc.channels, chs...)
	}

	if len(svc.channels) == 0 {
		log.Print("[WARN] all notification channels were disabled due to initialization errors")
	}
	return svc, nil
}

// Send delivers r to every channel if its status is enabled. Failures are logged, never returned.
func (s *Service) Send(ctx context.Context, r Result) {
	if s == nil || !s.sendOn[r.Status] {
		return
	}

	text := s.render(r)
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, ch := range s.channels {
		if err := ch.deliver(sendCtx, r, text); err != nil {
			s.log.Print("[WARN] %s notification failed: %v", ch.name, err)
		}
	}
}

// render makes the plain text message for r.
func (s *Service) render(r Result) string {
	verdict := "passed"
	if r.Status != "success" {
		verdict = "failed"
	}

	var m message
	fmt.Fprintf(&m.b, "sitecheck %s on %s\n\n", verdict, s.hostname)
	m.field("suite:", r.Suite)
	m.field("site:", r.BaseURL)
	m.field("backend:", r.Backend)
	m.field("duration:", r.Duration)
	if r.Scenarios > 0 {
		m.field("steps:", fmt.Sprintf("%d passed, %d failed, %d skipped in %d scenarios", r.Passed, r.Failed, r.Skipped, r.Scenarios))
	}
	for i, f := range r.Failures {
		if i == maxFailures {
			fmt.Fprintf(&m.b, "  ... and %d more\n", len(r.Failures)-maxFailures)
			break
		}
		fmt.Fprintf(&m.b, "  - %s\n", f)
	}
	m.field("error:", r.Error)
	return m.b.String()
}

// message accumulates aligned "label value" lines, skipping empty values.
type message struct{ b strings.Builder }

func (m *message) field(label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(&m.b, "%-10s%s\n", label, value)
}

// notifierChannel sends the rendered text through a go-pkgz/notify notifier to dest.
func notifierChannel(name string, n ntfy.Notifier, dest string, escapeHTML bool) channel {
	return channel{
		name: name,
		deliver: func(ctx context.Context, _ Result, text string) error {
			if escapeHTML {
				text = html.EscapeString(text)
			}
			return n.Send(ctx, dest, text)
		},
	}
}

// newTelegram is replaced in tests, the real constructor calls the telegram API.
var newTelegram = func(p ntfy.TelegramParams) (ntfy.Notifier, error) { return ntfy.NewTelegram(p) }

// makeTelegramChannels sends to telegram:<chat> in HTML parse mode.
// an API failure disables the channel instead of failing the run; the token is redacted from the error.
func makeTelegramChannels(p Params) ([]channel, error) {
	if p.TelegramToken == "" {
		return nil, errors.New("notify_telegram_token is required")
	}
	if p.TelegramChat == "" {
		return nil, errors.New("notify_telegram_chat is required")
	}
	tg, err := newTelegram(ntfy.TelegramParams{Token: p.TelegramToken})
	if err != nil {
		return nil, &disabledError{err: errors.New(strings.ReplaceAll(err.Error(), p.TelegramToken, "[REDACTED]"))}
	}
	return []channel{notifierChannel("telegram", tg, "telegram:"+p.TelegramChat+"?parseMode=HTML", true)}, nil
}

func makeEmailChannels(p Params) ([]channel, error) {
	switch {
	case p.SMTPHost == "":
		return nil, errors.New("notify_smtp_host is required")
	case p.EmailFrom == "":
		return nil, errors.New("notify_email_from is required")
	case len(p.EmailTo) == 0:
		return nil, errors.New("notify_email_to is required")
	}

	em := ntfy.NewEmail(ntfy.SMTPParams{
		Host:     p.SMTPHost,
		Port:     p.SMTPPort,
		Username: p.SMTPUsername,
		Password: p.SMTPPassword,
		StartTLS: p.SMTPStartTLS,
	})
	q := url.Values{"from": {p.EmailFrom}, "subject": {"sitecheck notification"}}
	dest := "mailto:" + strings.Join(p.EmailTo, ",") + "?" + q.Encode()
	return []channel{notifierChannel("email", em, dest, false)}, nil
}

func makeSlackChannels(p Params) ([]channel, error) {
	switch {
	case p.SlackToken == "":
		return nil, errors.New("notify_slack_token is required")
	case p.SlackChannel == "":
		return nil, errors.New("notify_slack_channel is required")
	}
	return []channel{notifierChannel("slack", ntfy.NewSlack(p.SlackToken), "slack:"+p.SlackChannel, false)}, nil
}

// makeWebhookChannels makes one channel per URL sharing a single webhook client.
func makeWebhookChannels(p Params) ([]channel, error) {
	if len(p.WebhookURLs) == 0 {
		return nil, errors.New("notify_webhook_urls is required")
	}
	wh := ntfy.NewWebhook(ntfy.WebhookParams{})
	res := make([]channel, 0, len(p.WebhookURLs))
	for _, u := range p.WebhookURLs {
		res = append(res, notifierChannel("webhook", wh, u, false))
	}
	return res, nil
}

func makeCustomChannels(p Params) ([]channel, error) {
	if p.CustomScript == "" {
		return nil, errors.New("notify_custom_script is required")
	}
	script := customScript(p.CustomScript)
	return []channel{{name: "custom", deliver: func(ctx context.Context, r Result, _ string) error {
		return script.run(ctx, r)
	}}}, nil
}

func knownChannels() string {
	names := make([]string, 0, len(makers))
	for k := range makers {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
