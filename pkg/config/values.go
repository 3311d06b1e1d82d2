package config

import (
	"embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Values holds scalar configuration values.
// Fields ending in *Set (e.g., HeadlessSet) track whether that field was explicitly
// set in config. This allows distinguishing explicit false/0 from "not set", enabling
// proper merge behavior where local config can override global config with zero values.
type Values struct {
	Backend            string // playwright or chromedp
	Browser            string // chromium, firefox or webkit, playwright only
	Headless           bool
	HeadlessSet        bool
	InstallBrowsers    bool
	InstallBrowsersSet bool
	TimeoutMs          int
	TimeoutMsSet       bool
	PollIntervalMs     int
	PollIntervalMsSet  bool
	SettleTimeoutMs    int
	SettleTimeoutMsSet bool
	NavTimeoutMs       int
	NavTimeoutMsSet    bool
	ReportDir          string
	ScenariosDir       string

	NotifyChannels        []string
	NotifyOnError         bool
	NotifyOnErrorSet      bool
	NotifyOnComplete      bool
	NotifyOnCompleteSet   bool
	NotifyTimeoutMs       int
	NotifyTimeoutMsSet    bool
	NotifyTelegramToken   string
	NotifyTelegramChat    string
	NotifySlackToken      string
	NotifySlackChannel    string
	NotifySMTPHost        string
	NotifySMTPPort        int
	NotifySMTPPortSet     bool
	NotifySMTPUsername    string
	NotifySMTPPassword    string
	NotifySMTPStartTLS    bool
	NotifySMTPStartTLSSet bool
	NotifyEmailFrom       string
	NotifyEmailTo         []string
	NotifyWebhookURLs     []string
	NotifyCustomScript    string
}

// Timeout returns the default wait timeout.
func (v Values) Timeout() time.Duration { return time.Duration(v.TimeoutMs) * time.Millisecond }

// PollInterval returns the wait poll interval.
func (v Values) PollInterval() time.Duration { return time.Duration(v.PollIntervalMs) * time.Millisecond }

// SettleTimeout returns the timeout for a reordered list to settle.
func (v Values) SettleTimeout() time.Duration {
	return time.Duration(v.SettleTimeoutMs) * time.Millisecond
}

// NavTimeout returns the timeout for link navigation detection.
func (v Values) NavTimeout() time.Duration { return time.Duration(v.NavTimeoutMs) * time.Millisecond }

// valuesLoader loads Values with embedded filesystem fallback.
type valuesLoader struct {
	embedFS embed.FS
}

// newValuesLoader creates a new valuesLoader with the given embedded filesystem.
func newValuesLoader(embedFS embed.FS) *valuesLoader {
	return &valuesLoader{embedFS: embedFS}
}

// Load merges embedded defaults, the global and the local config file (local wins) and validates the result.
// localConfigPath and globalConfigPath are full paths to config files, not directories.
func (vl *valuesLoader) Load(localConfigPath, globalConfigPath string) (Values, error) {
	v, err := loadLayers[Values](vl.embedFS, localConfigPath, globalConfigPath, vl.parseValuesFromBytes)
	if err != nil {
		return Values{}, err
	}
	if err := v.validate(); err != nil {
		return Values{}, err
	}
	return v, nil
}

// parseValuesFromBytes parses configuration from a byte slice into Values.
func (vl *valuesLoader) parseValuesFromBytes(data []byte) (Values, error) {
	// ignoreInlineComment: true prevents # from being treated as inline comment marker
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return Values{}, fmt.Errorf("parse config: %w", err)
	}

	var v Values
	section := cfg.Section("") // default section (no section header)

	strKeys := []struct {
		key   string
		field *string
	}{
		{"backend", &v.Backend},
		{"browser", &v.Browser},
		{"report_dir", &v.ReportDir},
		{"scenarios_dir", &v.ScenariosDir},
		{"notify_telegram_token", &v.NotifyTelegramToken},
		{"notify_telegram_chat", &v.NotifyTelegramChat},
		{"notify_slack_token", &v.NotifySlackToken},
		{"notify_slack_channel", &v.NotifySlackChannel},
		{"notify_smtp_host", &v.NotifySMTPHost},
		{"notify_smtp_username", &v.NotifySMTPUsername},
		{"notify_smtp_password", &v.NotifySMTPPassword},
		{"notify_email_from", &v.NotifyEmailFrom},
		{"notify_custom_script", &v.NotifyCustomScript},
	}
	for _, k := range strKeys {
		if key, err := section.GetKey(k.key); err == nil {
			*k.field = strings.TrimSpace(key.String())
		}
	}

	boolKeys := []struct {
		key   string
		field *bool
		set   *bool
	}{
		{"headless", &v.Headless, &v.HeadlessSet},
		{"install_browsers", &v.InstallBrowsers, &v.InstallBrowsersSet},
		{"notify_on_error", &v.NotifyOnError, &v.NotifyOnErrorSet},
		{"notify_on_complete", &v.NotifyOnComplete, &v.NotifyOnCompleteSet},
		{"notify_smtp_starttls", &v.NotifySMTPStartTLS, &v.NotifySMTPStartTLSSet},
	}
	for _, k := range boolKeys {
		key, err := section.GetKey(k.key)
		if err != nil {
			continue
		}
		val, boolErr := key.Bool()
		if boolErr != nil {
			return Values{}, fmt.Errorf("invalid %s: %w", k.key, boolErr)
		}
		*k.field, *k.set = val, true
	}

	intKeys := []struct {
		key   string
		field *int
		set   *bool
	}{
		{"timeout_ms", &v.TimeoutMs, &v.TimeoutMsSet},
		{"poll_interval_ms", &v.PollIntervalMs, &v.PollIntervalMsSet},
		{"settle_timeout_ms", &v.SettleTimeoutMs, &v.SettleTimeoutMsSet},
		{"nav_timeout_ms", &v.NavTimeoutMs, &v.NavTimeoutMsSet},
		{"notify_timeout_ms", &v.NotifyTimeoutMs, &v.NotifyTimeoutMsSet},
		{"notify_smtp_port", &v.NotifySMTPPort, &v.NotifySMTPPortSet},
	}
	for _, k := range intKeys {
		key, err := section.GetKey(k.key)
		if err != nil {
			continue
		}
		val, intErr := key.Int()
		if intErr != nil {
			return Values{}, fmt.Errorf("invalid %s: %w", k.key, intErr)
		}
		if val < 0 {
			return Values{}, fmt.Errorf("invalid %s: must be non-negative, got %d", k.key, val)
		}
		*k.field, *k.set = val, true
	}

	// comma-separated lists
	listKeys := []struct {
		key   string
		field *[]string
	}{
		{"notify_channels", &v.NotifyChannels},
		{"notify_email_to", &v.NotifyEmailTo},
		{"notify_webhook_urls", &v.NotifyWebhookURLs},
	}
	for _, k := range listKeys {
		if key, err := section.GetKey(k.key); err == nil {
			*k.field = splitList(key.String())
		}
	}

	return v, nil
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var res []string
	for p := range strings.SplitSeq(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			res = append(res, t)
		}
	}
	return res
}

// validate checks merged values that have a closed set of choices.
func (v Values) validate() error {
	switch v.Backend {
	case "playwright", "chromedp":
	default:
		return fmt.Errorf("invalid backend %q: expected playwright or chromedp", v.Backend)
	}
	switch v.Browser {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("invalid browser %q: expected chromium, firefox or webkit", v.Browser)
	}
	if v.PollIntervalMs == 0 || v.PollIntervalMs >= v.TimeoutMs {
		return fmt.Errorf("invalid poll_interval_ms %d: must be positive and below timeout_ms %d", v.PollIntervalMs, v.TimeoutMs)
	}
	return nil
}

// mergeFrom merges non-empty values from src into dst.
func (dst *Values) mergeFrom(src *Values) {
	mergeStr := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	mergeList := func(d *[]string, s []string) {
		if len(s) > 0 {
			*d = s
		}
	}

	mergeStr(&dst.Backend, src.Backend)
	mergeStr(&dst.Browser, src.Browser)
	mergeStr(&dst.ReportDir, src.ReportDir)
	mergeStr(&dst.ScenariosDir, src.ScenariosDir)
	mergeStr(&dst.NotifyTelegramToken, src.NotifyTelegramToken)
	mergeStr(&dst.NotifyTelegramChat, src.NotifyTelegramChat)
	mergeStr(&dst.NotifySlackToken, src.NotifySlackToken)
	mergeStr(&dst.NotifySlackChannel, src.NotifySlackChannel)
	mergeStr(&dst.NotifySMTPHost, src.NotifySMTPHost)
	mergeStr(&dst.NotifySMTPUsername, src.NotifySMTPUsername)
	mergeStr(&dst.NotifySMTPPassword, src.NotifySMTPPassword)
	mergeStr(&dst.NotifyEmailFrom, src.NotifyEmailFrom)
	mergeStr(&dst.NotifyCustomScript, src.NotifyCustomScript)

	if src.HeadlessSet {
		dst.Headless, dst.HeadlessSet = src.Headless, true
	}
	if src.InstallBrowsersSet {
		dst.InstallBrowsers, dst.InstallBrowsersSet = src.InstallBrowsers, true
	}
	if src.NotifyOnErrorSet {
		dst.NotifyOnError, dst.NotifyOnErrorSet = src.NotifyOnError, true
	}
	if src.NotifyOnCompleteSet {
		dst.NotifyOnComplete, dst.NotifyOnCompleteSet = src.NotifyOnComplete, true
	}
	if src.NotifySMTPStartTLSSet {
		dst.NotifySMTPStartTLS, dst.NotifySMTPStartTLSSet = src.NotifySMTPStartTLS, true
	}

	if src.TimeoutMsSet {
		dst.TimeoutMs, dst.TimeoutMsSet = src.TimeoutMs, true
	}
	if src.PollIntervalMsSet {
		dst.PollIntervalMs, dst.PollIntervalMsSet = src.PollIntervalMs, true
	}
	if src.SettleTimeoutMsSet {
		dst.SettleTimeoutMs, dst.SettleTimeoutMsSet = src.SettleTimeoutMs, true
	}
	if src.NavTimeoutMsSet {
		dst.NavTimeoutMs, dst.NavTimeoutMsSet = src.NavTimeoutMs, true
	}
	if src.NotifyTimeoutMsSet {
		dst.NotifyTimeoutMs, dst.NotifyTimeoutMsSet = src.NotifyTimeoutMs, true
	}
	if src.NotifySMTPPortSet {
		dst.NotifySMTPPort, dst.NotifySMTPPortSet = src.NotifySMTPPort, true
	}

	mergeList(&dst.NotifyChannels, src.NotifyChannels)
	mergeList(&dst.NotifyEmailTo, src.NotifyEmailTo)
	mergeList(&dst.NotifyWebhookURLs, src.NotifyWebhookURLs)
}

// stripComments removes lines starting with # (comment lines) from content.
// empty lines are preserved, inline comments are not supported.
// handles both Unix (LF) and Windows (CRLF) line endings.
func stripComments(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := make([]string, 0, strings.Count(content, "\n")+1)
	for line := range strings.SplitSeq(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
