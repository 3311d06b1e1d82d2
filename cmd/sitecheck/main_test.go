package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/browser/fake"
	"github.com/umputun/sitecheck/pkg/config"
	"github.com/umputun/sitecheck/pkg/progress"
	"github.com/umputun/sitecheck/pkg/scenario"
	"github.com/umputun/sitecheck/pkg/verify"
)

const homeScenario = `name: home
base_url: https://site.test/
steps:
  - open: /
  - wait: {text: {locate: [{id: title}], equals: Hello}}
`

const brokenScenario = `name: broken
base_url: https://site.test/
steps:
  - open: /
  - wait: {visible: [{id: missing}], timeout_ms: 30}
  - click: {locate: [{id: title}]}
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// fakeLaunch serves a one page site and counts launches and closes.
func fakeLaunch(launches, closes *atomic.Int32) launchFunc {
	return func(context.Context) (browser.Driver, func() error, error) {
		launches.Add(1)
		b := fake.New(&fake.Page{URL: "about:blank"})
		b.Route("https://site.test/", func() *fake.Page {
			return &fake.Page{Nodes: []*fake.Node{{Tag: "h1", ID: "title", Text: "Hello"}}}
		})
		b.Route("https://staging.test/", func() *fake.Page {
			return &fake.Page{Nodes: []*fake.Node{{Tag: "h1", ID: "title", Text: "Staging"}}}
		})
		return b, func() error { closes.Add(1); return nil }, nil
	}
}

func newTestSuite(t *testing.T, paths ...string) (*suite, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	log, err := progress.NewLogger(progress.Config{ReportDir: t.TempDir(), Suite: "test", NoColor: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	var launches, closes atomic.Int32
	s := &suite{
		cfg:    config.Values{Backend: "playwright", TimeoutMs: 200, PollIntervalMs: 5, NavTimeoutMs: 200, SettleTimeoutMs: 200},
		paths:  paths,
		log:    log,
		launch: fakeLaunch(&launches, &closes),
	}
	return s, &launches, &closes
}

func TestApplyFlags(t *testing.T) {
	cfg := &config.Config{Values: config.Values{
		Backend: "playwright", Browser: "chromium", Headless: true, TimeoutMs: 10000, ReportDir: "reports",
	}}

	applyFlags(cfg, opts{})
	assert.Equal(t, "playwright", cfg.Backend, "unset flags keep config")
	assert.True(t, cfg.Headless)
	assert.Equal(t, 10000, cfg.TimeoutMs)

	applyFlags(cfg, opts{Backend: "chromedp", Browser: "firefox", Headed: true, Install: true,
		Timeout: 3 * time.Second, ReportDir: "/tmp/r"})
	assert.Equal(t, "chromedp", cfg.Backend)
	assert.Equal(t, "firefox", cfg.Browser)
	assert.False(t, cfg.Headless)
	assert.True(t, cfg.InstallBrowsers)
	assert.Equal(t, 3000, cfg.TimeoutMs)
	assert.Equal(t, "/tmp/r", cfg.ReportDir)
}

func TestSuiteName(t *testing.T) {
	tests := []struct {
		paths []string
		want  string
	}{
		{[]string{"scenarios/saucedemo.yml"}, "saucedemo"},
		{[]string{"/home/user/.config/sitecheck/scenarios/"}, "scenarios"},
		{[]string{"a.yml", "b.yml"}, "run"},
		{nil, "run"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, suiteName(tc.paths))
		})
	}
}

func TestNotifyParams(t *testing.T) {
	p := notifyParams(config.Values{
		NotifyChannels: []string{"telegram", "webhook"}, NotifyOnError: true, NotifyTimeoutMs: 500,
		NotifyTelegramToken: "tok", NotifyTelegramChat: "42", NotifySMTPPort: 587, NotifySMTPStartTLS: true,
		NotifyEmailTo: []string{"a@example.com"}, NotifyWebhookURLs: []string{"https://hook.test"},
		NotifyCustomScript: "/bin/notify.sh",
	})
	assert.Equal(t, []string{"telegram", "webhook"}, p.Channels)
	assert.True(t, p.OnError)
	assert.False(t, p.OnComplete)
	assert.Equal(t, 500, p.TimeoutMs)
	assert.Equal(t, "tok", p.TelegramToken)
	assert.Equal(t, "42", p.TelegramChat)
	assert.Equal(t, 587, p.SMTPPort)
	assert.True(t, p.SMTPStartTLS)
	assert.Equal(t, []string{"a@example.com"}, p.EmailTo)
	assert.Equal(t, []string{"https://hook.test"}, p.WebhookURLs)
	assert.Equal(t, "/bin/notify.sh", p.CustomScript)
}

func TestLoadScenarios(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yml", homeScenario)
	writeScenario(t, dir, "b.yml", brokenScenario)
	single := writeScenario(t, t.TempDir(), "single.yml", homeScenario)

	scs, err := loadScenarios([]string{single, dir}, "")
	require.NoError(t, err)
	require.Len(t, scs, 3)
	assert.Equal(t, []string{"home", "home", "broken"}, []string{scs[0].Name, scs[1].Name, scs[2].Name})
	assert.Equal(t, "https://site.test/", scs[0].BaseURL)

	t.Run("base url override", func(t *testing.T) {
		scs, err := loadScenarios([]string{single}, "https://staging.test/")
		require.NoError(t, err)
		assert.Equal(t, "https://staging.test/", scs[0].BaseURL)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := loadScenarios([]string{filepath.Join(dir, "nope.yml")}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scenario path")
	})

	t.Run("invalid scenario", func(t *testing.T) {
		bad := writeScenario(t, t.TempDir(), "bad.yml", "steps:\n  - tap: x\n")
		_, err := loadScenarios([]string{bad}, "")
		require.Error(t, err)
	})
}

func TestSuite_RunOnce(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yml", homeScenario)
	writeScenario(t, dir, "b.yml", brokenScenario)
	s, launches, closes := newTestSuite(t, dir)

	sum := s.runOnce(context.Background())
	require.NoError(t, sum.err)
	require.Len(t, sum.reports, 2)
	assert.Equal(t, int32(1), launches.Load(), "one browser for all scenarios")
	assert.Equal(t, int32(1), closes.Load())

	passed, failed, skipped := sum.counts()
	assert.Equal(t, []int{3, 1, 1}, []int{passed, failed, skipped})
	assert.False(t, sum.ok())

	err := s.report(context.Background(), sum)
	require.ErrorIs(t, err, errStepsFailed)
	assert.Equal(t, "1 of 5 steps failed", err.Error())

	content, err := os.ReadFile(s.log.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "PASS home #2 wait")
	assert.Contains(t, string(content), "FAIL broken #2 wait")
	assert.Contains(t, string(content), "SKIP broken #3 click: not run, step 2 failed")
	assert.Contains(t, string(content), "total: 2 scenarios, 3 passed, 1 failed, 1 skipped")
}

func TestSuite_RunOnce_BaseURLOverride(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "home.yml", homeScenario)
	s, _, _ := newTestSuite(t, path)
	s.baseURL = "https://staging.test/"

	sum := s.runOnce(context.Background())
	require.NoError(t, sum.err)
	_, failed, _ := sum.counts()
	assert.Equal(t, 1, failed, "staging serves a different title")
	assert.Equal(t, "https://staging.test/", sum.reports[0].BaseURL)
}

func TestSuite_RunOnce_LaunchError(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "home.yml", homeScenario)
	s, _, _ := newTestSuite(t, path)
	s.launch = func(context.Context) (browser.Driver, func() error, error) {
		return nil, nil, errors.New("chrome not found")
	}

	sum := s.runOnce(context.Background())
	require.Error(t, sum.err)
	assert.Equal(t, "start playwright: chrome not found", sum.err.Error())
	assert.False(t, sum.ok())

	err := s.report(context.Background(), sum)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errStepsFailed)
}

func TestSuite_Report_Success(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "home.yml", homeScenario)
	s, _, _ := newTestSuite(t, path)
	assert.NoError(t, s.report(context.Background(), s.runOnce(context.Background())))
}

func TestSummary_Notification(t *testing.T) {
	sum := summary{
		duration: 40 * time.Second,
		reports: []scenario.Report{{
			Scenario: "shop",
			BaseURL:  "https://shop.test/",
			Steps: []scenario.StepResult{
				{Index: 1, Label: "open", Result: verify.Pass("opened")},
				{Index: 2, Label: "about link", Result: verify.Fail("external link", errors.New("navigation timeout"))},
				{Index: 3, Label: "click", Result: verify.Skip("not run, step 2 failed")},
			},
		}},
	}
	res := sum.notification("shop", "chromedp")
	assert.Equal(t, "failure", res.Status)
	assert.Equal(t, "shop", res.Suite)
	assert.Equal(t, "chromedp", res.Backend)
	assert.Equal(t, "https://shop.test/", res.BaseURL)
	assert.Equal(t, "40 seconds", res.Duration)
	assert.Equal(t, []int{1, 1, 1, 1}, []int{res.Scenarios, res.Passed, res.Failed, res.Skipped})
	assert.Equal(t, []string{"shop step 2 about link: external link: navigation timeout"}, res.Failures)
	assert.Empty(t, res.Error)

	t.Run("success", func(t *testing.T) {
		ok := summary{reports: []scenario.Report{{Scenario: "a", Steps: []scenario.StepResult{{Result: verify.Pass("ok")}}}}}
		assert.Equal(t, "success", ok.notification("a", "playwright").Status)
	})

	t.Run("run error", func(t *testing.T) {
		res := summary{err: errors.New("no scenarios")}.notification("a", "playwright")
		assert.Equal(t, "failure", res.Status)
		assert.Equal(t, "no scenarios", res.Error)
		assert.Empty(t, res.BaseURL)
	})
}

func TestWatchSet(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	file := writeScenario(t, other, "one.yml", homeScenario)

	ws, err := newWatchSet([]string{dir, file})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dir, other}, ws.watchDirs())

	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "scenario in watched dir", path: filepath.Join(dir, "new.yml"), want: true},
		{name: "yaml ext", path: filepath.Join(dir, "new.yaml"), want: true},
		{name: "non scenario in watched dir", path: filepath.Join(dir, "notes.txt")},
		{name: "watched file", path: file, want: true},
		{name: "sibling of watched file", path: filepath.Join(other, "two.yml")},
		{name: "nested dir", path: filepath.Join(dir, "sub", "x.yml")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ws.match(tc.path))
		})
	}

	_, err = newWatchSet([]string{filepath.Join(dir, "missing")})
	require.Error(t, err)
}

func TestSuite_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "home.yml", homeScenario)
	s, launches, _ := newTestSuite(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watch(ctx) }()

	require.Eventually(t, func() bool { return launches.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// unrelated files don't trigger a run
	writeScenario(t, dir, "notes.txt", "x")
	time.Sleep(2 * watchDebounce)
	assert.Equal(t, int32(1), launches.Load())

	require.NoError(t, os.WriteFile(path, []byte(brokenScenario), 0o600))
	require.Eventually(t, func() bool { return launches.Load() == 2 }, 5*time.Second, 10*time.Millisecond,
		"a failing re-run keeps watching")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}
