// Package main provides sitecheck - scripted UI checks of web sites in a real browser.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/browser/cdp"
	"github.com/umputun/sitecheck/pkg/browser/pw"
	"github.com/umputun/sitecheck/pkg/config"
	"github.com/umputun/sitecheck/pkg/notify"
	"github.com/umputun/sitecheck/pkg/progress"
)

// opts holds all command-line options.
type opts struct {
	ConfigDir string        `long:"config-dir" env:"SITECHECK_CONFIG_DIR" description:"config directory (default ~/.config/sitecheck)"`
	Backend   string        `short:"b" long:"backend" choice:"playwright" choice:"chromedp" description:"browser backend, overrides config"`
	Browser   string        `long:"browser" choice:"chromium" choice:"firefox" choice:"webkit" description:"playwright browser, overrides config"`
	Headed    bool          `long:"headed" description:"show the browser window"`
	Install   bool          `long:"install" description:"install playwright browsers before the run"`
	BaseURL   string        `short:"u" long:"base-url" description:"replace base_url of every scenario"`
	Timeout   time.Duration `short:"t" long:"timeout" description:"default wait timeout, overrides config"`
	ReportDir string        `long:"report-dir" description:"write a report file into this directory"`
	Watch     bool          `short:"w" long:"watch" description:"re-run scenarios when their files change"`
	NoNotify  bool          `long:"no-notify" description:"disable notifications"`
	Debug     bool          `short:"d" long:"debug" description:"enable debug logging"`
	NoColor   bool          `long:"no-color" description:"disable color output"`
	Version   bool          `short:"v" long:"version" description:"print version and exit"`

	Paths []string // scenario files or directories, config scenarios_dir when empty
}

var revision = "unknown"

// errStepsFailed marks a completed run with failed steps.
var errStepsFailed = errors.New("steps failed")

func main() {
	fmt.Printf("sitecheck %s\n", revision)

	var o opts
	parser := flags.NewParser(&o, flags.Default)
	parser.Usage = "[OPTIONS] [scenario...]"

	args, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if o.Version {
		os.Exit(0)
	}
	o.Paths = args

	// setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	cfg, err := config.Load(o.ConfigDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, o)

	paths := o.Paths
	if len(paths) == 0 {
		paths = []string{cfg.ScenariosDir}
	}

	log, err := progress.NewLogger(progress.Config{
		ReportDir: cfg.ReportDir,
		Suite:     suiteName(paths),
		Backend:   cfg.Backend,
		Debug:     o.Debug,
		NoColor:   o.NoColor,
		Colors:    progress.Colors(cfg.Colors),
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", closeErr)
		}
	}()

	var notifier *notify.Service
	if !o.NoNotify {
		if notifier, err = notify.New(notifyParams(cfg.Values), log); err != nil {
			return fmt.Errorf("init notifications: %w", err)
		}
	}

	s := &suite{
		cfg:      cfg.Values,
		paths:    paths,
		baseURL:  o.BaseURL,
		log:      log,
		notifier: notifier,
		launch:   launcher(cfg.Values, log),
	}
	if log.Path() != "" {
		log.Print("report: %s", log.Path())
	}

	if o.Watch {
		return s.watch(ctx)
	}
	return s.report(ctx, s.runOnce(ctx))
}

// applyFlags overrides config values with the command-line options that were set.
func applyFlags(cfg *config.Config, o opts) {
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.Browser != "" {
		cfg.Browser = o.Browser
	}
	if o.Headed {
		cfg.Headless = false
	}
	if o.Install {
		cfg.InstallBrowsers = true
	}
	if o.Timeout > 0 {
		cfg.TimeoutMs = int(o.Timeout / time.Millisecond)
	}
	if o.ReportDir != "" {
		cfg.ReportDir = o.ReportDir
	}
}

// suiteName names the run after its only scenario path, "run" for several.
func suiteName(paths []string) string {
	if len(paths) != 1 {
		return "run"
	}
	base := filepath.Base(filepath.Clean(paths[0]))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// notifyParams maps notification config values to notify params.
func notifyParams(v config.Values) notify.Params {
	return notify.Params{
		Channels:      v.NotifyChannels,
		OnError:       v.NotifyOnError,
		OnComplete:    v.NotifyOnComplete,
		TimeoutMs:     v.NotifyTimeoutMs,
		TelegramToken: v.NotifyTelegramToken,
		TelegramChat:  v.NotifyTelegramChat,
		SlackToken:    v.NotifySlackToken,
		SlackChannel:  v.NotifySlackChannel,
		SMTPHost:      v.NotifySMTPHost,
		SMTPPort:      v.NotifySMTPPort,
		SMTPUsername:  v.NotifySMTPUsername,
		SMTPPassword:  v.NotifySMTPPassword,
		SMTPStartTLS:  v.NotifySMTPStartTLS,
		EmailFrom:     v.NotifyEmailFrom,
		EmailTo:       v.NotifyEmailTo,
		WebhookURLs:   v.NotifyWebhookURLs,
		CustomScript:  v.NotifyCustomScript,
	}
}

// launchFunc starts a browser and returns its driver with a close function.
type launchFunc func(ctx context.Context) (browser.Driver, func() error, error)

// launcher returns the launch function of the configured backend.
func launcher(v config.Values, log *progress.Logger) launchFunc {
	if v.Backend == "chromedp" {
		return func(ctx context.Context) (browser.Driver, func() error, error) {
			d, err := cdp.Launch(ctx, cdp.Options{
				Headless: v.Headless,
				Logf:     func(format string, args ...any) { log.Print("[DEBUG] cdp: "+format, args...) },
			})
			if err != nil {
				return nil, nil, err
			}
			return d, d.Close, nil
		}
	}
	return func(context.Context) (browser.Driver, func() error, error) {
		l, err := pw.Launch(pw.Options{
			Browser:  v.Browser,
			Headless: v.Headless,
			Install:  v.InstallBrowsers,
			Timeout:  v.Timeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		return l.Driver, l.Close, nil
	}
}
