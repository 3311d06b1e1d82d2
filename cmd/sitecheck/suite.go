package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/config"
	"github.com/umputun/sitecheck/pkg/notify"
	"github.com/umputun/sitecheck/pkg/progress"
	"github.com/umputun/sitecheck/pkg/scenario"
)

// watchDebounce collapses editor write bursts into one re-run.
const watchDebounce = 300 * time.Millisecond

// suite runs the scenarios under paths and reports the outcome.
type suite struct {
	cfg      config.Values
	paths    []string
	baseURL  string // replaces base_url of every scenario when set
	log      *progress.Logger
	notifier *notify.Service
	launch   launchFunc
}

// summary is the outcome of one suite run.
type summary struct {
	reports  []scenario.Report
	duration time.Duration
	err      error // the run could not start or finish
}

// counts sums step counts over all reports.
func (s summary) counts() (passed, failed, skipped int) {
	for _, r := range s.reports {
		p, f, sk := r.Counts()
		passed, failed, skipped = passed+p, failed+f, skipped+sk
	}
	return passed, failed, skipped
}

// ok reports a run that started and has no failed steps.
func (s summary) ok() bool {
	_, failed, _ := s.counts()
	return s.err == nil && failed == 0
}

// notification converts the summary into a notification result.
func (s summary) notification(name, backend string) notify.Result {
	passed, failed, skipped := s.counts()
	res := notify.Result{
		Status:    "success",
		Suite:     name,
		Backend:   backend,
		Duration:  strings.TrimSpace(humanize.RelTime(time.Now().Add(-s.duration), time.Now(), "", "")),
		Scenarios: len(s.reports),
		Passed:    passed,
		Failed:    failed,
		Skipped:   skipped,
	}
	if len(s.reports) == 1 {
		res.BaseURL = s.reports[0].BaseURL
	}
	for _, r := range s.reports {
		for _, st := range r.Failures() {
			res.Failures = append(res.Failures, fmt.Sprintf("%s step %d %s: %s", r.Scenario, st.Index, st.Label, st.Err()))
		}
	}
	if s.err != nil {
		res.Error = s.err.Error()
	}
	if !s.ok() {
		res.Status = "failure"
	}
	return res
}

// runOnce loads the scenarios, starts a browser and runs every scenario in it.
func (s *suite) runOnce(ctx context.Context) summary {
	start := time.Now()
	scs, err := loadScenarios(s.paths, s.baseURL)
	if err != nil {
		return summary{err: err, duration: time.Since(start)}
	}

	drv, closeBrowser, err := s.launch(ctx)
	if err != nil {
		return summary{err: fmt.Errorf("start %s: %w", s.cfg.Backend, err), duration: time.Since(start)}
	}
	defer func() {
		if closeErr := closeBrowser(); closeErr != nil {
			s.log.Warn("close browser: %v", closeErr)
		}
	}()

	runner := &scenario.Runner{
		Session: &browser.Session{
			Driver:       drv,
			Timeout:      s.cfg.Timeout(),
			PollInterval: s.cfg.PollInterval(),
			Log:          s.log,
		},
		NavTimeout:    s.cfg.NavTimeout(),
		SettleTimeout: s.cfg.SettleTimeout(),
		OnStep: func(sc *scenario.Scenario, res scenario.StepResult) {
			s.log.Result(fmt.Sprintf("%s #%d %s", sc.Name, res.Index, res.Label), res.Result)
		},
	}

	var sum summary
	for _, sc := range scs {
		if ctx.Err() != nil {
			break
		}
		s.log.Print("scenario %s, %d steps", sc.Name, len(sc.Steps))
		rep := runner.Run(ctx, sc)
		passed, failed, skipped := rep.Counts()
		s.log.Print("scenario %s: %d passed, %d failed, %d skipped in %s",
			sc.Name, passed, failed, skipped, rep.Duration.Round(time.Millisecond))
		sum.reports = append(sum.reports, rep)
	}
	sum.duration = time.Since(start)
	return sum
}

// report logs the totals, sends the notification and turns failures into an error.
func (s *suite) report(ctx context.Context, sum summary) error {
	passed, failed, skipped := sum.counts()
	res := sum.notification(suiteName(s.paths), s.cfg.Backend)
	if sum.err != nil {
		s.log.Error("%v", sum.err)
	}
	s.log.Print("total: %d scenarios, %d passed, %d failed, %d skipped", len(sum.reports), passed, failed, skipped)
	s.notifier.Send(ctx, res)

	switch {
	case sum.err != nil:
		return sum.err
	case failed > 0:
		return fmt.Errorf("%d of %d %w", failed, passed+failed+skipped, errStepsFailed)
	}
	return nil
}

// watch runs the suite, then re-runs it on every change of a watched scenario file
// until ctx is canceled. Failed runs are reported and watching continues.
func (s *suite) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	ws, err := newWatchSet(s.paths)
	if err != nil {
		return err
	}
	for _, dir := range ws.watchDirs() {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	s.rerun(ctx)
	s.log.Print("watching %d paths for changes, ctrl+c to stop", len(s.paths))

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !ws.match(ev.Name) {
				continue
			}
			s.log.Print("[DEBUG] %s", ev)
			debounce = time.After(watchDebounce)
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watch: %v", werr)
		case <-debounce:
			debounce = nil
			s.log.Print("scenario change detected, re-running")
			s.rerun(ctx)
		}
	}
}

// rerun runs the suite once in watch mode, where failures are reported but not fatal.
func (s *suite) rerun(ctx context.Context) {
	if err := s.report(ctx, s.runOnce(ctx)); err != nil && !errors.Is(err, errStepsFailed) {
		s.log.Warn("run failed: %v", err)
	}
}

// loadScenarios loads scenario files and directories in the given order.
func loadScenarios(paths []string, baseURL string) ([]*scenario.Scenario, error) {
	var res []*scenario.Scenario
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario path: %w", err)
		}
		if st.IsDir() {
			scs, err := scenario.LoadDir(p)
			if err != nil {
				return nil, err
			}
			res = append(res, scs...)
			continue
		}
		sc, err := scenario.Load(p)
		if err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	if baseURL != "" {
		for _, sc := range res {
			sc.BaseURL = baseURL
		}
	}
	return res, nil
}

// watchSet matches file events against the scenario paths of a run.
type watchSet struct {
	dirs  map[string]bool // directories given as paths, any scenario file in them matches
	files map[string]bool // files given as paths
}

func newWatchSet(paths []string) (watchSet, error) {
	ws := watchSet{dirs: map[string]bool{}, files: map[string]bool{}}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return ws, fmt.Errorf("resolve %s: %w", p, err)
		}
		st, err := os.Stat(abs)
		if err != nil {
			return ws, fmt.Errorf("scenario path: %w", err)
		}
		if st.IsDir() {
			ws.dirs[abs] = true
			continue
		}
		ws.files[abs] = true
	}
	return ws, nil
}

// watchDirs returns the directories to subscribe to, files are watched through their parent.
func (ws watchSet) watchDirs() []string {
	seen := map[string]bool{}
	var res []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			res = append(res, dir)
		}
	}
	for d := range ws.dirs {
		add(d)
	}
	for f := range ws.files {
		add(filepath.Dir(f))
	}
	return res
}

func (ws watchSet) match(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if ws.files[abs] {
		return true
	}
	return scenario.IsScenarioFile(abs) && ws.dirs[filepath.Dir(abs)]
}
