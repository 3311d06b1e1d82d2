// Package progress provides timestamped run logging to stdout and an optional report file,
// with results colored by status.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/umputun/sitecheck/pkg/verify"
)

// Colors holds "r,g,b" values per output kind. Empty values use the built-in colors.
type Colors struct {
	Pass      string
	Fail      string
	Skip      string
	Warn      string
	Error     string
	Timestamp string
	Info      string
}

// Logger writes timestamped output to stdout and, when a report dir is set, to a report file.
type Logger struct {
	file      *os.File
	stdout    io.Writer
	startTime time.Time
	debug     bool

	passColor, failColor, skipColor *color.Color
	warnColor, errorColor           *color.Color
	timestampColor, infoColor       *color.Color
}

// Config holds logger configuration.
type Config struct {
	ReportDir string // directory for the report file, empty disables it
	Suite     string // run name, used in the report file name and header
	Backend   string // browser backend of the run
	Debug     bool   // show [DEBUG] lines of the engine on stdout
	NoColor   bool   // disable color output (sets color.NoColor globally)
	Colors    Colors
}

// NewLogger creates a logger writing to stdout and, if cfg.ReportDir is set, a report file.
func NewLogger(cfg Config) (*Logger, error) {
	// set global color setting
	if cfg.NoColor {
		color.NoColor = true
	}

	l := &Logger{
		stdout:         os.Stdout,
		startTime:      time.Now(),
		debug:          cfg.Debug,
		passColor:      pick(cfg.Colors.Pass, color.FgGreen),
		failColor:      pick(cfg.Colors.Fail, color.FgRed),
		skipColor:      pick(cfg.Colors.Skip, color.FgYellow),
		warnColor:      pick(cfg.Colors.Warn, color.FgYellow),
		errorColor:     pick(cfg.Colors.Error, color.FgRed),
		timestampColor: pick(cfg.Colors.Timestamp, color.FgWhite),
		infoColor:      pick(cfg.Colors.Info, color.Reset),
	}

	if cfg.ReportDir == "" {
		return l, nil
	}
	if err := os.MkdirAll(cfg.ReportDir, 0o750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	reportPath := filepath.Join(cfg.ReportDir, reportFilename(cfg.Suite, l.startTime))
	f, err := os.Create(reportPath) //nolint:gosec // path derived from config and suite name
	if err != nil {
		return nil, fmt.Errorf("create report file: %w", err)
	}
	l.file = f

	suite := cfg.Suite
	if suite == "" {
		suite = "(unnamed)"
	}
	l.writeFile("# Sitecheck Report\n")
	l.writeFile("Suite: %s\n", suite)
	l.writeFile("Backend: %s\n", cfg.Backend)
	l.writeFile("Started: %s\n", l.startTime.Format("2006-01-02 15:04:05"))
	l.writeFile("%s\n\n", strings.Repeat("-", 60))
	return l, nil
}

// pick returns an RGB color from an "r,g,b" value, or the fallback attribute.
func pick(rgb string, fallback color.Attribute) *color.Color {
	parts := strings.Split(rgb, ",")
	if len(parts) != 3 {
		return color.New(fallback)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return color.New(fallback)
		}
		v[i] = n
	}
	return color.RGB(v[0], v[1], v[2])
}

// Path returns the report file path, empty without a report.
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// timestampFormat is the format for timestamps: YY-MM-DD HH:MM:SS
const timestampFormat = "06-01-02 15:04:05"

// Print writes a timestamped message. Messages starting with [DEBUG] go to the report
// file always and to stdout only in debug mode.
func (l *Logger) Print(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(timestampFormat)

	l.writeFile("[%s] %s\n", timestamp, msg)
	if strings.HasPrefix(msg, "[DEBUG]") && !l.debug {
		return
	}
	l.writeStdout("%s %s\n", l.timestampColor.Sprintf("[%s]", timestamp), l.infoColor.Sprint(msg))
}

// Result writes a verification result colored by status, followed by its notes.
func (l *Logger) Result(label string, res verify.Result) {
	c := l.skipColor
	switch {
	case res.Passed():
		c = l.passColor
	case res.Failed():
		c = l.failColor
	}
	text := fmt.Sprintf("%s %s: %s", strings.ToUpper(string(res.Status)), label, res.Reason)
	if res.Cause != nil && !res.Passed() {
		text += ": " + res.Cause.Error()
	}
	for _, n := range res.Notes {
		text += "\n  note: " + n
	}
	l.printAligned(text, c)
}

// getTerminalWidth returns terminal width, using COLUMNS env var or syscall.
// Defaults to 80 if detection fails. Returns content width (total - 20 for timestamp).
func getTerminalWidth() int {
	const minWidth = 40

	// try COLUMNS env var first
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if w, err := strconv.Atoi(cols); err == nil && w > 0 {
			return max(w-20, minWidth) // leave room for timestamp prefix
		}
	}

	// try terminal syscall
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return max(w-20, minWidth)
	}

	return 80 - 20 // default 80 columns minus timestamp
}

// wrapText wraps text to specified width, breaking on word boundaries.
func wrapText(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	var result strings.Builder
	lineLen := 0
	for i, word := range strings.Fields(text) {
		switch {
		case i == 0:
			result.WriteString(word)
			lineLen = len(word)
		case lineLen+1+len(word) <= width:
			result.WriteString(" " + word)
			lineLen += 1 + len(word)
		default:
			result.WriteString("\n" + word)
			lineLen = len(word)
		}
	}
	return result.String()
}

// PrintAligned writes text with timestamp, timestamping the first line and indenting
// continuation lines.
func (l *Logger) PrintAligned(text string) {
	l.printAligned(text, l.infoColor)
}

func (l *Logger) printAligned(text string, c *color.Color) {
	// trim trailing newlines to avoid extra blank lines
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}

	timestamp := time.Now().Format(timestampFormat)
	tsPrefix := l.timestampColor.Sprintf("[%s]", timestamp)
	indent := strings.Repeat(" ", 20) // aligns with "[YY-MM-DD HH:MM:SS] "
	width := getTerminalWidth()

	var lines []string
	for line := range strings.SplitSeq(text, "\n") {
		if len(line) <= width {
			lines = append(lines, line)
			continue
		}
		lead := line[:len(line)-len(strings.TrimLeft(line, " "))]
		for wrapped := range strings.SplitSeq(wrapText(line, width-len(lead)), "\n") {
			lines = append(lines, lead+strings.TrimLeft(wrapped, " "))
		}
	}
	for i, line := range lines {
		switch {
		case line == "":
			l.writeFile("\n")
			l.writeStdout("\n")
		case i == 0:
			l.writeFile("[%s] %s\n", timestamp, line)
			l.writeStdout("%s %s\n", tsPrefix, c.Sprint(line))
		default:
			l.writeFile("%s%s\n", indent, line)
			l.writeStdout("%s%s\n", indent, c.Sprint(line))
		}
	}
}

// Error writes an error message.
func (l *Logger) Error(format string, args ...any) {
	l.tagged("ERROR", l.errorColor, format, args...)
}

// Warn writes a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.tagged("WARN", l.warnColor, format, args...)
}

func (l *Logger) tagged(tag string, c *color.Color, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(timestampFormat)
	l.writeFile("[%s] %s: %s\n", timestamp, tag, msg)
	l.writeStdout("%s %s\n", l.timestampColor.Sprintf("[%s]", timestamp), c.Sprintf("%s: %s", tag, msg))
}

// Elapsed returns formatted elapsed time since start.
func (l *Logger) Elapsed() string {
	return humanize.RelTime(l.startTime, time.Now(), "", "")
}

// Close writes the footer and closes the report file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}

	l.writeFile("\n%s\n", strings.Repeat("-", 60))
	l.writeFile("Completed: %s (%s)\n", time.Now().Format("2006-01-02 15:04:05"), l.Elapsed())

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}
	return nil
}

func (l *Logger) writeFile(format string, args ...any) {
	if l.file != nil {
		fmt.Fprintf(l.file, format, args...)
	}
}

func (l *Logger) writeStdout(format string, args ...any) {
	fmt.Fprintf(l.stdout, format, args...)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// reportFilename returns the report file name for a suite started at t.
func reportFilename(suite string, t time.Time) string {
	stem := strings.Trim(unsafeName.ReplaceAllString(suite, "-"), "-")
	if stem == "" {
		stem = "run"
	}
	return fmt.Sprintf("sitecheck-%s-%s.txt", stem, t.Format("20060102-150405"))
}
