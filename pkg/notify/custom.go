package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// customScript is a user executable receiving the run result as JSON on stdin.
type customScript string

// run executes the script. Status and counts are also passed as SITECHECK_* environment
// variables for scripts that don't parse JSON.
func (c customScript) run(ctx context.Context, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	cmd := exec.CommandContext(ctx, string(c)) //nolint:gosec // path comes from user config
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(os.Environ(),
		"SITECHECK_STATUS="+r.Status,
		"SITECHECK_SUITE="+r.Suite,
		"SITECHECK_PASSED="+strconv.Itoa(r.Passed),
		"SITECHECK_FAILED="+strconv.Itoa(r.Failed),
		"SITECHECK_SKIPPED="+strconv.Itoa(r.Skipped),
	)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second // children may hold the output pipe after the script is killed

	if err = cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("script %s: %w, output: %s", string(c), err, msg)
		}
		return fmt.Errorf("script %s: %w", string(c), err)
	}
	return nil
}
