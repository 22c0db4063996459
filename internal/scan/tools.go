package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Subprocess wall-clock budgets per tool.
const (
	subfinderTimeout = 300 * time.Second
	nmapTimeout      = 120 * time.Second
	nucleiTimeout    = 600 * time.Second
	xrayTimeout      = 300 * time.Second
	gowitnessTimeout = 30 * time.Second
	httpProbeTimeout = 15 * time.Second
)

// errToolMissing routes handlers onto their fallback path.
var errToolMissing = errors.New("tool not found in PATH")

// lookPath is swappable in tests.
var lookPath = exec.LookPath

// runTool executes a binary with argv (no shell) under a timeout and returns
// stdout. A missing binary returns errToolMissing so the caller can fall
// back; a non-zero exit or timeout is a hard error.
func runTool(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	if _, err := lookPath(name); err != nil {
		return "", fmt.Errorf("%s: %w", name, errToolMissing)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if err != nil {
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return "", fmt.Errorf("%s failed: %v: %s", name, err, msg)
	}
	return stdout.String(), nil
}
