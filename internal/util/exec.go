package util

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const execWaitDelay = 2 * time.Second

// ExecWithOutput runs a command in workDir and returns trimmed stdout.
// On failure the error includes stderr.
func ExecWithOutput(workDir, name string, args ...string) (string, error) {
	return ExecContext(context.Background(), workDir, nil, name, args...)
}

// ExecContext runs a command bound to ctx with extra environment entries
// appended to the inherited environment. Returns trimmed stdout.
func ExecContext(ctx context.Context, workDir string, env []string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	// Bound the wait for grandchildren still holding our pipes after a kill.
	cmd.WaitDelay = execWaitDelay
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s: %w", name, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
