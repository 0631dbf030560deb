package util

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestExecWithOutput(t *testing.T) {
	// Test successful command
	output, err := ExecWithOutput(".", "echo", "hello")
	if err != nil {
		t.Fatalf("ExecWithOutput failed: %v", err)
	}
	if output != "hello" {
		t.Errorf("expected 'hello', got %q", output)
	}

	// Test command that fails
	_, err = ExecWithOutput(".", "false")
	if err == nil {
		t.Error("expected error for failing command")
	}
}

func TestExecWithOutput_WorkDir(t *testing.T) {
	// Create a temp directory
	tmpDir, err := os.MkdirTemp("", "exec-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	// Test that workDir is respected
	output, err := ExecWithOutput(tmpDir, "pwd")
	if err != nil {
		t.Fatalf("ExecWithOutput failed: %v", err)
	}
	if !strings.Contains(output, tmpDir) && !strings.Contains(tmpDir, output) {
		t.Errorf("expected output to contain %q, got %q", tmpDir, output)
	}
}

func TestExecWithOutput_StderrInError(t *testing.T) {
	// Test that stderr is captured in error
	_, err := ExecWithOutput(".", "sh", "-c", "echo 'error message' >&2; exit 1")
	if err == nil {
		t.Error("expected error")
	}
	if !strings.Contains(err.Error(), "error message") {
		t.Errorf("expected error to contain stderr, got %q", err.Error())
	}
}

func TestExecContext_Env(t *testing.T) {
	output, err := ExecContext(context.Background(), ".", []string{"MEDIC_TEST_VAR=forty-two"}, "sh", "-c", "echo $MEDIC_TEST_VAR")
	if err != nil {
		t.Fatalf("ExecContext failed: %v", err)
	}
	if output != "forty-two" {
		t.Errorf("expected 'forty-two', got %q", output)
	}
}

func TestExecContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ExecContext(ctx, ".", nil, "sleep", "10")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("ExecContext did not return promptly after cancel")
	}
}
