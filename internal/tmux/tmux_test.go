package tmux

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func hasTmux() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// scripted replaces the tmux runner with a recorder.
func scripted(tm *Tmux, responses map[string]error) *[]string {
	var calls []string
	tm.run = func(_ context.Context, args ...string) (string, error) {
		line := strings.Join(args, " ")
		calls = append(calls, line)
		return "", responses[args[0]]
	}
	return &calls
}

func TestWrapError(t *testing.T) {
	tm := NewTmux("medic-")

	tests := []struct {
		stderr string
		want   error
	}{
		{"no server running on /tmp/tmux-...", ErrNoServer},
		{"error connecting to /tmp/tmux-...", ErrNoServer},
		{"session not found: test", ErrSessionNotFound},
		{"can't find session: test", ErrSessionNotFound},
	}

	for _, tt := range tests {
		err := tm.wrapError(nil, tt.stderr, []string{"test"})
		if err != tt.want {
			t.Errorf("wrapError(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
	}

	err := tm.wrapError(nil, "unknown option", []string{"send-keys"})
	if err == nil || !strings.Contains(err.Error(), "tmux send-keys: unknown option") {
		t.Errorf("wrapError(unknown) = %v", err)
	}
}

func TestSessionName(t *testing.T) {
	tm := NewTmux("medic-")
	if got := tm.SessionName("worker-3"); got != "medic-worker-3" {
		t.Errorf("SessionName = %q", got)
	}
	if got := tm.SessionName("team/alpha"); got != "medic-team_alpha" {
		t.Errorf("SessionName with slash = %q", got)
	}
}

func TestCancelSendsCtrlC(t *testing.T) {
	tm := NewTmux("medic-")
	calls := scripted(tm, nil)

	ok, err := tm.Cancel(context.Background(), "worker-1")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true, nil", ok, err)
	}
	want := []string{"has-session -t =medic-worker-1", "send-keys -t medic-worker-1 C-c"}
	if strings.Join(*calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", *calls, want)
	}
}

func TestCancelMissingSession(t *testing.T) {
	tm := NewTmux("medic-")
	calls := scripted(tm, map[string]error{"has-session": ErrSessionNotFound})

	ok, err := tm.Cancel(context.Background(), "worker-1")
	if ok || !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Cancel = %v, %v; want false, ErrSessionNotFound", ok, err)
	}
	if len(*calls) != 1 {
		t.Errorf("expected no send-keys after missing session, got %v", *calls)
	}
}

func TestCancelSendFailure(t *testing.T) {
	tm := NewTmux("medic-")
	boom := errors.New("pane dead")
	scripted(tm, map[string]error{"send-keys": boom})

	ok, err := tm.Cancel(context.Background(), "worker-1")
	if ok || !errors.Is(err, boom) {
		t.Fatalf("Cancel = %v, %v; want false, %v", ok, err, boom)
	}
}

func TestHasSessionNoServer(t *testing.T) {
	if !hasTmux() {
		t.Skip("tmux not installed")
	}

	tm := NewTmux("medic-test-")
	has, err := tm.HasSession(context.Background(), "nonexistent-session-xyz")
	if err != nil {
		t.Fatalf("HasSession: %v", err)
	}
	if has {
		t.Error("expected session to not exist")
	}
}
