package nudge

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/medic/internal/fleet"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	return NewQueue(fleet.New(t.TempDir(), []fleet.AgentID{"worker-1", "worker-2"}))
}

func TestEnqueueAndDrain(t *testing.T) {
	q := testQueue(t)

	n1 := QueuedNudge{Sender: "operator", Message: "Check your tasks", Priority: PriorityNormal}
	n2 := QueuedNudge{Sender: "medic", Message: "You appear stalled", Priority: PriorityUrgent}

	if err := q.Enqueue("worker-1", n1); err != nil {
		t.Fatalf("Enqueue n1: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := q.Enqueue("worker-1", n2); err != nil {
		t.Fatalf("Enqueue n2: %v", err)
	}

	count, err := q.Pending("worker-1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if count != 2 {
		t.Errorf("Pending = %d, want 2", count)
	}

	nudges, err := q.Drain("worker-1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(nudges) != 2 {
		t.Fatalf("Drain returned %d nudges, want 2", len(nudges))
	}
	if nudges[0].Sender != "operator" || nudges[1].Sender != "medic" {
		t.Errorf("Drain order = %q, %q; want operator, medic", nudges[0].Sender, nudges[1].Sender)
	}

	count, err = q.Pending("worker-1")
	if err != nil {
		t.Fatalf("Pending after drain: %v", err)
	}
	if count != 0 {
		t.Errorf("Pending after drain = %d, want 0", count)
	}
}

func TestQueuesArePerAgent(t *testing.T) {
	q := testQueue(t)
	if err := q.Enqueue("worker-1", QueuedNudge{Sender: "x", Message: "only for 1"}); err != nil {
		t.Fatal(err)
	}
	count, err := q.Pending("worker-2")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("worker-2 Pending = %d, want 0", count)
	}
}

func TestDrainEmptyQueue(t *testing.T) {
	q := testQueue(t)
	nudges, err := q.Drain("worker-1")
	if err != nil {
		t.Fatalf("Drain empty: %v", err)
	}
	if len(nudges) != 0 {
		t.Errorf("Drain empty returned %d nudges, want 0", len(nudges))
	}
}

func TestDrainSkipsMalformed(t *testing.T) {
	q := testQueue(t)
	dir := q.fleet.NudgeDir("worker-1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "100.json"), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	n := QueuedNudge{Sender: "test", Message: "valid", Timestamp: time.Now().Add(time.Second)}
	if err := q.Enqueue("worker-1", n); err != nil {
		t.Fatal(err)
	}

	nudges, err := q.Drain("worker-1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(nudges) != 1 {
		t.Fatalf("got %d nudges, want 1 (malformed should be skipped)", len(nudges))
	}
	if nudges[0].Message != "valid" {
		t.Errorf("got message %q, want %q", nudges[0].Message, "valid")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("queue dir should be empty after drain, got %v", names)
	}
}

func TestEnqueueDefaults(t *testing.T) {
	q := testQueue(t)
	if err := q.Enqueue("worker-1", QueuedNudge{Sender: "test", Message: "hello"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	nudges, err := q.Drain("worker-1")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(nudges) != 1 {
		t.Fatalf("got %d nudges, want 1", len(nudges))
	}
	if nudges[0].Priority != PriorityNormal {
		t.Errorf("Priority = %q, want %q", nudges[0].Priority, PriorityNormal)
	}
	if nudges[0].Timestamp.IsZero() {
		t.Error("Timestamp should have been set")
	}
}

func TestSendRescue(t *testing.T) {
	q := testQueue(t)

	ok, err := q.SendRescue(context.Background(), "worker-1", 8.2)
	if err != nil || !ok {
		t.Fatalf("SendRescue = %v, %v; want true, nil", ok, err)
	}

	nudges, err := q.Drain("worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(nudges) != 1 {
		t.Fatalf("got %d nudges, want 1", len(nudges))
	}
	if nudges[0].Priority != PriorityUrgent || nudges[0].Sender != Sender {
		t.Errorf("rescue nudge = %+v, want urgent from %s", nudges[0], Sender)
	}
	if !strings.Contains(nudges[0].Message, "8 minutes") {
		t.Errorf("message %q should mention the stall", nudges[0].Message)
	}
}

func TestSendRescueCancelled(t *testing.T) {
	q := testQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := q.SendRescue(ctx, "worker-1", 1)
	if ok || err == nil {
		t.Fatalf("SendRescue on cancelled ctx = %v, %v; want false, error", ok, err)
	}
}

func TestRescueMessageMissing(t *testing.T) {
	msg := RescueMessage(math.Inf(1))
	if !strings.Contains(msg, "No activity has been recorded") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestFormat_Normal(t *testing.T) {
	output := Format([]QueuedNudge{{Sender: "operator", Message: "Check status", Priority: PriorityNormal}})

	if !strings.Contains(output, "<system-reminder>") {
		t.Error("missing <system-reminder> tag")
	}
	if !strings.Contains(output, "background notification") {
		t.Error("normal nudges should mention background notification")
	}
	if strings.Contains(output, "URGENT") {
		t.Error("normal nudges should not contain URGENT")
	}
}

func TestFormat_Urgent(t *testing.T) {
	output := Format([]QueuedNudge{
		{Sender: "medic", Message: "Stalled", Priority: PriorityUrgent},
		{Sender: "operator", Message: "FYI", Priority: PriorityNormal},
	})

	for _, want := range []string{"URGENT", "Handle urgent", "non-urgent"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestFormat_Empty(t *testing.T) {
	if output := Format(nil); output != "" {
		t.Errorf("Format(nil) = %q, want empty", output)
	}
}

func TestConcurrentEnqueueNoLoss(t *testing.T) {
	q := testQueue(t)

	const count = 20
	var wg sync.WaitGroup
	errs := make(chan error, count)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := QueuedNudge{Sender: "sender", Message: strings.Repeat("x", i+1)}
			if err := q.Enqueue("worker-1", n); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Enqueue failed: %v", err)
	}

	pending, err := q.Pending("worker-1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending != count {
		t.Errorf("Pending = %d, want %d", pending, count)
	}
}

func TestConcurrentDrainNoDoubleDelivery(t *testing.T) {
	q := testQueue(t)

	const count = 10
	for i := 0; i < count; i++ {
		if err := q.Enqueue("worker-1", QueuedNudge{Sender: "sender", Message: strings.Repeat("m", i+1)}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	const drainers = 5
	var wg sync.WaitGroup
	results := make(chan []QueuedNudge, drainers)
	for i := 0; i < drainers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nudges, err := q.Drain("worker-1")
			if err != nil {
				t.Errorf("concurrent Drain: %v", err)
				return
			}
			results <- nudges
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for nudges := range results {
		total += len(nudges)
	}
	if total != count {
		t.Errorf("concurrent Drains delivered %d nudges, want exactly %d", total, count)
	}
}
