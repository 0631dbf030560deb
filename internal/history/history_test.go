package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/medic/internal/fleet"
	"github.com/steveyegge/medic/internal/healing"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func action(agent fleet.AgentID, typ healing.ActionType, ok bool, i int) healing.Action {
	return healing.NewAction(agent, typ, t0.Add(time.Duration(i)*time.Second), fmt.Sprintf("r%d", i), ok, nil)
}

func TestAppend_EvictsOldestFirst(t *testing.T) {
	h := New(3)
	for i := 0; i < 5; i++ {
		h.Append(action("w-1", healing.SendRescue, true, i))
		assert.LessOrEqual(t, h.Len(), 3)
	}

	all := h.All()
	require.Len(t, all, 3)
	assert.Equal(t, "r2", all[0].Reason)
	assert.Equal(t, "r3", all[1].Reason)
	assert.Equal(t, "r4", all[2].Reason)
}

func TestNew_ClampsLimit(t *testing.T) {
	h := New(0)
	h.Append(action("w-1", healing.ResetStatus, true, 0))
	h.Append(action("w-1", healing.ResetStatus, true, 1))
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 1, h.Limit())
}

func TestRecent(t *testing.T) {
	h := New(10)
	for i := 0; i < 4; i++ {
		h.Append(action("w-1", healing.ResetStatus, true, i))
	}

	recent := h.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "r2", recent[0].Reason)
	assert.Equal(t, "r3", recent[1].Reason)
	assert.Len(t, h.Recent(100), 4)
	assert.Nil(t, h.Recent(0))
}

func TestStats(t *testing.T) {
	h := New(10)
	h.Append(action("w-1", healing.CancelTerminal, true, 0))
	h.Append(action("w-1", healing.SendRescue, false, 1))
	h.Append(action("w-2", healing.SendRescue, true, 2))
	h.Append(action("w-2", healing.HardOnboard, false, 3))
	h.Append(action("w-1", healing.HardOnboard, true, 4))

	s := h.Stats()
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 3, s.AttemptsByAgent["w-1"])
	assert.Equal(t, 2, s.AttemptsByAgent["w-2"])
	assert.Equal(t, Tally{Success: 1, Failure: 1}, s.ByType[healing.SendRescue])
	assert.Equal(t, Tally{Success: 1, Failure: 1}, s.ByType[healing.HardOnboard])
	assert.Equal(t, Tally{Success: 1}, s.ByType[healing.CancelTerminal])
	assert.Equal(t, "r4", s.LatestByAgent["w-1"].Reason)
	assert.Equal(t, "r3", s.LatestByAgent["w-2"].Reason)

	// Stats is derived: calling it twice changes nothing.
	assert.Equal(t, s, h.Stats())
	assert.Equal(t, 5, h.Len())
}

func TestForAgent(t *testing.T) {
	h := New(10)
	h.Append(action("w-1", healing.CancelTerminal, true, 0))
	h.Append(action("w-2", healing.SendRescue, true, 1))
	h.Append(action("w-1", healing.ResetStatus, true, 2))

	got := h.ForAgent("w-1")
	require.Len(t, got, 2)
	assert.Equal(t, healing.CancelTerminal, got[0].Type)
	assert.Equal(t, healing.ResetStatus, got[1].Type)
}

func TestConcurrentAppendAndStats(t *testing.T) {
	h := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Append(action(fleet.AgentID(fmt.Sprintf("w-%d", w)), healing.SendRescue, i%2 == 0, i))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s := h.Stats()
			assert.LessOrEqual(t, s.Total, 50)
		}
	}()
	wg.Wait()

	assert.Equal(t, 50, h.Len())
}
