package escalation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/medic/internal/fleet"
)

func newTestTracker(t *testing.T, now *time.Time) *Tracker {
	t.Helper()
	tr := NewTracker(filepath.Join(t.TempDir(), "escalations"))
	tr.now = func() time.Time { return *now }
	return tr
}

func TestMaybeEscalate_BelowThreshold(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	wrote, err := tr.MaybeEscalate("w-1", 2, 3)
	require.NoError(t, err)
	assert.False(t, wrote)

	rec, err := tr.Get("w-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMaybeEscalate_WritesAndOverwrites(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	wrote, err := tr.MaybeEscalate("w-1", 3, 3)
	require.NoError(t, err)
	assert.True(t, wrote)

	rec, err := tr.Get("w-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, Record{Agent: "w-1", Timestamp: now, AttemptCount: 3}, *rec)

	now = now.Add(30 * time.Second)
	_, err = tr.MaybeEscalate("w-1", 4, 3)
	require.NoError(t, err)

	rec, err = tr.Get("w-1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.AttemptCount)
	assert.Equal(t, now, rec.Timestamp)

	entries, err := os.ReadDir(tr.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "marker is overwritten, not appended")
}

func TestListAndClear(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tr := newTestTracker(t, &now)

	for _, a := range []fleet.AgentID{"w-2", "rig/w-1"} {
		_, err := tr.MaybeEscalate(a, 5, 3)
		require.NoError(t, err)
	}

	recs, err := tr.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, fleet.AgentID("rig/w-1"), recs[0].Agent)
	assert.Equal(t, fleet.AgentID("w-2"), recs[1].Agent)

	require.NoError(t, tr.Clear("w-2"))
	require.NoError(t, tr.Clear("w-2"), "clearing twice is fine")

	recs, err = tr.List()
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestList_MissingDir(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "nope"))
	recs, err := tr.List()
	require.NoError(t, err)
	assert.Empty(t, recs)
}
