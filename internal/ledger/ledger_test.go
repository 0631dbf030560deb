package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/medic/internal/fleet"
)

func openAt(t *testing.T, path string, now *time.Time) *Ledger {
	t.Helper()
	l, err := Open(path)
	require.NoError(t, err)
	l.now = func() time.Time { return *now }
	return l
}

func TestRecordCancellation_IncrementsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".medic", "cancel_ledger.json")
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	l := openAt(t, path, &now)

	assert.Equal(t, 0, l.CountToday("w-1"))

	for want := 1; want <= 3; want++ {
		got, err := l.RecordCancellation("w-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 3, l.CountToday("w-1"))
	assert.Equal(t, 0, l.CountToday("w-2"))

	doc, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, Document{"w-1": {"2026-05-04": 3}}, doc)
}

func TestRecordCancellation_DayRollover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel_ledger.json")
	now := time.Date(2026, 5, 4, 23, 59, 0, 0, time.UTC)
	l := openAt(t, path, &now)

	_, err := l.RecordCancellation("w-1")
	require.NoError(t, err)
	_, err = l.RecordCancellation("w-1")
	require.NoError(t, err)
	assert.Equal(t, 2, l.CountToday("w-1"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, l.CountToday("w-1"), "new UTC day starts at zero")

	got, err := l.RecordCancellation("w-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	snap := l.Snapshot()
	assert.Equal(t, 2, snap["w-1"]["2026-05-04"])
	assert.Equal(t, 1, snap["w-1"]["2026-05-05"])
}

func TestRecordCancellation_UsesUTCDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel_ledger.json")
	// 20:00 on May 4 in UTC-5 is already May 5 in UTC.
	now := time.Date(2026, 5, 4, 20, 0, 0, 0, time.FixedZone("EST", -5*3600))
	l := openAt(t, path, &now)

	_, err := l.RecordCancellation("w-1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Snapshot()["w-1"]["2026-05-05"])
}

func TestOpen_LoadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel_ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"w-1":{"2026-05-04":4}}`), 0644))

	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	l := openAt(t, path, &now)
	assert.Equal(t, 4, l.CountToday("w-1"))

	got, err := l.RecordCancellation("w-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestRecordCancellation_MergesOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel_ledger.json")
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	a := openAt(t, path, &now)
	b := openAt(t, path, &now)

	_, err := a.RecordCancellation("w-1")
	require.NoError(t, err)
	got, err := b.RecordCancellation("w-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got, "second writer sees the first writer's increment")

	doc, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 2, doc[fleet.AgentID("w-1")]["2026-05-04"])
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel_ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestRecordCancellation_PersistFailureKeepsCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cancel_ledger.json")
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	l := openAt(t, path, &now)

	// A non-empty directory at the ledger path makes the final rename fail.
	require.NoError(t, os.Mkdir(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0644))

	got, err := l.RecordCancellation("w-1")
	assert.Error(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, l.CountToday("w-1"))
}
