package healing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAction(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ok := NewAction("w-1", CancelTerminal, at, "stalled 5m", true, nil)
	assert.NotEmpty(t, ok.ID)
	assert.Equal(t, "w-1", ok.Agent.String())
	assert.Equal(t, at, ok.Timestamp)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)

	failed := NewAction("w-1", HardOnboard, at, "stalled 11m", false, errors.New("exit status 1"))
	assert.False(t, failed.Success)
	assert.Equal(t, "exit status 1", failed.Error)
	assert.NotEqual(t, ok.ID, failed.ID)
}
