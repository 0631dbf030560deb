// Package healing defines the audit record produced by every recovery action.
package healing

import (
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/medic/internal/fleet"
)

// ActionType names one kind of recovery action.
type ActionType string

const (
	CancelTerminal  ActionType = "cancel_terminal"
	SendRescue      ActionType = "send_rescue"
	ClearStuckTasks ActionType = "clear_stuck_tasks"
	ResetStatus     ActionType = "reset_status"
	HardOnboard     ActionType = "hard_onboard"
)

// ActionTypes lists all action types in severity order.
var ActionTypes = []ActionType{CancelTerminal, SendRescue, ClearStuckTasks, ResetStatus, HardOnboard}

// Action records one attempted recovery action. Actions are values and are
// never mutated after NewAction returns.
type Action struct {
	ID        string        `json:"id"`
	Agent     fleet.AgentID `json:"agent"`
	Type      ActionType    `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// NewAction builds an Action stamped with a fresh ID. err may be nil.
func NewAction(agent fleet.AgentID, typ ActionType, at time.Time, reason string, success bool, err error) Action {
	a := Action{
		ID:        uuid.NewString(),
		Agent:     agent,
		Type:      typ,
		Timestamp: at,
		Reason:    reason,
		Success:   success,
	}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}
