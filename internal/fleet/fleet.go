// Package fleet describes the fixed set of monitored worker agents and
// where each agent's file-backed state lives.
package fleet

import (
	"path/filepath"
	"strings"

	"github.com/steveyegge/medic/internal/constants"
)

// AgentID identifies one monitored agent. It is opaque to the orchestrator.
type AgentID string

func (id AgentID) String() string { return string(id) }

// Fleet is the enumerable set of agents. It is immutable after construction.
type Fleet struct {
	agentsDir string
	agents    []AgentID
	index     map[AgentID]struct{}
}

// New creates a fleet rooted at agentsDir. Duplicate IDs are dropped,
// preserving first-seen order.
func New(agentsDir string, ids []AgentID) *Fleet {
	f := &Fleet{
		agentsDir: agentsDir,
		index:     make(map[AgentID]struct{}, len(ids)),
	}
	for _, id := range ids {
		if _, dup := f.index[id]; dup || id == "" {
			continue
		}
		f.index[id] = struct{}{}
		f.agents = append(f.agents, id)
	}
	return f
}

// Agents returns the fleet members in configured order.
func (f *Fleet) Agents() []AgentID {
	out := make([]AgentID, len(f.agents))
	copy(out, f.agents)
	return out
}

// Size returns the number of agents.
func (f *Fleet) Size() int { return len(f.agents) }

// Contains reports whether id is a fleet member.
func (f *Fleet) Contains(id AgentID) bool {
	_, ok := f.index[id]
	return ok
}

// AgentsDir returns the directory holding all per-agent state.
func (f *Fleet) AgentsDir() string { return f.agentsDir }

// Dir returns the state directory for one agent.
func (f *Fleet) Dir(id AgentID) string {
	return filepath.Join(f.agentsDir, safeName(id))
}

// StatusPath returns the agent's status file. Its modification time is the
// fallback activity signal.
func (f *Fleet) StatusPath(id AgentID) string {
	return filepath.Join(f.Dir(id), constants.FileStatus)
}

// TasksDir returns the agent's task queue directory.
func (f *Fleet) TasksDir(id AgentID) string {
	return filepath.Join(f.Dir(id), constants.DirTasks)
}

// NudgeDir returns the agent's rescue message queue directory.
func (f *Fleet) NudgeDir(id AgentID) string {
	return filepath.Join(f.Dir(id), constants.DirNudges)
}

// AgentForPath maps a path inside the agents directory back to its agent.
func (f *Fleet) AgentForPath(path string) (AgentID, bool) {
	rel, err := filepath.Rel(f.agentsDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	for _, id := range f.agents {
		if safeName(id) == first {
			return id, true
		}
	}
	return "", false
}

// safeName sanitizes an agent ID for use as a directory name.
func safeName(id AgentID) string {
	return strings.ReplaceAll(string(id), "/", "_")
}
