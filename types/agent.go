package types

import "time"

// AgentType classifies what kind of work an agent performs.
type AgentType string

const (
	TypeAnalysis   AgentType = "analysis"
	TypeGeneration AgentType = "generation"
	TypeResearch   AgentType = "research"
	TypeReview     AgentType = "review"
)

// AgentStatus is the lifecycle status advertised in an agent's metadata.
type AgentStatus string

const (
	AgentStarting AgentStatus = "starting"
	AgentRunning  AgentStatus = "running"
	AgentStopping AgentStatus = "stopping"
	AgentError    AgentStatus = "error"
)

// AgentMetadata describes a registered agent: its type, advertised
// capability tags, and current status. Extra carries free-form fields
// merged on update.
type AgentMetadata struct {
	Type         AgentType      `json:"type"`
	Capabilities []string       `json:"capabilities"`
	Status       AgentStatus    `json:"status"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy so registry snapshots never alias caller state.
func (m AgentMetadata) Clone() AgentMetadata {
	out := m
	if m.Capabilities != nil {
		out.Capabilities = make([]string, len(m.Capabilities))
		copy(out.Capabilities, m.Capabilities)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// HasCapability reports whether the metadata advertises the capability.
func (m AgentMetadata) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether the metadata advertises every
// capability in caps. An empty requirement set always matches.
func (m AgentMetadata) HasAllCapabilities(caps []string) bool {
	for _, c := range caps {
		if !m.HasCapability(c) {
			return false
		}
	}
	return true
}

// MetadataUpdate is a partial metadata mutation applied by Registry.Update.
// Nil fields are left untouched; Extra entries are merged key by key.
type MetadataUpdate struct {
	Type         *AgentType
	Capabilities []string
	Status       *AgentStatus
	Extra        map[string]any
}

// AgentConfig is the configuration handed to the supervision contract when
// the coordinator starts an agent on demand.
type AgentConfig struct {
	Type         AgentType      `json:"type"`
	Capabilities []string       `json:"capabilities"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Result is the opaque outcome an agent returns for a task.
type Result struct {
	TaskID     string         `json:"task_id"`
	Output     any            `json:"output"`
	Duration   time.Duration  `json:"duration"`
	AgentID    string         `json:"agent_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
