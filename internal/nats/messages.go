package nats

import "time"

// Subject pattern constants for NATS messaging
const (
	// SubjectAgentStatus is the pattern for relay agent worker status
	// updates
	SubjectAgentStatus = "agent.%s.status"

	// SubjectAgentCommand is the pattern for commands sent to a specific
	// worker
	SubjectAgentCommand = "agent.%s.command"

	// SubjectAgentOutput is the pattern for worker stdout/stderr output
	SubjectAgentOutput = "agent.%s.output"

	// SubjectAllStatus subscribes to all worker status updates
	SubjectAllStatus = "agent.*.status"

	// SubjectAllOutput subscribes to all worker output
	SubjectAllOutput = "agent.*.output"

	// SubjectSystemBroadcast is used for system-wide announcements
	SubjectSystemBroadcast = "system.broadcast"

	// SubjectRuntimePipelineStep is the pattern for relay pipeline step
	// handoff notifications, published as "runtime.pipeline.<id>.step".
	SubjectRuntimePipelineStep = "runtime.pipeline.%s.step"

	// SubjectAllPipelineSteps subscribes to every pipeline's handoffs
	SubjectAllPipelineSteps = "runtime.pipeline.*.step"

	// SubjectRuntimeBreakerState is the pattern for circuit breaker state
	// transitions, published as "runtime.breaker.<agent>.state".
	SubjectRuntimeBreakerState = "runtime.breaker.%s.state"

	// SubjectAllBreakerStates subscribes to every breaker's transitions
	SubjectAllBreakerStates = "runtime.breaker.*.state"

	// SubjectMemoryWorkingSetEvicted is published when expired working
	// memory entries are deleted during curation.
	SubjectMemoryWorkingSetEvicted = "memory.workingset.evicted"

	// SubjectCouncilStage is the pattern for deliberation stage
	// completions, published as "council.<id>.stage".
	SubjectCouncilStage = "council.%s.stage"
)

// StatusMessage represents a worker status update
type StatusMessage struct {
	AgentID     string    `json:"agent_id"`
	AgentType   string    `json:"agent_type,omitempty"`
	Status      string    `json:"status"`
	CurrentTask string    `json:"current_task"`
	Timestamp   time.Time `json:"timestamp"`
}

// CommandMessage represents a command sent to a worker
type CommandMessage struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// OutputMessage represents stdout/stderr output from a worker
type OutputMessage struct {
	AgentID   string    `json:"agent_id"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PipelineStepMessage represents a relay pipeline handoff notification
type PipelineStepMessage struct {
	PipelineID string `json:"pipeline_id"`
	Status     string `json:"status"`
	Step       int    `json:"step"`
	Agent      string `json:"agent,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// BreakerStateMessage represents a circuit breaker state transition
type BreakerStateMessage struct {
	AgentID      string `json:"agent_id"`
	State        string `json:"state"`
	FailureCount int    `json:"failure_count,omitempty"`
	FailureType  string `json:"failure_type,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WorkingSetEvictedMessage reports how many working memory entries a
// curation pass expired
type WorkingSetEvictedMessage struct {
	Expired int64     `json:"expired"`
	At      time.Time `json:"at"`
}

// CouncilStageMessage represents a deliberation stage completion
type CouncilStageMessage struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Stage   string `json:"stage"`
}

// SystemBroadcastMessage represents system-wide announcements
type SystemBroadcastMessage struct {
	Type      string                 `json:"type"` // shutdown, worker_crashed, config_change
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
