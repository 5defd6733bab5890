// Package runtime implements the agent runtime: goals, a dependency-gated
// task queue, sequential relay pipelines with JSON baton handoffs and token
// accounting, and per-agent circuit breakers.
package runtime

import (
	"encoding/json"
	"time"
)

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalCancelled GoalStatus = "cancelled"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// PipelineStatus is the lifecycle state of a RelayPipeline.
type PipelineStatus string

const (
	PipelinePending    PipelineStatus = "pending"
	PipelineInProgress PipelineStatus = "in_progress"
	PipelineCompleted  PipelineStatus = "completed"
	PipelineFailed     PipelineStatus = "failed"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Goal is a named outcome a set of tasks works toward.
type Goal struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      GoalStatus        `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Tasks       []*Task           `json:"tasks,omitempty"`
}

// GoalSummary is the row shape returned by ListGoals: a goal plus a
// histogram of its tasks' statuses.
type GoalSummary struct {
	Goal          *Goal              `json:"goal"`
	TaskHistogram map[TaskStatus]int `json:"task_histogram"`
}

// Task is a unit of work, optionally attached to a Goal and gated by
// dependencies on other tasks.
type Task struct {
	ID           int64      `json:"id"`
	GoalID       *int64     `json:"goal_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	Dependencies []int64    `json:"dependencies,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// DecompositionStrategy selects the fixed task-template a goal is broken
// into by DecomposeGoal.
type DecompositionStrategy string

const (
	StrategySequential   DecompositionStrategy = "sequential"
	StrategyParallel     DecompositionStrategy = "parallel"
	StrategyHierarchical DecompositionStrategy = "hierarchical"
)

// DecomposeResult reports the tasks created by a goal decomposition and the
// wall-clock cost of producing them.
type DecomposeResult struct {
	TaskIDs   []int64 `json:"task_ids"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// RelayPipeline is an ordered sequence of agent types executed one at a
// time, carrying an opaque JSON baton and a shared token budget.
type RelayPipeline struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Goal        string          `json:"goal"`
	AgentTypes  []string        `json:"agent_types"`
	Status      PipelineStatus  `json:"status"`
	CurrentStep int             `json:"current_step"`
	TokenBudget int64           `json:"token_budget"`
	TokensUsed  int64           `json:"tokens_used"`
	BatonData   json.RawMessage `json:"baton_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RelayStep is one step of a RelayPipeline, one row per (pipeline, index).
type RelayStep struct {
	PipelineID     string     `json:"pipeline_id"`
	StepIndex      int        `json:"step_index"`
	AgentType      string     `json:"agent_type"`
	Status         TaskStatus `json:"status"`
	QualityScore   float64    `json:"quality_score"`
	LScore         float64    `json:"l_score"`
	OutputEntityID *int64     `json:"output_entity_id,omitempty"`
	OutputSummary  string     `json:"output_summary,omitempty"`
	TokensUsed     int64      `json:"tokens_used"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Baton is the JSON context object handed from one relay step to the next.
type Baton struct {
	PreviousStep   int     `json:"previous_step"`
	QualityScore   float64 `json:"quality_score"`
	LScore         float64 `json:"l_score"`
	OutputEntityID *int64  `json:"output_entity_id,omitempty"`
	Summary        string  `json:"summary,omitempty"`
}

// RelayBaton is the response to GetRelayBaton: the current agent, remaining
// tokens, and the baton produced by the previous step.
type RelayBaton struct {
	CurrentAgent    string `json:"current_agent"`
	TokensRemaining int64  `json:"tokens_remaining"`
	Baton           *Baton `json:"baton,omitempty"`
}

// AdvanceResult is the response to AdvanceRelay: either a completion record
// or the handoff to the next step.
type AdvanceResult struct {
	Status          PipelineStatus `json:"status"`
	CurrentStep     int            `json:"current_step,omitempty"`
	NextAgent       string         `json:"next_agent,omitempty"`
	TokensRemaining int64          `json:"tokens_remaining,omitempty"`
	TotalTokens     int64          `json:"total_tokens,omitempty"`
	HandoffTimeMs   int64          `json:"handoff_time_ms"`
}

// CircuitBreaker tracks the health of calls to a single agent.
type CircuitBreaker struct {
	AgentID          string       `json:"agent_id"`
	State            BreakerState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	FailureThreshold int          `json:"failure_threshold"`
	WindowSeconds    int          `json:"window_seconds"`
	CooldownSeconds  int          `json:"cooldown_seconds"`
	FallbackAgent    string       `json:"fallback_agent,omitempty"`
	LastFailureAt    *time.Time   `json:"last_failure_at,omitempty"`
	LastSuccessAt    *time.Time   `json:"last_success_at,omitempty"`
	OpenedAt         *time.Time   `json:"opened_at,omitempty"`
}

// BreakerStatus is the snapshot returned by BreakerStatusOf and the other
// breaker operations, with a derived Tripped
// flag for callers that only care about the binary decision.
type BreakerStatus struct {
	CircuitBreaker
	Tripped bool `json:"tripped"`
}

const (
	defaultFailureThreshold = 5
	defaultWindowSeconds    = 60
	defaultCooldownSeconds  = 300
)
