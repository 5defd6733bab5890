package runtime

// RuntimeDB is the full contract of the agent runtime: goals, the
// dependency-gated task queue, relay pipelines, and circuit breakers.
type RuntimeDB interface {
	// Goals
	CreateGoal(name, description string, metadata map[string]string) (*Goal, error)
	GetGoal(id int64) (*Goal, error)
	ListGoals(status GoalStatus) ([]*GoalSummary, error)
	DecomposeGoal(goalID int64, strategy DecompositionStrategy) (*DecomposeResult, error)

	// Tasks
	CreateTask(title, description string, goalID *int64, priority int, dependencies []int64) (*Task, error)
	GetNextTask() (*Task, error)
	UpdateTaskStatus(taskID int64, status TaskStatus, result, errMsg string) (*Task, error)
	GetTask(id int64) (*Task, error)

	// Relay pipelines
	CreateRelayPipeline(name, goal string, agentTypes []string, tokenBudget int64) (*RelayPipeline, error)
	GetRelayBaton(pipelineID string) (*RelayBaton, error)
	AdvanceRelay(pipelineID string, qualityScore, lScore float64, outputEntityID *int64, tokensUsed int64, outputSummary string) (*AdvanceResult, error)
	GetPipeline(pipelineID string) (*RelayPipeline, error)
	FailPipeline(pipelineID, reason string) (*RelayPipeline, error)

	// Circuit breakers
	RecordFailure(agentID, failureType, errMsg string) (*BreakerStatus, error)
	RecordSuccess(agentID string) (*BreakerStatus, error)
	ResetBreaker(agentID string) (*BreakerStatus, error)
	BreakerStatusOf(agentID string) (*BreakerStatus, error)

	Close() error
}

// EventBus is the narrow publish surface the runtime uses to announce
// pipeline and breaker state changes. NoopBus satisfies it when no
// messaging backend is configured.
type EventBus interface {
	PublishJSON(subject string, v interface{}) error
}

// NoopBus discards every published event.
type NoopBus struct{}

func (NoopBus) PublishJSON(string, interface{}) error { return nil }
