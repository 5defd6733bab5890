// Package council implements the LLM deliberation council: provider
// subprocess fan-out, the three-stage collect/rank/synthesize protocol, and
// nine named multi-model deliberation patterns.
package council

import "time"

// ProviderDescriptor describes one CLI-subprocess LLM provider.
type ProviderDescriptor struct {
	Name           string
	Command        string
	ArgsTemplate   []string
	EnvOverride    map[string]string
	DefaultTimeout time.Duration
}

// QueryResult is the outcome of a single provider query.
type QueryResult struct {
	Provider string `json:"provider"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ranking is one evaluator's parsed peer-ranking of the anonymized
// stage-1 responses.
type Ranking struct {
	Evaluator     string   `json:"evaluator"`
	RawEvaluation string   `json:"raw_evaluation"`
	ParsedRanking []string `json:"parsed_ranking"`
}

// AggregateRank is one candidate's mean rank position across all
// evaluators.
type AggregateRank struct {
	Model       string  `json:"model"`
	Label       string  `json:"label"`
	AverageRank float64 `json:"average_rank"`
	VoteCount   int     `json:"vote_count"`
	Positions   []int   `json:"positions"`
}

// Stage2Result bundles the peer-ranking stage's outputs.
type Stage2Result struct {
	Rankings          []Ranking         `json:"rankings"`
	LabelToModel      map[string]string `json:"label_to_model"`
	AggregateRankings []AggregateRank   `json:"aggregate_rankings"`
}

// CouncilResult is the full record of a three-stage deliberation run.
type CouncilResult struct {
	Success  bool                   `json:"success"`
	Error    string                 `json:"error,omitempty"`
	Question string                 `json:"question"`
	Stage1   map[string]string      `json:"stage1"`
	Stage2   Stage2Result           `json:"stage2"`
	Stage3   string                 `json:"stage3"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Pattern describes one of the nine named deliberation patterns.
type Pattern struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Stages         []string `json:"stages"`
	RecommendedFor []string `json:"recommended_for"`
}

// PatternResult is the structured output of running a named pattern. Shape
// varies by pattern; Stages carries the raw per-stage records in order.
type PatternResult struct {
	Pattern  string                   `json:"pattern"`
	Question string                   `json:"question"`
	Stages   []map[string]interface{} `json:"stages"`
	Final    string                   `json:"final,omitempty"`
	Extra    map[string]interface{}   `json:"extra,omitempty"`
}

// ConversationRecord is the full JSON record of one council invocation,
// persisted both as a dated file and indexed in SQLite.
type ConversationRecord struct {
	ID        string      `json:"id"`
	Question  string      `json:"question"`
	Pattern   string      `json:"pattern"`
	Result    interface{} `json:"result"`
	CreatedAt time.Time   `json:"created_at"`
}

const (
	labelPrefix = "Response "
)
