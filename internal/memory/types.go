// Package memory implements the tiered memory engine: four-tier
// episodic/semantic/procedural/working storage, entity versioning, and
// similarity search over a single embedded SQLite store.
package memory

import "time"

// Tier is one of the four retention classes a memory item belongs to.
type Tier string

const (
	TierWorking    Tier = "working"
	TierEpisodic   Tier = "episodic"
	TierSemantic   Tier = "semantic"
	TierProcedural Tier = "procedural"
)

// Entity is the unit of addressable, named memory. Name is unique across
// all entities; deleting an entity cascades its observations and versions.
type Entity struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	EntityType      string            `json:"entity_type"`
	Tier            Tier              `json:"tier"`
	ImportanceScore float64           `json:"importance_score"`
	AccessCount     int64             `json:"access_count"`
	Observations    []string          `json:"observations"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EntityVersion is an immutable snapshot of an entity's name/type/
// observations taken at a point in time.
type EntityVersion struct {
	EntityID      int64     `json:"entity_id"`
	VersionNumber int       `json:"version_number"`
	Snapshot      Snapshot  `json:"snapshot"`
	CommitMessage string    `json:"commit_message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is the JSON payload stored in each EntityVersion.
type Snapshot struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
}

// EntityInput is one item of a create-entities batch request.
type EntityInput struct {
	Name         string            `json:"name"`
	EntityType   string            `json:"entity_type"`
	Observations []string          `json:"observations"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// EntityOutcome is the per-item result of a create-entities batch.
type EntityOutcome struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Tier       Tier    `json:"tier"`
	Importance float64 `json:"importance"`
}

// CreateEntitiesResult is the aggregate result of a batch entity creation.
type CreateEntitiesResult struct {
	Created []EntityOutcome `json:"created"`
	Errors  []string        `json:"errors"`
}

// WorkingMemoryItem is a short-lived, TTL-bound memory item.
type WorkingMemoryItem struct {
	ID          int64     `json:"id"`
	ContextKey  string    `json:"context_key"`
	Content     string    `json:"content"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
	EntityID    *int64    `json:"entity_id,omitempty"`
}

// EpisodicItem is a timestamped event record.
type EpisodicItem struct {
	ID               int64     `json:"id"`
	EventType        string    `json:"event_type"`
	EpisodeData      string    `json:"episode_data"`
	Significance     float64   `json:"significance"`
	EmotionalValence *float64  `json:"emotional_valence,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	EntityID         *int64    `json:"entity_id,omitempty"`
}

// SemanticConcept is a uniquely-named piece of derived knowledge.
type SemanticConcept struct {
	ID              int64     `json:"id"`
	ConceptName     string    `json:"concept_name"`
	ConceptType     string    `json:"concept_type"`
	Definition      string    `json:"definition"`
	RelatedConcepts []string  `json:"related_concepts,omitempty"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProceduralSkill is a uniquely-named learned workflow.
type ProceduralSkill struct {
	ID                 int64     `json:"id"`
	SkillName          string    `json:"skill_name"`
	SkillCategory      string    `json:"skill_category"`
	ProcedureSteps     []string  `json:"procedure_steps"`
	Preconditions      string    `json:"preconditions,omitempty"`
	SuccessCriteria    string    `json:"success_criteria,omitempty"`
	ExecutionCount     int64     `json:"execution_count"`
	SuccessRate        float64   `json:"success_rate"`
	AvgExecutionTimeMs float64   `json:"avg_execution_time_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

// SearchFilter narrows an entity search.
type SearchFilter struct {
	Query string
	Limit int
}

// EpisodicFilter narrows an episodic-item listing.
type EpisodicFilter struct {
	EventType string
	Limit     int
}

// CurationResult reports the counts produced by one curation pass.
type CurationResult struct {
	Expired            int `json:"expired"`
	WorkingToEpisodic  int `json:"working_to_episodic"`
	EpisodicToSemantic int `json:"episodic_to_semantic"`
}

// DiffResult is the observation-level delta between two entity versions.
type DiffResult struct {
	AddedObservations   []string `json:"added_observations"`
	RemovedObservations []string `json:"removed_observations"`
	From                Snapshot `json:"from"`
	To                  Snapshot `json:"to"`
}

// Status summarizes the memory store for a status report.
type Status struct {
	CountsByTier    map[Tier]int `json:"counts_by_tier"`
	TotalEntities   int          `json:"total_entities"`
	TotalVersions   int          `json:"total_versions"`
	TotalWorking    int          `json:"total_working"`
	TotalEpisodic   int          `json:"total_episodic"`
	TotalSemantic   int          `json:"total_semantic"`
	TotalProcedural int          `json:"total_procedural"`
	Health          string       `json:"health"`
}

// ScoredItem is a single entry in a similarity-ranked retrieval result,
// spanning entities and the four memory classes.
type ScoredItem struct {
	Class      string  `json:"class"` // entity, working, episodic, semantic, procedural
	ID         int64   `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// heuristicImportanceTokens bump an entity's importance score when present
// in its name or any observation (case-insensitive), per the entity
// creation algorithm.
var heuristicImportanceTokens = []string{"error", "critical", "important", "bug"}
