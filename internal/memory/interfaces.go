package memory

// MemoryDB is the full contract of the tiered memory engine: entity CRUD
// and versioning, the four tiers (working/episodic/semantic/procedural),
// curation, diffing, and cross-tier similarity retrieval.
type MemoryDB interface {
	// Entities
	CreateEntities(inputs []EntityInput) (*CreateEntitiesResult, error)
	Search(filter SearchFilter) ([]*Entity, error)
	GetEntity(name string) (*Entity, error)
	Status() (*Status, error)

	// Working memory
	AddWorking(contextKey, content string, priority int, ttlMinutes int, entityID *int64) (*WorkingMemoryItem, error)
	GetWorking(contextKey string, limit int) ([]*WorkingMemoryItem, error)

	// Episodic memory
	AddEpisode(eventType, episodeData string, significance float64, emotionalValence *float64, tags []string, entityID *int64) (*EpisodicItem, error)
	GetEpisodes(filter EpisodicFilter) ([]*EpisodicItem, error)

	// Semantic memory
	AddConcept(name, conceptType, definition string, related []string, confidence float64) (*SemanticConcept, error)
	GetConcepts(limit int) ([]*SemanticConcept, error)

	// Procedural memory
	AddSkill(name, category string, steps []string, preconditions, successCriteria string) (*ProceduralSkill, error)
	RecordSkillExecution(name string, success bool, durationMs float64) (*ProceduralSkill, error)
	GetSkills(limit int) ([]*ProceduralSkill, error)

	// Curation and versioning
	Curate() (*CurationResult, error)
	Diff(name string, v1, v2 int) (*DiffResult, error)

	// Retrieval
	RetrieveMemories(query string, limit int) ([]ScoredItem, error)

	SetEmbeddingProvider(provider EmbeddingProvider)
	Close() error
}

// EmbeddingProvider turns text into a fixed-dimension vector. Implementations
// may call an external model or fall back to a deterministic local scheme.
type EmbeddingProvider interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Dimensions() int
}

// EventBus is the narrow publish surface the memory engine uses to announce
// working-set evictions. NoopBus satisfies it when no messaging backend is
// configured.
type EventBus interface {
	PublishJSON(subject string, v interface{}) error
}

// NoopBus discards every published event.
type NoopBus struct{}

func (NoopBus) PublishJSON(string, interface{}) error { return nil }
