package memory

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentfleet/core/internal/errs"
)

//go:embed schema.sql
var schema string

// SQLiteMemoryDB implements MemoryDB over a single embedded SQLite store.
type SQLiteMemoryDB struct {
	db                *sql.DB
	mu                sync.Mutex
	embeddingProvider EmbeddingProvider
	bus               EventBus
}

// NewSQLiteMemoryDB opens (and if needed initializes) the memory store at
// dbPath, applying the same pragma set as the runtime store (the council
// index uses the same set without cache_size).
func NewSQLiteMemoryDB(dbPath string) (*SQLiteMemoryDB, error) {
	return NewSQLiteMemoryDBWithBus(dbPath, NoopBus{})
}

// NewSQLiteMemoryDBWithBus is NewSQLiteMemoryDB with an explicit event bus
// for working-set eviction notifications.
func NewSQLiteMemoryDBWithBus(dbPath string, bus EventBus) (*SQLiteMemoryDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-64000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	if bus == nil {
		bus = NoopBus{}
	}

	return &SQLiteMemoryDB{db: db, bus: bus}, nil
}

func (s *SQLiteMemoryDB) SetEmbeddingProvider(provider EmbeddingProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddingProvider = provider
}

func (s *SQLiteMemoryDB) Close() error {
	return s.db.Close()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tierForImportance(score float64) Tier {
	switch {
	case score >= 0.8:
		return TierSemantic
	case score >= 0.6:
		return TierEpisodic
	default:
		return TierWorking
	}
}

func computeImportance(name string, observations []string) float64 {
	// Accumulate in tenths so that 0.5 + 0.2 + 0.1 is exactly 0.8 and lands
	// on the semantic tier threshold.
	tenths := 5

	haystack := strings.ToLower(name)
	for _, o := range observations {
		haystack += " " + strings.ToLower(o)
	}
	for _, token := range heuristicImportanceTokens {
		if strings.Contains(haystack, token) {
			tenths += 2
			break
		}
	}

	if len(observations) > 3 {
		tenths++
	}

	return clamp01(float64(tenths) / 10)
}

// CreateEntities creates each input entity in its own transaction so that a
// name collision fails only that item, per the batch-create contract.
func (s *SQLiteMemoryDB) CreateEntities(inputs []EntityInput) (*CreateEntitiesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &CreateEntitiesResult{
		Created: []EntityOutcome{},
		Errors:  []string{},
	}

	for _, in := range inputs {
		outcome, err := s.createOneEntity(in)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Created = append(result.Created, *outcome)
	}

	return result, nil
}

func (s *SQLiteMemoryDB) createOneEntity(in EntityInput) (*EntityOutcome, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer tx.Rollback()

	var exists int64
	if err := tx.QueryRow("SELECT COUNT(*) FROM entities WHERE name = ?", in.Name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: Entity '%s' already exists", errs.ErrDuplicate, in.Name)
	}

	importance := computeImportance(in.Name, in.Observations)
	tier := tierForImportance(importance)
	now := time.Now()

	var metadataJSON []byte
	if len(in.Metadata) > 0 {
		metadataJSON, _ = json.Marshal(in.Metadata)
	}

	res, err := tx.Exec(
		`INSERT INTO entities (name, entity_type, tier, importance_score, access_count, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		in.Name, in.EntityType, string(tier), importance, metadataJSON, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	entityID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	for i, obs := range in.Observations {
		if _, err := tx.Exec(
			`INSERT INTO observations (entity_id, content, seq, created_at) VALUES (?, ?, ?, ?)`,
			entityID, obs, i, now,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
	}

	snapshot := Snapshot{Name: in.Name, Type: in.EntityType, Observations: append([]string{}, in.Observations...)}
	snapshotJSON, _ := json.Marshal(snapshot)
	if _, err := tx.Exec(
		`INSERT INTO entity_versions (entity_id, version_number, snapshot, commit_message, created_at) VALUES (?, 1, ?, ?, ?)`,
		entityID, snapshotJSON, "Initial creation", now,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &EntityOutcome{ID: entityID, Name: in.Name, Tier: tier, Importance: importance}, nil
}

// Search returns entities whose name or observations case-insensitively
// contain q, ordered by importance then access count, bumping access_count
// on every returned row.
func (s *SQLiteMemoryDB) Search(filter SearchFilter) ([]*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`SELECT id FROM entities ORDER BY importance_score DESC, access_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	q := strings.ToLower(filter.Query)
	matched := []*Entity{}
	for _, id := range ids {
		e, err := s.loadEntity(id)
		if err != nil {
			continue
		}
		if !matchesQuery(e, q) {
			continue
		}
		if _, err := s.db.Exec(`UPDATE entities SET access_count = access_count + 1 WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		e.AccessCount++
		matched = append(matched, e)
		if len(matched) >= limit {
			break
		}
	}

	return matched, nil
}

func matchesQuery(e *Entity, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Name), q) {
		return true
	}
	for _, o := range e.Observations {
		if strings.Contains(strings.ToLower(o), q) {
			return true
		}
	}
	return false
}

// GetEntity loads an entity by name without affecting access_count.
func (s *SQLiteMemoryDB) GetEntity(name string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow(`SELECT id FROM entities WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %q", errs.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return s.loadEntity(id)
}

func (s *SQLiteMemoryDB) loadEntity(id int64) (*Entity, error) {
	e := &Entity{}
	var metadataJSON sql.NullString
	var tier string
	err := s.db.QueryRow(
		`SELECT id, name, entity_type, tier, importance_score, access_count, metadata, created_at, updated_at
		 FROM entities WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.EntityType, &tier, &e.ImportanceScore, &e.AccessCount, &metadataJSON, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity id %d", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	e.Tier = Tier(tier)
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}

	rows, err := s.db.Query(`SELECT content FROM observations WHERE entity_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		e.Observations = append(e.Observations, content)
	}

	return e, rows.Err()
}

// Status reports per-tier counts and per-class totals.
func (s *SQLiteMemoryDB) Status() (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Status{CountsByTier: map[Tier]int{}, Health: "healthy"}

	rows, err := s.db.Query(`SELECT tier, COUNT(*) FROM entities GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		st.CountsByTier[Tier(tier)] = count
		st.TotalEntities += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entity_versions`).Scan(&st.TotalVersions); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM working_memory`).Scan(&st.TotalWorking); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM episodic_memory`).Scan(&st.TotalEpisodic); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM semantic_memory`).Scan(&st.TotalSemantic); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM procedural_memory`).Scan(&st.TotalProcedural); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return st, nil
}

// Diff resolves missing versions to the two most recent and reports the
// observation-level set difference between them.
func (s *SQLiteMemoryDB) Diff(name string, v1, v2 int) (*DiffResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entityID int64
	if err := s.db.QueryRow(`SELECT id FROM entities WHERE name = ?`, name).Scan(&entityID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: entity %q", errs.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	if v1 == 0 || v2 == 0 {
		rows, err := s.db.Query(
			`SELECT version_number FROM entity_versions WHERE entity_id = ? ORDER BY version_number DESC LIMIT 2`,
			entityID,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		var versions []int
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
			}
			versions = append(versions, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("%w: no versions for entity %q", errs.ErrNotFound, name)
		}
		v2 = versions[0]
		v1 = v2
		if len(versions) > 1 {
			v1 = versions[1]
		}
	}

	snap1, err := s.loadSnapshot(entityID, v1)
	if err != nil {
		return nil, err
	}
	snap2, err := s.loadSnapshot(entityID, v2)
	if err != nil {
		return nil, err
	}

	before := map[string]bool{}
	for _, o := range snap1.Observations {
		before[o] = true
	}
	after := map[string]bool{}
	for _, o := range snap2.Observations {
		after[o] = true
	}

	added := []string{}
	for _, o := range snap2.Observations {
		if !before[o] {
			added = append(added, o)
		}
	}
	removed := []string{}
	for _, o := range snap1.Observations {
		if !after[o] {
			removed = append(removed, o)
		}
	}

	return &DiffResult{
		AddedObservations:   added,
		RemovedObservations: removed,
		From:                snap1,
		To:                  snap2,
	}, nil
}

func (s *SQLiteMemoryDB) loadSnapshot(entityID int64, version int) (Snapshot, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT snapshot FROM entity_versions WHERE entity_id = ? AND version_number = ?`,
		entityID, version,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return Snapshot{}, fmt.Errorf("%w: version %d", errs.ErrNotFound, version)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return snap, nil
}
