package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentfleet/core/internal/errs"
)

// AddWorking inserts a working-memory item with expires_at = now + ttl.
func (s *SQLiteMemoryDB) AddWorking(contextKey, content string, priority int, ttlMinutes int, entityID *int64) (*WorkingMemoryItem, error) {
	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("%w: priority must be in 1..10, got %d", errs.ErrInvalidArgument, priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	expires := now.Add(time.Duration(ttlMinutes) * time.Minute)

	res, err := s.db.Exec(
		`INSERT INTO working_memory (context_key, content, priority, entity_id, access_count, created_at, expires_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		contextKey, content, priority, nullableInt64(entityID), now, expires,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &WorkingMemoryItem{
		ID: id, ContextKey: contextKey, Content: content, Priority: priority,
		CreatedAt: now, ExpiresAt: expires, EntityID: entityID,
	}, nil
}

// GetWorking deletes expired items, then returns the remaining items
// filtered by contextKey (if non-empty), incrementing access_count on each.
func (s *SQLiteMemoryDB) GetWorking(contextKey string, limit int) ([]*WorkingMemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if _, err := s.db.Exec(`DELETE FROM working_memory WHERE expires_at < ?`, now); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	query := `SELECT id, context_key, content, priority, entity_id, access_count, created_at, expires_at
	          FROM working_memory WHERE 1=1`
	args := []interface{}{}
	if contextKey != "" {
		query += " AND context_key = ?"
		args = append(args, contextKey)
	}
	query += " ORDER BY priority DESC, created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	items := []*WorkingMemoryItem{}
	for rows.Next() {
		w := &WorkingMemoryItem{}
		var entityID sql.NullInt64
		if err := rows.Scan(&w.ID, &w.ContextKey, &w.Content, &w.Priority, &entityID, &w.AccessCount, &w.CreatedAt, &w.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if entityID.Valid {
			v := entityID.Int64
			w.EntityID = &v
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	for _, w := range items {
		if _, err := s.db.Exec(`UPDATE working_memory SET access_count = access_count + 1 WHERE id = ?`, w.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		w.AccessCount++
	}

	return items, nil
}

// AddEpisode stores a timestamped event.
func (s *SQLiteMemoryDB) AddEpisode(eventType, episodeData string, significance float64, emotionalValence *float64, tags []string, entityID *int64) (*EpisodicItem, error) {
	if significance < 0 || significance > 1 {
		return nil, fmt.Errorf("%w: significance must be in [0,1], got %g", errs.ErrInvalidArgument, significance)
	}
	if emotionalValence != nil && (*emotionalValence < -1 || *emotionalValence > 1) {
		return nil, fmt.Errorf("%w: emotional_valence must be in [-1,1], got %g", errs.ErrInvalidArgument, *emotionalValence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEpisode(eventType, episodeData, significance, emotionalValence, tags, entityID)
}

func (s *SQLiteMemoryDB) insertEpisode(eventType, episodeData string, significance float64, emotionalValence *float64, tags []string, entityID *int64) (*EpisodicItem, error) {
	now := time.Now()
	var tagsJSON []byte
	if len(tags) > 0 {
		tagsJSON, _ = json.Marshal(tags)
	}

	res, err := s.db.Exec(
		`INSERT INTO episodic_memory (event_type, episode_data, significance, emotional_valence, tags, entity_id, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventType, episodeData, clamp01(significance), nullableFloat64(emotionalValence), tagsJSON, nullableInt64(entityID), s.embedFirstChunk(episodeData), now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &EpisodicItem{
		ID: id, EventType: eventType, EpisodeData: episodeData, Significance: clamp01(significance),
		EmotionalValence: emotionalValence, Tags: tags, CreatedAt: now, EntityID: entityID,
	}, nil
}

// GetEpisodes lists episodic items, most recent first.
func (s *SQLiteMemoryDB) GetEpisodes(filter EpisodicFilter) ([]*EpisodicItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, event_type, episode_data, significance, emotional_valence, tags, entity_id, created_at
	          FROM episodic_memory WHERE 1=1`
	args := []interface{}{}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	items := []*EpisodicItem{}
	for rows.Next() {
		e := &EpisodicItem{}
		var valence sql.NullFloat64
		var tagsJSON sql.NullString
		var entityID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.EventType, &e.EpisodeData, &e.Significance, &valence, &tagsJSON, &entityID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if valence.Valid {
			v := valence.Float64
			e.EmotionalValence = &v
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
		}
		if entityID.Valid {
			v := entityID.Int64
			e.EntityID = &v
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// AddConcept stores a uniquely-named semantic concept.
func (s *SQLiteMemoryDB) AddConcept(name, conceptType, definition string, related []string, confidence float64) (*SemanticConcept, error) {
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be in [0,1], got %g", errs.ErrInvalidArgument, confidence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertConcept(name, conceptType, definition, related, confidence)
}

func (s *SQLiteMemoryDB) insertConcept(name, conceptType, definition string, related []string, confidence float64) (*SemanticConcept, error) {
	var exists int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM semantic_memory WHERE concept_name = ?`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: concept %q already exists", errs.ErrDuplicate, name)
	}

	now := time.Now()
	var relatedJSON []byte
	if len(related) > 0 {
		relatedJSON, _ = json.Marshal(related)
	}

	res, err := s.db.Exec(
		`INSERT INTO semantic_memory (concept_name, concept_type, definition, related_concepts, confidence, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, conceptType, definition, relatedJSON, clamp01(confidence), s.embedFirstChunk(definition), now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &SemanticConcept{
		ID: id, ConceptName: name, ConceptType: conceptType, Definition: definition,
		RelatedConcepts: related, Confidence: clamp01(confidence), CreatedAt: now,
	}, nil
}

// GetConcepts lists semantic concepts, most recent first.
func (s *SQLiteMemoryDB) GetConcepts(limit int) ([]*SemanticConcept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, concept_name, concept_type, definition, related_concepts, confidence, created_at
	          FROM semantic_memory ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	concepts := []*SemanticConcept{}
	for rows.Next() {
		c := &SemanticConcept{}
		var relatedJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.ConceptName, &c.ConceptType, &c.Definition, &relatedJSON, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if relatedJSON.Valid && relatedJSON.String != "" {
			json.Unmarshal([]byte(relatedJSON.String), &c.RelatedConcepts)
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

// AddSkill stores a uniquely-named procedural skill.
func (s *SQLiteMemoryDB) AddSkill(name, category string, steps []string, preconditions, successCriteria string) (*ProceduralSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM procedural_memory WHERE skill_name = ?`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: skill %q already exists", errs.ErrDuplicate, name)
	}

	now := time.Now()
	stepsJSON, _ := json.Marshal(steps)

	res, err := s.db.Exec(
		`INSERT INTO procedural_memory (skill_name, skill_category, procedure_steps, preconditions, success_criteria, execution_count, success_rate, avg_execution_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?)`,
		name, category, stepsJSON, preconditions, successCriteria, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &ProceduralSkill{
		ID: id, SkillName: name, SkillCategory: category, ProcedureSteps: steps,
		Preconditions: preconditions, SuccessCriteria: successCriteria, CreatedAt: now,
	}, nil
}

// RecordSkillExecution updates a skill's running execution_count, success_rate
// (fraction of successful executions), and avg_execution_time_ms.
func (s *SQLiteMemoryDB) RecordSkillExecution(name string, success bool, durationMs float64) (*ProceduralSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skill, err := s.loadSkill(name)
	if err != nil {
		return nil, err
	}

	prevSuccesses := skill.SuccessRate * float64(skill.ExecutionCount)
	if success {
		prevSuccesses++
	}
	newCount := skill.ExecutionCount + 1
	newRate := prevSuccesses / float64(newCount)
	newAvg := (skill.AvgExecutionTimeMs*float64(skill.ExecutionCount) + durationMs) / float64(newCount)

	_, err = s.db.Exec(
		`UPDATE procedural_memory SET execution_count = ?, success_rate = ?, avg_execution_time_ms = ? WHERE skill_name = ?`,
		newCount, newRate, newAvg, name,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	skill.ExecutionCount = newCount
	skill.SuccessRate = newRate
	skill.AvgExecutionTimeMs = newAvg
	return skill, nil
}

func (s *SQLiteMemoryDB) loadSkill(name string) (*ProceduralSkill, error) {
	skill := &ProceduralSkill{}
	var stepsJSON string
	var preconditions, successCriteria sql.NullString
	err := s.db.QueryRow(
		`SELECT id, skill_name, skill_category, procedure_steps, preconditions, success_criteria, execution_count, success_rate, avg_execution_time_ms, created_at
		 FROM procedural_memory WHERE skill_name = ?`, name,
	).Scan(&skill.ID, &skill.SkillName, &skill.SkillCategory, &stepsJSON, &preconditions, &successCriteria, &skill.ExecutionCount, &skill.SuccessRate, &skill.AvgExecutionTimeMs, &skill.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: skill %q", errs.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	json.Unmarshal([]byte(stepsJSON), &skill.ProcedureSteps)
	skill.Preconditions = preconditions.String
	skill.SuccessCriteria = successCriteria.String
	return skill, nil
}

// GetSkills lists procedural skills ordered by success rate then usage.
func (s *SQLiteMemoryDB) GetSkills(limit int) ([]*ProceduralSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, skill_name, skill_category, procedure_steps, preconditions, success_criteria, execution_count, success_rate, avg_execution_time_ms, created_at
	          FROM procedural_memory ORDER BY success_rate DESC, execution_count DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	skills := []*ProceduralSkill{}
	for rows.Next() {
		sk := &ProceduralSkill{}
		var stepsJSON string
		var preconditions, successCriteria sql.NullString
		if err := rows.Scan(&sk.ID, &sk.SkillName, &sk.SkillCategory, &stepsJSON, &preconditions, &successCriteria, &sk.ExecutionCount, &sk.SuccessRate, &sk.AvgExecutionTimeMs, &sk.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		json.Unmarshal([]byte(stepsJSON), &sk.ProcedureSteps)
		sk.Preconditions = preconditions.String
		sk.SuccessCriteria = successCriteria.String
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// Curate runs the three-step promotion sequence: expire working items,
// promote frequently-accessed working items to episodic, then promote
// high-significance episodic items to semantic concepts.
func (s *SQLiteMemoryDB) Curate() (*CurationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &CurationResult{}
	now := time.Now()

	res, err := s.db.Exec(`DELETE FROM working_memory WHERE expires_at < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	expired, _ := res.RowsAffected()
	result.Expired = int(expired)
	if expired > 0 {
		s.bus.PublishJSON("memory.workingset.evicted", map[string]interface{}{
			"expired": expired, "at": now,
		})
	}

	rows, err := s.db.Query(`SELECT id, context_key, content, access_count FROM working_memory WHERE access_count >= 5`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	type promotable struct {
		id          int64
		contextKey  string
		content     string
		accessCount int64
	}
	var toPromote []promotable
	for rows.Next() {
		var p promotable
		if err := rows.Scan(&p.id, &p.contextKey, &p.content, &p.accessCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		toPromote = append(toPromote, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	for _, p := range toPromote {
		significance := 0.3 + 0.1*float64(p.accessCount)
		if significance > 0.7 {
			significance = 0.7
		}
		data, _ := json.Marshal(map[string]string{"content": p.content, "context": p.contextKey})
		if _, err := s.insertEpisode("promoted_from_working", string(data), significance, nil, nil, nil); err != nil {
			return nil, err
		}
		result.WorkingToEpisodic++
	}

	epRows, err := s.db.Query(`SELECT id, event_type, episode_data, significance FROM episodic_memory WHERE significance >= 0.8`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	type highSig struct {
		id           int64
		eventType    string
		episodeData  string
		significance float64
	}
	var toDerive []highSig
	for epRows.Next() {
		var h highSig
		if err := epRows.Scan(&h.id, &h.eventType, &h.episodeData, &h.significance); err != nil {
			epRows.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		toDerive = append(toDerive, h)
	}
	epRows.Close()
	if err := epRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	for _, h := range toDerive {
		conceptName := fmt.Sprintf("learned_%s_%d", h.eventType, h.id)
		_, err := s.insertConcept(conceptName, "derived_pattern", h.episodeData, nil, h.significance)
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return nil, err
		}
		result.EpisodicToSemantic++
	}

	return result, nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat64(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
