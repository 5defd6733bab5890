package runtime

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentfleet/core/internal/errs"
)

// CreateRelayPipeline creates a pending pipeline over the given ordered
// agent-type sequence and shared token budget.
func (s *SQLiteRuntimeDB) CreateRelayPipeline(name, goal string, agentTypes []string, tokenBudget int64) (*RelayPipeline, error) {
	if len(agentTypes) == 0 {
		return nil, fmt.Errorf("%w: relay pipeline requires at least one agent type", errs.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()[:8]
	now := time.Now()
	agentTypesJSON, _ := json.Marshal(agentTypes)

	_, err := s.db.Exec(
		`INSERT INTO relay_pipelines (id, name, goal, agent_types, status, current_step, token_budget, tokens_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, 0, ?, ?)`,
		id, name, goal, agentTypesJSON, string(PipelinePending), tokenBudget, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &RelayPipeline{
		ID: id, Name: name, Goal: goal, AgentTypes: agentTypes, Status: PipelinePending,
		TokenBudget: tokenBudget, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetPipeline loads a pipeline by id.
func (s *SQLiteRuntimeDB) GetPipeline(pipelineID string) (*RelayPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadPipeline(pipelineID)
}

func (s *SQLiteRuntimeDB) loadPipeline(pipelineID string) (*RelayPipeline, error) {
	p := &RelayPipeline{}
	var status, agentTypesJSON string
	var batonData sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRow(
		`SELECT id, name, goal, agent_types, status, current_step, token_budget, tokens_used, baton_data, created_at, updated_at, completed_at
		 FROM relay_pipelines WHERE id = ?`, pipelineID,
	).Scan(&p.ID, &p.Name, &p.Goal, &agentTypesJSON, &status, &p.CurrentStep, &p.TokenBudget, &p.TokensUsed,
		&batonData, &p.CreatedAt, &p.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pipeline %q", errs.ErrNotFound, pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	p.Status = PipelineStatus(status)
	json.Unmarshal([]byte(agentTypesJSON), &p.AgentTypes)
	if batonData.Valid && batonData.String != "" {
		p.BatonData = json.RawMessage(batonData.String)
	}
	if completedAt.Valid {
		v := completedAt.Time
		p.CompletedAt = &v
	}
	return p, nil
}

// GetRelayBaton returns the current agent, remaining token budget, and the
// baton produced by the previous step (nil on the first step).
func (s *SQLiteRuntimeDB) GetRelayBaton(pipelineID string) (*RelayBaton, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadPipeline(pipelineID)
	if err != nil {
		return nil, err
	}

	result := &RelayBaton{TokensRemaining: p.TokenBudget - p.TokensUsed}
	if p.CurrentStep < len(p.AgentTypes) {
		result.CurrentAgent = p.AgentTypes[p.CurrentStep]
	}
	if len(p.BatonData) > 0 {
		var b Baton
		if err := json.Unmarshal(p.BatonData, &b); err == nil {
			result.Baton = &b
		}
	}
	return result, nil
}

// AdvanceRelay completes the current step with the supplied scores and
// either finalizes the pipeline (on its last step) or hands the baton to
// the next step.
func (s *SQLiteRuntimeDB) AdvanceRelay(pipelineID string, qualityScore, lScore float64, outputEntityID *int64, tokensUsed int64, outputSummary string) (*AdvanceResult, error) {
	handoffStart := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadPipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	if p.Status == PipelineCompleted || p.Status == PipelineFailed {
		return nil, fmt.Errorf("%w: pipeline %q is already %s", errs.ErrStateConflict, pipelineID, p.Status)
	}

	now := time.Now()
	stepIndex := p.CurrentStep
	agentType := ""
	if stepIndex < len(p.AgentTypes) {
		agentType = p.AgentTypes[stepIndex]
	}

	var outputEntityArg interface{}
	if outputEntityID != nil {
		outputEntityArg = *outputEntityID
	}

	var existingStartedAt sql.NullTime
	err = s.db.QueryRow(`SELECT started_at FROM relay_steps WHERE pipeline_id = ? AND step_index = ?`, pipelineID, stepIndex).Scan(&existingStartedAt)
	startedAt := now
	if err == nil && existingStartedAt.Valid {
		startedAt = existingStartedAt.Time
	}

	_, err = s.db.Exec(
		`INSERT INTO relay_steps (pipeline_id, step_index, agent_type, status, quality_score, l_score, output_entity_id, output_summary, tokens_used, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pipeline_id, step_index) DO UPDATE SET
		   status = excluded.status, quality_score = excluded.quality_score, l_score = excluded.l_score,
		   output_entity_id = excluded.output_entity_id, output_summary = excluded.output_summary,
		   tokens_used = excluded.tokens_used, completed_at = excluded.completed_at`,
		pipelineID, stepIndex, agentType, string(TaskCompleted), qualityScore, lScore, outputEntityArg, outputSummary, tokensUsed, startedAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	newTokensUsed := p.TokensUsed + tokensUsed
	isLastStep := stepIndex == len(p.AgentTypes)-1

	if isLastStep {
		if _, err := s.db.Exec(
			`UPDATE relay_pipelines SET status = ?, tokens_used = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			string(PipelineCompleted), newTokensUsed, now, now, pipelineID,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		s.bus.PublishJSON(fmt.Sprintf("runtime.pipeline.%s.step", pipelineID), map[string]interface{}{
			"pipeline_id": pipelineID, "status": string(PipelineCompleted), "step": stepIndex,
		})
		return &AdvanceResult{
			Status:        PipelineCompleted,
			TotalTokens:   newTokensUsed,
			HandoffTimeMs: time.Since(handoffStart).Milliseconds(),
		}, nil
	}

	baton := Baton{PreviousStep: stepIndex, QualityScore: qualityScore, LScore: lScore, OutputEntityID: outputEntityID, Summary: outputSummary}
	batonJSON, _ := json.Marshal(baton)
	nextStep := stepIndex + 1
	nextAgent := p.AgentTypes[nextStep]

	if _, err := s.db.Exec(
		`UPDATE relay_pipelines SET status = ?, current_step = ?, tokens_used = ?, baton_data = ?, updated_at = ? WHERE id = ?`,
		string(PipelineInProgress), nextStep, newTokensUsed, batonJSON, now, pipelineID,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	if _, err := s.db.Exec(
		`INSERT INTO relay_steps (pipeline_id, step_index, agent_type, status, started_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(pipeline_id, step_index) DO UPDATE SET status = excluded.status, started_at = excluded.started_at`,
		pipelineID, nextStep, nextAgent, string(TaskInProgress), now,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	s.bus.PublishJSON(fmt.Sprintf("runtime.pipeline.%s.step", pipelineID), map[string]interface{}{
		"pipeline_id": pipelineID, "status": string(PipelineInProgress), "step": nextStep, "agent": nextAgent,
	})

	return &AdvanceResult{
		Status:          PipelineInProgress,
		CurrentStep:     nextStep,
		NextAgent:       nextAgent,
		TokensRemaining: p.TokenBudget - newTokensUsed,
		HandoffTimeMs:   time.Since(handoffStart).Milliseconds(),
	}, nil
}

// FailPipeline explicitly transitions an in-progress pipeline to failed.
func (s *SQLiteRuntimeDB) FailPipeline(pipelineID, reason string) (*RelayPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadPipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	if p.Status == PipelineCompleted {
		return nil, fmt.Errorf("%w: pipeline %q already completed", errs.ErrStateConflict, pipelineID)
	}

	now := time.Now()
	if _, err := s.db.Exec(`UPDATE relay_pipelines SET status = ?, updated_at = ? WHERE id = ?`, string(PipelineFailed), now, pipelineID); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	p.Status = PipelineFailed
	p.UpdatedAt = now

	s.bus.PublishJSON(fmt.Sprintf("runtime.pipeline.%s.step", pipelineID), map[string]interface{}{
		"pipeline_id": pipelineID, "status": string(PipelineFailed), "reason": reason,
	})
	return p, nil
}
