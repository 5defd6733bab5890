package runtime

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentfleet/core/internal/errs"
)

// CreateGoal inserts a new active goal.
func (s *SQLiteRuntimeDB) CreateGoal(name, description string, metadata map[string]string) (*Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var metadataJSON []byte
	if len(metadata) > 0 {
		metadataJSON, _ = json.Marshal(metadata)
	}

	res, err := s.db.Exec(
		`INSERT INTO goals (name, description, status, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		name, description, string(GoalActive), metadataJSON, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &Goal{ID: id, Name: name, Description: description, Status: GoalActive, Metadata: metadata, CreatedAt: now, UpdatedAt: now}, nil
}

// GetGoal loads a goal and every task attached to it, ordered by priority
// descending.
func (s *SQLiteRuntimeDB) GetGoal(id int64) (*Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.loadGoal(id)
	if err != nil {
		return nil, err
	}

	tasks, err := s.listTasksForGoal(id)
	if err != nil {
		return nil, err
	}
	g.Tasks = tasks
	return g, nil
}

func (s *SQLiteRuntimeDB) loadGoal(id int64) (*Goal, error) {
	g := &Goal{}
	var status string
	var metadataJSON sql.NullString
	err := s.db.QueryRow(
		`SELECT id, name, description, status, metadata, created_at, updated_at FROM goals WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &status, &metadataJSON, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: goal %d", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	g.Status = GoalStatus(status)
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &g.Metadata)
	}
	return g, nil
}

func (s *SQLiteRuntimeDB) listTasksForGoal(goalID int64) ([]*Task, error) {
	rows, err := s.db.Query(
		`SELECT id, goal_id, title, description, status, priority, result, error, dependencies, created_at, updated_at, started_at, completed_at
		 FROM tasks WHERE goal_id = ? ORDER BY priority DESC`, goalID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListGoals lists goals, optionally filtered by status, each annotated with
// a histogram of its tasks' statuses.
func (s *SQLiteRuntimeDB) ListGoals(status GoalStatus) ([]*GoalSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id FROM goals`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
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

	summaries := make([]*GoalSummary, 0, len(ids))
	for _, id := range ids {
		g, err := s.loadGoal(id)
		if err != nil {
			return nil, err
		}
		hist, err := s.taskHistogram(id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &GoalSummary{Goal: g, TaskHistogram: hist})
	}
	return summaries, nil
}

func (s *SQLiteRuntimeDB) taskHistogram(goalID int64) (map[TaskStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks WHERE goal_id = ? GROUP BY status`, goalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	hist := map[TaskStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		hist[TaskStatus(status)] = count
	}
	return hist, rows.Err()
}

// decompositionTemplate is one row of the fixed task template a strategy
// expands a goal into.
type decompositionTemplate struct {
	title             string
	priority          int
	dependsOnPrevious bool
}

var decompositionTemplates = map[DecompositionStrategy][]decompositionTemplate{
	StrategySequential: {
		{"Analyze", 10, false},
		{"Design", 9, true},
		{"Implement", 8, true},
		{"Test", 7, true},
		{"Document", 6, true},
	},
	StrategyParallel: {
		{"Research", 10, false},
		{"Prototype", 9, false},
		{"Review", 8, false},
	},
	StrategyHierarchical: {
		{"Plan", 10, false},
		{"Execute Phase 1", 9, false},
		{"Execute Phase 2", 8, false},
		{"Integrate", 7, false},
		{"Validate", 6, false},
	},
}

// DecomposeGoal creates a fixed template of tasks derived from the goal's
// name, per the named strategy.
func (s *SQLiteRuntimeDB) DecomposeGoal(goalID int64, strategy DecompositionStrategy) (*DecomposeResult, error) {
	start := time.Now()

	s.mu.Lock()
	goal, err := s.loadGoal(goalID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	template, ok := decompositionTemplates[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown decomposition strategy %q", errs.ErrInvalidArgument, strategy)
	}

	ids := make([]int64, 0, len(template))
	var previous int64
	for _, step := range template {
		title := fmt.Sprintf("%s: %s", step.title, goal.Name)
		var deps []int64
		if step.dependsOnPrevious && previous != 0 {
			deps = []int64{previous}
		}

		task, err := s.CreateTask(title, "", &goalID, step.priority, deps)
		if err != nil {
			return nil, err
		}
		ids = append(ids, task.ID)
		previous = task.ID
	}

	return &DecomposeResult{TaskIDs: ids, ElapsedMs: time.Since(start).Milliseconds()}, nil
}
