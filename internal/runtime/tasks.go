package runtime

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentfleet/core/internal/errs"
)

// scanTask scans one tasks row. Accepts *sql.Rows so it is shared between
// single-row and multi-row callers.
func scanTask(rows *sql.Rows) (*Task, error) {
	t := &Task{}
	var goalID sql.NullInt64
	var status string
	var result, errMsg, depsJSON sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := rows.Scan(&t.ID, &goalID, &t.Title, &t.Description, &status, &t.Priority, &result, &errMsg, &depsJSON,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	t.Status = TaskStatus(status)
	if goalID.Valid {
		v := goalID.Int64
		t.GoalID = &v
	}
	t.Result = result.String
	t.Error = errMsg.String
	if depsJSON.Valid && depsJSON.String != "" {
		json.Unmarshal([]byte(depsJSON.String), &t.Dependencies)
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return t, nil
}

// CreateTask inserts a task in pending status.
func (s *SQLiteRuntimeDB) CreateTask(title, description string, goalID *int64, priority int, dependencies []int64) (*Task, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", errs.ErrInvalidArgument)
	}
	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("%w: priority must be in 1..10, got %d", errs.ErrInvalidArgument, priority)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var depsJSON []byte
	if len(dependencies) > 0 {
		depsJSON, _ = json.Marshal(dependencies)
	}

	var goalArg interface{}
	if goalID != nil {
		goalArg = *goalID
	}

	res, err := s.db.Exec(
		`INSERT INTO tasks (goal_id, title, description, status, priority, dependencies, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		goalArg, title, description, string(TaskPending), priority, depsJSON, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	return &Task{
		ID: id, GoalID: goalID, Title: title, Description: description, Status: TaskPending,
		Priority: priority, Dependencies: dependencies, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetTask loads a task by id.
func (s *SQLiteRuntimeDB) GetTask(id int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTask(id)
}

func (s *SQLiteRuntimeDB) loadTask(id int64) (*Task, error) {
	rows, err := s.db.Query(
		`SELECT id, goal_id, title, description, status, priority, result, error, dependencies, created_at, updated_at, started_at, completed_at
		 FROM tasks WHERE id = ?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: task %d", errs.ErrNotFound, id)
	}
	return scanTask(rows)
}

// dependenciesSatisfied reports whether every dependency of task is
// completed.
func (s *SQLiteRuntimeDB) dependenciesSatisfied(deps []int64) (bool, error) {
	for _, depID := range deps {
		dep, err := s.loadTask(depID)
		if err != nil {
			return false, err
		}
		if dep.Status != TaskCompleted {
			return false, nil
		}
	}
	return true, nil
}

// GetNextTask atomically claims the highest-priority pending task (ties
// broken by created_at ascending) whose every dependency is completed,
// transitioning it to in_progress. Returns nil, nil if none qualifies.
func (s *SQLiteRuntimeDB) GetNextTask() (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, goal_id, title, description, status, priority, result, error, dependencies, created_at, updated_at, started_at, completed_at
		 FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC`, string(TaskPending),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	var candidates []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	for _, t := range candidates {
		ok, err := s.dependenciesSatisfied(t.Dependencies)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		now := time.Now()
		res, err := s.db.Exec(
			`UPDATE tasks SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(TaskInProgress), now, now, t.ID, string(TaskPending),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		if affected == 0 {
			// Claimed by a concurrent caller between the scan and the
			// claim attempt; move on to the next candidate.
			continue
		}

		t.Status = TaskInProgress
		t.StartedAt = &now
		t.UpdatedAt = now
		return t, nil
	}

	return nil, nil
}

var terminalTaskStates = map[TaskStatus]bool{
	TaskCompleted: true,
	TaskCancelled: true,
}

// validTaskTransitions enforces the task state machine: a task may only
// enter in_progress once its dependencies are completed, and neither
// completed nor cancelled admits any further transition.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:    {TaskInProgress: true, TaskCancelled: true},
	TaskInProgress: {TaskCompleted: true, TaskFailed: true, TaskCancelled: true},
	TaskFailed:     {TaskPending: true, TaskInProgress: true, TaskCancelled: true},
}

// UpdateTaskStatus transitions a task, validating against the task state
// machine and recording completed_at only on entering completed.
func (s *SQLiteRuntimeDB) UpdateTaskStatus(taskID int64, status TaskStatus, result, errMsg string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.loadTask(taskID)
	if err != nil {
		return nil, err
	}

	if terminalTaskStates[task.Status] {
		return nil, fmt.Errorf("%w: task %d is already %s", errs.ErrStateConflict, taskID, task.Status)
	}
	if status == TaskInProgress {
		ok, err := s.dependenciesSatisfied(task.Dependencies)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: task %d has incomplete dependencies", errs.ErrStateConflict, taskID)
		}
	}
	if allowed, known := validTaskTransitions[task.Status]; known && !allowed[status] && status != task.Status {
		return nil, fmt.Errorf("%w: task %d cannot transition %s -> %s", errs.ErrStateConflict, taskID, task.Status, status)
	}

	now := time.Now()
	var startedAt interface{}
	if task.StartedAt == nil && status == TaskInProgress {
		startedAt = now
		task.StartedAt = &now
	}
	var completedAt interface{}
	if status == TaskCompleted {
		completedAt = now
		task.CompletedAt = &now
	}

	query := `UPDATE tasks SET status = ?, result = ?, error = ?, updated_at = ?`
	args := []interface{}{string(status), result, errMsg, now}
	if startedAt != nil {
		query += `, started_at = ?`
		args = append(args, startedAt)
	}
	if completedAt != nil {
		query += `, completed_at = ?`
		args = append(args, completedAt)
	}
	query += ` WHERE id = ?`
	args = append(args, taskID)

	if _, err := s.db.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	task.Status = status
	task.Result = result
	task.Error = errMsg
	task.UpdatedAt = now
	return task, nil
}
