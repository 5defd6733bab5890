package runtime

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentfleet/core/internal/errs"
)

// loadOrCreateBreaker fetches the breaker for agentID, lazily creating one
// in the closed state on first reference.
func (s *SQLiteRuntimeDB) loadOrCreateBreaker(agentID string) (*CircuitBreaker, error) {
	b, err := s.loadBreaker(agentID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	_, err = s.db.Exec(
		`INSERT INTO circuit_breakers (agent_id, state, failure_count, failure_threshold, window_seconds, cooldown_seconds)
		 VALUES (?, ?, 0, ?, ?, ?)`,
		agentID, string(BreakerClosed), defaultFailureThreshold, defaultWindowSeconds, defaultCooldownSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return s.loadBreaker(agentID)
}

func (s *SQLiteRuntimeDB) loadBreaker(agentID string) (*CircuitBreaker, error) {
	b := &CircuitBreaker{AgentID: agentID}
	var state string
	var lastFailure, lastSuccess, openedAt sql.NullTime
	var fallback sql.NullString

	err := s.db.QueryRow(
		`SELECT state, failure_count, failure_threshold, window_seconds, cooldown_seconds, fallback_agent, last_failure_at, last_success_at, opened_at
		 FROM circuit_breakers WHERE agent_id = ?`, agentID,
	).Scan(&state, &b.FailureCount, &b.FailureThreshold, &b.WindowSeconds, &b.CooldownSeconds, &fallback, &lastFailure, &lastSuccess, &openedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: circuit breaker %q", errs.ErrNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	b.State = BreakerState(state)
	b.FallbackAgent = fallback.String
	if lastFailure.Valid {
		v := lastFailure.Time
		b.LastFailureAt = &v
	}
	if lastSuccess.Valid {
		v := lastSuccess.Time
		b.LastSuccessAt = &v
	}
	if openedAt.Valid {
		v := openedAt.Time
		b.OpenedAt = &v
	}
	return b, nil
}

// observeCooldown applies the open -> half_open transition when the
// cooldown has elapsed. There is no timer; the transition is observed
// lazily at query time.
func observeCooldown(b *CircuitBreaker) {
	if b.State == BreakerOpen && b.OpenedAt != nil {
		if time.Since(*b.OpenedAt) >= time.Duration(b.CooldownSeconds)*time.Second {
			b.State = BreakerHalfOpen
		}
	}
}

func (s *SQLiteRuntimeDB) persistBreaker(b *CircuitBreaker) error {
	var fallback interface{}
	if b.FallbackAgent != "" {
		fallback = b.FallbackAgent
	}
	var lastFailure, lastSuccess, openedAt interface{}
	if b.LastFailureAt != nil {
		lastFailure = *b.LastFailureAt
	}
	if b.LastSuccessAt != nil {
		lastSuccess = *b.LastSuccessAt
	}
	if b.OpenedAt != nil {
		openedAt = *b.OpenedAt
	}

	_, err := s.db.Exec(
		`UPDATE circuit_breakers SET state = ?, failure_count = ?, fallback_agent = ?, last_failure_at = ?, last_success_at = ?, opened_at = ? WHERE agent_id = ?`,
		string(b.State), b.FailureCount, fallback, lastFailure, lastSuccess, openedAt, b.AgentID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return nil
}

func toStatus(b *CircuitBreaker) *BreakerStatus {
	return &BreakerStatus{CircuitBreaker: *b, Tripped: b.State == BreakerOpen}
}

// RecordFailure increments the breaker's failure count, applies the
// sliding-window reset when the prior failure fell outside window_seconds,
// and transitions closed->open or half_open->open per the thresholds.
func (s *SQLiteRuntimeDB) RecordFailure(agentID, failureType, errMsg string) (*BreakerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.loadOrCreateBreaker(agentID)
	if err != nil {
		return nil, err
	}
	observeCooldown(b)

	now := time.Now()
	window := time.Duration(b.WindowSeconds) * time.Second
	if b.State == BreakerClosed && b.LastFailureAt != nil && now.Sub(*b.LastFailureAt) > window {
		b.FailureCount = 0
	}

	b.FailureCount++
	b.LastFailureAt = &now

	switch b.State {
	case BreakerHalfOpen:
		b.State = BreakerOpen
		b.OpenedAt = &now
	case BreakerClosed:
		if b.FailureCount >= b.FailureThreshold {
			b.State = BreakerOpen
			b.OpenedAt = &now
		}
	}

	if err := s.persistBreaker(b); err != nil {
		return nil, err
	}
	s.bus.PublishJSON(fmt.Sprintf("runtime.breaker.%s.state", agentID), map[string]interface{}{
		"agent_id": agentID, "state": string(b.State), "failure_count": b.FailureCount, "failure_type": failureType, "error": errMsg,
	})
	return toStatus(b), nil
}

// RecordSuccess closes a half_open breaker and otherwise just timestamps
// the success.
func (s *SQLiteRuntimeDB) RecordSuccess(agentID string) (*BreakerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.loadOrCreateBreaker(agentID)
	if err != nil {
		return nil, err
	}
	observeCooldown(b)

	now := time.Now()
	b.LastSuccessAt = &now
	if b.State == BreakerHalfOpen {
		b.State = BreakerClosed
		b.FailureCount = 0
		b.OpenedAt = nil
	}

	if err := s.persistBreaker(b); err != nil {
		return nil, err
	}
	if b.State == BreakerClosed {
		s.bus.PublishJSON(fmt.Sprintf("runtime.breaker.%s.state", agentID), map[string]interface{}{
			"agent_id": agentID, "state": string(b.State),
		})
	}
	return toStatus(b), nil
}

// ResetBreaker forces a breaker back to closed with a zeroed failure count.
func (s *SQLiteRuntimeDB) ResetBreaker(agentID string) (*BreakerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.loadOrCreateBreaker(agentID)
	if err != nil {
		return nil, err
	}
	b.State = BreakerClosed
	b.FailureCount = 0
	b.OpenedAt = nil

	if err := s.persistBreaker(b); err != nil {
		return nil, err
	}
	return toStatus(b), nil
}

// BreakerStatusOf returns a breaker's snapshot, applying the lazy
// open->half_open cooldown observation first.
func (s *SQLiteRuntimeDB) BreakerStatusOf(agentID string) (*BreakerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.loadOrCreateBreaker(agentID)
	if err != nil {
		return nil, err
	}
	observeCooldown(b)
	return toStatus(b), nil
}
