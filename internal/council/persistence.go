package council

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// EventBus is the narrow publish surface the council uses to announce
// stage completions; NoopBus satisfies it when no messaging backend is
// configured.
type EventBus interface {
	PublishJSON(subject string, v interface{}) error
}

// NoopBus discards every published event.
type NoopBus struct{}

func (NoopBus) PublishJSON(string, interface{}) error { return nil }

// Store persists conversation records as dated JSON files and indexes them
// in a SQLite table for query/listing.
type Store struct {
	dataDir string
	db      *sql.DB
	mu      sync.Mutex
	bus     EventBus
}

// NewStore opens (and if needed initializes) the conversation index at
// dataDir/index.db, creating dataDir/conversations if it does not exist.
func NewStore(dataDir string) (*Store, error) {
	return NewStoreWithBus(dataDir, NoopBus{})
}

// NewStoreWithBus is NewStore with an explicit event bus for stage
// completion notifications.
func NewStoreWithBus(dataDir string, bus EventBus) (*Store, error) {
	conversationsDir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(conversationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open council index: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
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
	return &Store{dataDir: dataDir, db: db, bus: bus}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes record as a dated JSON file under dataDir/conversations,
// disambiguating filename collisions within the same second with a numeric
// suffix, and indexes the conversation in SQLite.
func (s *Store) Save(pattern, question string, result interface{}) (*ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	id := uuid.New().String()
	record := &ConversationRecord{ID: id, Question: question, Pattern: pattern, Result: result, CreatedAt: now}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal conversation record: %w", err)
	}

	path, err := writeExclusiveWithSuffix(filepath.Join(s.dataDir, "conversations"), now, data)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(
		`INSERT INTO council_conversations (id, question, pattern, file_path, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, question, pattern, path, now,
	); err != nil {
		return nil, fmt.Errorf("index conversation: %w", err)
	}

	s.bus.PublishJSON(fmt.Sprintf("council.%s.stage", id), map[string]interface{}{
		"id": id, "pattern": pattern, "stage": "complete",
	})

	return record, nil
}

// writeExclusiveWithSuffix writes data under dir/YYYYMMDD_HHMMSS.json using
// exclusive-create semantics; on a same-second collision it appends an
// incrementing numeric suffix.
func writeExclusiveWithSuffix(dir string, ts time.Time, data []byte) (string, error) {
	base := ts.Format("20060102_150405")
	for attempt := 0; attempt < 1000; attempt++ {
		name := base + ".json"
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.json", base, attempt)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", fmt.Errorf("create conversation file: %w", err)
		}
		_, writeErr := f.Write(data)
		closeErr := f.Close()
		if writeErr != nil {
			return "", fmt.Errorf("write conversation file: %w", writeErr)
		}
		if closeErr != nil {
			return "", fmt.Errorf("close conversation file: %w", closeErr)
		}
		return path, nil
	}
	return "", fmt.Errorf("exhausted disambiguating suffixes for %s", base)
}

// ListConversations returns the most recent conversation index rows,
// newest first, optionally filtered by pattern.
func (s *Store) ListConversations(pattern string, limit int) ([]*ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, question, pattern, created_at FROM council_conversations`
	args := []interface{}{}
	if pattern != "" {
		query += ` WHERE pattern = ?`
		args = append(args, pattern)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var records []*ConversationRecord
	for rows.Next() {
		r := &ConversationRecord{}
		if err := rows.Scan(&r.ID, &r.Question, &r.Pattern, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
