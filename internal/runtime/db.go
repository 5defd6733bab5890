package runtime

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SQLiteRuntimeDB implements RuntimeDB over a single embedded SQLite store,
// matching the pragma set and single-writer discipline of the memory
// engine's store.
type SQLiteRuntimeDB struct {
	db  *sql.DB
	mu  sync.Mutex
	bus EventBus
}

// NewSQLiteRuntimeDB opens (and if needed initializes) the runtime store at
// dbPath.
func NewSQLiteRuntimeDB(dbPath string) (*SQLiteRuntimeDB, error) {
	return NewSQLiteRuntimeDBWithBus(dbPath, NoopBus{})
}

// NewSQLiteRuntimeDBWithBus is NewSQLiteRuntimeDB with an explicit event bus
// for pipeline/breaker state-change notifications.
func NewSQLiteRuntimeDBWithBus(dbPath string, bus EventBus) (*SQLiteRuntimeDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open runtime db: %w", err)
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

	return &SQLiteRuntimeDB{db: db, bus: bus}, nil
}

func (s *SQLiteRuntimeDB) Close() error {
	return s.db.Close()
}
