// Package cache is the build cache and state manager: it checksums
// recipe inputs, decides whether a recipe needs rebuilding, and persists
// build outcomes across invocations. It is the sole authority for
// skip/rebuild decisions; no other component may bypass it.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/alloybuild/alloy/internal/recipe"
)

// Outcome is the terminal result of a build attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// BuildRecord is the persisted state for one recipe, overwritten on
// every build attempt and never deleted automatically.
type BuildRecord struct {
	Recipe   string
	Checksum string
	Outcome  Outcome
	BuiltAt  time.Time

	// Changed is set when this recipe was rebuilt; dependents built
	// before that rebuild are invalidated on their next evaluation.
	Changed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS build_records (
	recipe    TEXT PRIMARY KEY,
	checksum  TEXT NOT NULL,
	outcome   TEXT NOT NULL CHECK (outcome IN ('success', 'failure')),
	built_at  TEXT NOT NULL,
	changed   INTEGER NOT NULL DEFAULT 0
);
`

// Store is the durable keyed store (recipe name → BuildRecord) backing
// incremental builds. Writes are serialized; reads may run concurrently.
type Store struct {
	db *sql.DB

	// One record update at a time. Each write touches only its own key,
	// but the persisted store must not be corrupted by concurrent flushes.
	writeMu sync.Mutex
}

// Open opens (and initializes if needed) the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the record for a recipe, or nil if none exists.
func (s *Store) Get(ctx context.Context, name string) (*BuildRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT recipe, checksum, outcome, built_at, changed FROM build_records WHERE recipe = ?`, name)

	var rec BuildRecord
	var builtAt string
	var changed int
	if err := row.Scan(&rec.Recipe, &rec.Checksum, (*string)(&rec.Outcome), &builtAt, &changed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reading build record for %s: %w", name, err)
	}

	t, err := time.Parse(time.RFC3339Nano, builtAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt built_at for %s: %w", name, err)
	}
	rec.BuiltAt = t
	rec.Changed = changed != 0
	return &rec, nil
}

// Record upserts the build record for a recipe and flags it changed so
// dependents are invalidated on their next evaluation.
func (s *Store) Record(ctx context.Context, r *recipe.Recipe, outcome Outcome) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_records (recipe, checksum, outcome, built_at, changed)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(recipe) DO UPDATE SET
			checksum = excluded.checksum,
			outcome  = excluded.outcome,
			built_at = excluded.built_at,
			changed  = 1`,
		r.Name, r.ContentChecksum, string(outcome), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording build outcome for %s: %w", r.Name, err)
	}
	return nil
}

// All returns every build record, for status reporting.
func (s *Store) All(ctx context.Context) ([]*BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipe, checksum, outcome, built_at, changed FROM build_records ORDER BY recipe`)
	if err != nil {
		return nil, fmt.Errorf("listing build records: %w", err)
	}
	defer rows.Close()

	var records []*BuildRecord
	for rows.Next() {
		var rec BuildRecord
		var builtAt string
		var changed int
		if err := rows.Scan(&rec.Recipe, &rec.Checksum, (*string)(&rec.Outcome), &builtAt, &changed); err != nil {
			return nil, fmt.Errorf("scanning build record: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, builtAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt built_at for %s: %w", rec.Recipe, err)
		}
		rec.BuiltAt = t
		rec.Changed = changed != 0
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
