// Package store persists every pipeline entity behind database/sql.
// It speaks plain portable SQL with $N placeholders so the same queries run
// on SQLite (the default, pure Go driver) and Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/normativhq/normativ/internal/model"
)

// Store wraps the database handle with typed accessors per entity
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects per config. SQLite connections are pinned to one so the
// queue's concurrent workers serialize on the driver instead of tripping
// over SQLITE_BUSY.
func Open(cfg model.StoreConfig) (*Store, error) {
	var driverName string
	switch cfg.Driver {
	case "", "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driverName, err)
	}
	if driverName == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driverName}, nil
}

// NewWithDB wraps an existing handle, used by tests with injected drivers
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	value TEXT NOT NULL,
	value_type TEXT NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	quotes TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS source_documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	authority TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	fetch_hash TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT 'text/plain',
	fetched_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	concept_slug TEXT NOT NULL,
	domain TEXT NOT NULL,
	title_hr TEXT NOT NULL DEFAULT '',
	title_en TEXT NOT NULL DEFAULT '',
	explanation_hr TEXT NOT NULL DEFAULT '',
	explanation_en TEXT NOT NULL DEFAULT '',
	risk_tier TEXT NOT NULL,
	authority TEXT NOT NULL,
	applies_when TEXT NOT NULL,
	value TEXT NOT NULL,
	value_type TEXT NOT NULL,
	effective_from TIMESTAMP NOT NULL,
	effective_until TIMESTAMP,
	supersedes_id TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	composition_key TEXT NOT NULL UNIQUE,
	review_reason TEXT NOT NULL DEFAULT '',
	review_priority INTEGER NOT NULL DEFAULT 0,
	review_deadline TIMESTAMP,
	approved_by TEXT NOT NULL DEFAULT '',
	approved_at TIMESTAMP,
	published_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_slug ON rules(concept_slug);
CREATE INDEX IF NOT EXISTS idx_rules_domain ON rules(domain);
CREATE INDEX IF NOT EXISTS idx_rules_status ON rules(status);

CREATE TABLE IF NOT EXISTS source_pointers (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	quote TEXT NOT NULL,
	confidence REAL NOT NULL,
	citation TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pointers_rule ON source_pointers(rule_id);

CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	description TEXT NOT NULL,
	concept_slug TEXT NOT NULL,
	detected_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP,
	resolution TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);

CREATE TABLE IF NOT EXISTS conflict_rules (
	conflict_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	PRIMARY KEY (conflict_id, rule_id)
);
CREATE INDEX IF NOT EXISTS idx_conflict_rules_rule ON conflict_rules(rule_id);

CREATE TABLE IF NOT EXISTS releases (
	id TEXT PRIMARY KEY,
	version TEXT NOT NULL UNIQUE,
	release_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	changelog_hr TEXT NOT NULL DEFAULT '',
	changelog_en TEXT NOT NULL DEFAULT '',
	approved_by TEXT NOT NULL,
	rule_ids TEXT NOT NULL,
	source_count INTEGER NOT NULL,
	pointer_count INTEGER NOT NULL,
	review_count INTEGER NOT NULL,
	human_approval_count INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	queue TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	run_at TIMESTAMP NOT NULL,
	leased_by TEXT NOT NULL DEFAULT '',
	leased_until TIMESTAMP,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_queue_status ON jobs(queue, status, run_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	subject_kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject_kind, subject_id);

CREATE TABLE IF NOT EXISTS taxonomy_aliases (
	alias TEXT PRIMARY KEY,
	canonical_slug TEXT NOT NULL,
	version TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Init applies the schema. Idempotent; safe on every startup.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// beginTx starts a transaction at the strictest isolation the driver
// honors. SQLite transactions are serializable already; asking its driver
// for a level it does not implement would fail the call.
func (s *Store) beginTx(ctx context.Context) (*sql.Tx, error) {
	if s.driver == "postgres" {
		return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	return s.db.BeginTx(ctx, nil)
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
