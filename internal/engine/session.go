// Package engine is a small dataframe layer over an embedded DuckDB database.
//
// Tables are lazy: every derived Table is a DuckDB view over its parent, and
// nothing is computed until a table is counted, scanned or written. Loaded
// inputs are materialized once so that later stages do not re-read files.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// Config holds engine session settings.
type Config struct {
	// DBPath is the DuckDB database file. Empty uses an in-memory database.
	DBPath string
	// Threads caps DuckDB worker threads. Zero keeps DuckDB's default.
	Threads int
	// MemoryLimit is passed to DuckDB verbatim, e.g. "4GB". Empty keeps the default.
	MemoryLimit string
	// TempDir is where DuckDB spills when MemoryLimit is exceeded.
	TempDir string
}

// Session owns a DuckDB connection pool and the relations created on it.
type Session struct {
	db  *sql.DB
	seq atomic.Int64
}

// NewSession opens DuckDB and applies cfg.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, newError(KindInfrastructure, "open duckdb", err)
	}

	// Verify connection works
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, newError(KindInfrastructure, "ping duckdb", err)
	}

	s := &Session{db: db}

	if err := s.applySettings(ctx, cfg); err != nil {
		db.Close()
		return nil, newError(KindInfrastructure, "apply settings", err)
	}

	return s, nil
}

func (s *Session) applySettings(ctx context.Context, cfg Config) error {
	var statements []string
	if cfg.Threads > 0 {
		statements = append(statements, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if cfg.MemoryLimit != "" {
		statements = append(statements, "SET memory_limit = "+quoteLiteral(cfg.MemoryLimit))
	}
	if cfg.TempDir != "" {
		statements = append(statements, "SET temp_directory = "+quoteLiteral(cfg.TempDir))
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Session) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Session) DB() *sql.DB {
	return s.db
}

// nextName returns a fresh relation name for a derived table.
func (s *Session) nextName() string {
	return fmt.Sprintf("songlake_rel_%d", s.seq.Add(1))
}
