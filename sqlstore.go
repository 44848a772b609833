package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS dna_records (
	sequence   TEXT PRIMARY KEY,
	size       INTEGER NOT NULL,
	is_mutant  BOOLEAN NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS dna_records_is_mutant ON dna_records (is_mutant);`

// SQLStore keeps records in a sqlite database.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore connects to the sqlite database at path and creates the
// schema if needed.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	// URI filenames have to begin with 'file:'.
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Find returns the record for key, or nil if not found.
func (s *SQLStore) Find(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec,
		`SELECT sequence, size, is_mutant, created_at FROM dna_records WHERE sequence = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return &rec, nil
}

// Insert saves rec. A concurrent insert of the same sequence is ignored.
func (s *SQLStore) Insert(ctx context.Context, rec *Record) error {
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO dna_records (sequence, size, is_mutant, created_at)
		 VALUES (:sequence, :size, :is_mutant, :created_at)
		 ON CONFLICT (sequence) DO NOTHING`, &cp)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// CountWhere counts records with the given outcome.
func (s *SQLStore) CountWhere(ctx context.Context, isMutant bool) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM dna_records WHERE is_mutant = ?`, isMutant); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
