package main

import (
	"context"
	"sync"
	"time"
)

// Record is a stored classification.
type Record struct {
	Sequence  string    `db:"sequence" json:"sequence"`
	Size      int       `db:"size" json:"size"`
	IsMutant  bool      `db:"is_mutant" json:"is_mutant"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RecordStore persists classifications keyed by sequence.
type RecordStore interface {
	// Find returns the record for key, or nil if none exists.
	Find(ctx context.Context, key string) (*Record, error)
	// Insert stores rec. Inserting an existing key is a no-op.
	Insert(ctx context.Context, rec *Record) error
	// CountWhere counts records with the given outcome.
	CountWhere(ctx context.Context, isMutant bool) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore holds all records in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Find returns a copy of the record for key, or nil if not found.
func (s *MemoryStore) Find(_ context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Insert saves rec unless its sequence is already stored.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[cp.Sequence]; !ok {
		s.records[cp.Sequence] = &cp
	}
	return nil
}

// CountWhere counts records with the given outcome.
func (s *MemoryStore) CountWhere(_ context.Context, isMutant bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if rec.IsMutant == isMutant {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
