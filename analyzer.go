package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrEmptyDNA is returned for a request without any rows.
var ErrEmptyDNA = errors.New("dna must contain at least one row")

// GridTooLargeError reports a grid above the configured size limit.
type GridTooLargeError struct {
	Size, Max int
}

func (e *GridTooLargeError) Error() string {
	return fmt.Sprintf("dna of size %d exceeds the limit of %d", e.Size, e.Max)
}

// Analyzer classifies sequences, reusing prior results from the store.
type Analyzer struct {
	store RecordStore
	log   *slog.Logger
	dna   DNAConfig

	// onStored is called after a new record has been inserted.
	onStored func(ctx context.Context, rec *Record)
}

// NewAnalyzer creates an analyzer backed by store.
func NewAnalyzer(store RecordStore, cfg DNAConfig, log *slog.Logger) *Analyzer {
	return &Analyzer{store: store, log: log, dna: cfg}
}

// validateGrid parses rows into a grid and checks its letters and size.
func validateGrid(rows []string, cfg DNAConfig) (*Grid, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyDNA
	}
	if cfg.MaxSize > 0 && len(rows) > cfg.MaxSize {
		return nil, &GridTooLargeError{Size: len(rows), Max: cfg.MaxSize}
	}
	g, err := NewGrid(rows)
	if err != nil {
		return nil, err
	}
	if err := g.ValidateBases(cfg.Alphabet); err != nil {
		return nil, err
	}
	return g, nil
}

// Analyze returns whether rows describe mutant DNA. Input errors are
// returned unwrapped so callers can match them with errors.As.
func (a *Analyzer) Analyze(ctx context.Context, rows []string) (bool, error) {
	g, err := validateGrid(rows, a.dna)
	if err != nil {
		return false, err
	}

	key := g.Key()
	rec, err := a.store.Find(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lookup sequence: %w", err)
	}
	if rec != nil {
		a.log.DebugContext(ctx, "sequence already classified", "size", rec.Size, "mutant", rec.IsMutant)
		return rec.IsMutant, nil
	}

	mutant := IsMutant(g)
	rec = &Record{Sequence: key, Size: g.Size(), IsMutant: mutant}
	if err := a.store.Insert(ctx, rec); err != nil {
		return false, fmt.Errorf("store classification: %w", err)
	}
	a.log.InfoContext(ctx, "sequence classified",
		"size", g.Size(), "policy", policyFor(g.Size()).String(), "mutant", mutant)

	if a.onStored != nil {
		a.onStored(ctx, rec)
	}
	return mutant, nil
}

// isInputError reports whether err was caused by the request content.
func isInputError(err error) bool {
	var shape *InvalidShapeError
	var base *InvalidBaseError
	var large *GridTooLargeError
	return errors.Is(err, ErrEmptyDNA) ||
		errors.As(err, &shape) ||
		errors.As(err, &base) ||
		errors.As(err, &large)
}
