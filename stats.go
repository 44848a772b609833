package main

import (
	"context"
	"fmt"
)

// Stats summarises stored classifications.
type Stats struct {
	CountMutant int      `json:"count_mutant_dna"`
	CountHuman  int      `json:"count_human_dna"`
	Ratio       *float64 `json:"ratio"` // nil when no human DNA is stored
}

// ComputeStats counts mutant and human records and derives their ratio.
func ComputeStats(ctx context.Context, store RecordStore) (Stats, error) {
	mutants, err := store.CountWhere(ctx, true)
	if err != nil {
		return Stats{}, fmt.Errorf("count mutants: %w", err)
	}
	humans, err := store.CountWhere(ctx, false)
	if err != nil {
		return Stats{}, fmt.Errorf("count humans: %w", err)
	}

	st := Stats{CountMutant: mutants, CountHuman: humans}
	if humans > 0 {
		ratio := float64(mutants) / float64(humans)
		st.Ratio = &ratio
	}
	return st, nil
}
