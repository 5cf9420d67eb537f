package idserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/patient/internal/platform/db"
)

// Sequence hands out increasing numbers per kind, starting at 1.
type Sequence interface {
	Next(ctx context.Context, kind string) (int64, error)
}

// PGSequence keeps counters in the id_sequence table of the lab schema.
type PGSequence struct {
	pool *pgxpool.Pool
}

func NewPGSequence(pool *pgxpool.Pool) *PGSequence {
	return &PGSequence{pool: pool}
}

func (s *PGSequence) Next(ctx context.Context, kind string) (int64, error) {
	var n int64
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO id_sequence (kind, value) VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET value = id_sequence.value + 1
		RETURNING value`, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next %s sequence value: %w", kind, err)
	}
	return n, nil
}

// MemorySequence keeps counters in process memory. Values restart on every
// boot, so it only suits development and tests.
type MemorySequence struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemorySequence() *MemorySequence {
	return &MemorySequence{values: make(map[string]int64)}
}

func (s *MemorySequence) Next(_ context.Context, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[kind]++
	return s.values[kind], nil
}
