// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 run ids.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a UUID v7, so run ids sort by start time.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// Sequence hands out a fixed list of ids, then falls back to v7 ids.
// It is meant for tests that assert on run ids.
type Sequence struct {
	ids []uuid.UUID
}

// NewSequence returns a Sequence yielding ids in order.
func NewSequence(ids ...uuid.UUID) *Sequence {
	return &Sequence{ids: ids}
}

// NewRunID returns the next queued id.
func (s *Sequence) NewRunID() (uuid.UUID, error) {
	if len(s.ids) == 0 {
		return Generator{}.NewRunID()
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}
