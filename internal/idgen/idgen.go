// Package idgen provides swappable id generation so tests can substitute a
// seeded deterministic sequence for uuid.New, per spec.md §9.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string ids.
type Generator interface {
	NewID() string
}

// UUID is the production Generator, backed by github.com/google/uuid.
type UUID struct{}

func (UUID) NewID() string { return uuid.New().String() }

// Sequential is a deterministic Generator for tests: it emits
// "<prefix>-1", "<prefix>-2", ... in call order.
type Sequential struct {
	prefix string
	n      atomic.Int64
}

func NewSequential(prefix string) *Sequential { return &Sequential{prefix: prefix} }

func (s *Sequential) NewID() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1))
}
