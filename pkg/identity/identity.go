// Package identity generates identifiers for definitions, instances, activity instances and bookmarks.
package identity

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator interface {
	NewID() string
}

// UUIDGenerator generates time-ordered UUIDv7 identifiers.
type UUIDGenerator struct{}

// NewID returns a new UUIDv7, falling back to a random UUIDv4 if the clock source fails.
func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// Default is the generator used when none is configured.
var Default Generator = UUIDGenerator{}

// New returns a new identifier from the default generator.
func New() string {
	return Default.NewID()
}

// SequenceGenerator returns predictable identifiers ("<prefix>1", "<prefix>2", ...). Used by tests.
type SequenceGenerator struct {
	Prefix string
	next   atomic.Int64
}

func (g *SequenceGenerator) NewID() string {
	return g.Prefix + strconv.FormatInt(g.next.Add(1), 10)
}
