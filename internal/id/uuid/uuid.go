// Package uuid generates run identifiers that correlate the log lines of one
// fetch.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings with an optional prefix.
type Generator struct {
	prefix string
}

// New returns a Generator. A non-empty prefix is joined with a dash, e.g.
// "fetch-0190f3...".
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a fresh identifier.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}
