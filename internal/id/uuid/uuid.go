// Package uuid generates time-ordered run identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates UUID v7 run ids, which sort by creation time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// CreatedAt recovers the creation time embedded in a v7 run id.
func CreatedAt(runID string) (time.Time, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run id: %w", err)
	}
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("run id %s is version %d, want 7", runID, id.Version())
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
