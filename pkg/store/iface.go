// iface.go defines the TraceStore interface used by the trace probe and the
// CLI, so they can be tested against fakes.
package store

import (
	"context"

	"github.com/daviddao/levelsim/pkg/clock"
)

// TraceStore defines the trace operations. *Store implements it.
type TraceStore interface {
	// Close closes the database connection.
	Close() error

	// --- Runs ---

	// BeginRun records the start of a run.
	BeginRun(ctx context.Context, id, name string) (*Run, error)

	// EndRun records how a run ended.
	EndRun(ctx context.Context, id, outcome string, final clock.Time, rounds int, errMsg string) error

	// GetRun retrieves a run by ID.
	GetRun(id string) (*Run, error)

	// ListRuns returns the most recent runs first.
	ListRuns(limit int) ([]Run, error)

	// --- Observations ---

	// InsertObservations appends the observations of one instant.
	InsertObservations(ctx context.Context, obs []Observation) error

	// ListObservations returns observations with time >= since.
	ListObservations(runID string, since clock.Time, limit int) ([]Observation, error)

	// ListObservationsSinceID returns observations with row ID > sinceID.
	ListObservationsSinceID(runID string, sinceID int64, limit int) ([]Observation, error)

	// CountObservations returns the number of observations of a run.
	CountObservations(runID string) int64
}

var _ TraceStore = (*Store)(nil)
