package dispatch

import (
	"context"
	"errors"

	domain "leadmailer/internal/domain/dispatch"
)

// ErrNotFound is returned when a run id has no history record.
var ErrNotFound = errors.New("dispatch run not found")

// Store persists finished runs and their event logs.
type Store interface {
	// SaveRun writes the summary and every event atomically.
	// PRE: summary.RunID is non-empty; events are in attempt order
	// POST: GetRun and GetEvents return what was saved
	SaveRun(ctx context.Context, summary domain.Summary, events []domain.SendEvent) error

	// ListRuns returns the most recently finished runs first.
	// PRE: limit > 0
	ListRuns(ctx context.Context, limit int) ([]domain.Summary, error)

	// GetRun returns one run summary or ErrNotFound.
	GetRun(ctx context.Context, runID string) (domain.Summary, error)

	// GetEvents returns a run's event log in attempt order.
	GetEvents(ctx context.Context, runID string) ([]domain.SendEvent, error)
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
