package projections

import (
	"context"
	"errors"
	"fmt"

	dispatchStore "leadmailer/internal/adapters/storage/dispatch"
	"leadmailer/internal/application/orchestrators"
	"leadmailer/internal/domain/dispatch"
	"leadmailer/internal/domain/export"
)

// ErrRunNotFound is returned when a run is neither live nor in history.
var ErrRunNotFound = errors.New("dispatch run not found")

// DefaultHistoryLimit caps the history listing when no limit is given.
const DefaultHistoryLimit = 50

// DispatchHistoryStore reads finished runs.
type DispatchHistoryStore interface {
	ListRuns(ctx context.Context, limit int) ([]dispatch.Summary, error)
	GetRun(ctx context.Context, runID string) (dispatch.Summary, error)
	GetEvents(ctx context.Context, runID string) ([]dispatch.SendEvent, error)
}

// DispatchStatusDeps holds dependencies for the dispatch projections.
type DispatchStatusDeps struct {
	Registry *orchestrators.RunRegistry
	History  DispatchHistoryStore // optional
}

// DispatchStatus is the read model for one run.
type DispatchStatus struct {
	Subject  string               `json:"subject"`
	Progress dispatch.Progress    `json:"progress"`
	Events   []dispatch.SendEvent `json:"events"`
	Live     bool                 `json:"live"`
}

// QueryDispatchStatus returns progress and the event log of a run, preferring
// the live registry and falling back to stored history.
// PRE: runID is non-empty
// POST: Returns ErrRunNotFound if neither source knows the run
func QueryDispatchStatus(ctx context.Context, runID string, deps DispatchStatusDeps) (DispatchStatus, error) {
	if deps.Registry != nil {
		if run, ok := deps.Registry.Get(runID); ok {
			return DispatchStatus{
				Subject:  run.Subject(),
				Progress: run.Progress(),
				Events:   run.Events(),
				Live:     true,
			}, nil
		}
	}
	summary, events, err := loadHistory(ctx, runID, deps.History)
	if err != nil {
		return DispatchStatus{}, err
	}
	return DispatchStatus{
		Subject:  summary.Subject,
		Progress: progressFromSummary(summary),
		Events:   events,
	}, nil
}

// QueryDispatchHistory lists finished runs, most recent first.
func QueryDispatchHistory(ctx context.Context, limit int, deps DispatchStatusDeps) ([]dispatch.Summary, error) {
	if deps.History == nil {
		return []dispatch.Summary{}, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return deps.History.ListRuns(ctx, limit)
}

// DispatchReport is a rendered CSV report ready for download.
type DispatchReport struct {
	Filename string
	Content  []byte
	Digest   string
}

// QueryDispatchReport renders the CSV report for a run from its event log.
// PRE: runID is non-empty
// POST: Content is byte-identical for the same log; Digest is its BLAKE3 hex sum
func QueryDispatchReport(ctx context.Context, runID string, deps DispatchStatusDeps) (DispatchReport, error) {
	status, err := QueryDispatchStatus(ctx, runID, deps)
	if err != nil {
		return DispatchReport{}, err
	}
	content, err := export.RenderDispatchReport(status.Events)
	if err != nil {
		return DispatchReport{}, fmt.Errorf("render report: %w", err)
	}
	return DispatchReport{
		Filename: export.DispatchReportFilename(status.Progress.StartedAt),
		Content:  content,
		Digest:   export.Digest(content),
	}, nil
}

func loadHistory(ctx context.Context, runID string, store DispatchHistoryStore) (dispatch.Summary, []dispatch.SendEvent, error) {
	if store == nil {
		return dispatch.Summary{}, nil, ErrRunNotFound
	}
	summary, err := store.GetRun(ctx, runID)
	if errors.Is(err, dispatchStore.ErrNotFound) {
		return dispatch.Summary{}, nil, ErrRunNotFound
	}
	if err != nil {
		return dispatch.Summary{}, nil, err
	}
	events, err := store.GetEvents(ctx, runID)
	if err != nil {
		return dispatch.Summary{}, nil, err
	}
	return summary, events, nil
}

// progressFromSummary rebuilds the final progress of a stored run.
func progressFromSummary(s dispatch.Summary) dispatch.Progress {
	return dispatch.Progress{
		RunID:     s.RunID,
		Total:     s.Total,
		Sent:      s.Sent,
		Failed:    s.Failed,
		Pending:   s.Pending(),
		Completed: true,
		Cancelled: s.Cancelled,
		StartedAt: s.StartedAt,
		UpdatedAt: s.FinishedAt,
	}
}
