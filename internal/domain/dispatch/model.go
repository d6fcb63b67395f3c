package dispatch

import (
	"errors"
	"math"
	"time"
)

// Status is the lifecycle state of a single send attempt.
type Status string

// Status constants for SendEvent lifecycle.
const (
	StatusSending Status = "sending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// DefaultMaxBatch is the recipient cap applied when none is configured.
const DefaultMaxBatch = 20

// Domain errors
var (
	ErrBatchTooLarge  = errors.New("batch exceeds maximum recipients per run")
	ErrNoRecipients   = errors.New("at least one recipient is required")
	ErrEventNotFound  = errors.New("send event not found")
	ErrEventFinalized = errors.New("send event already has a terminal status")
	ErrInvalidStatus  = errors.New("terminal status must be success or failed")
)

// IsTerminal reports whether s is success or failed.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// SendEvent is the per-recipient attempt record.
// Created as sending, patched exactly once to success or failed.
type SendEvent struct {
	ID            int64     `json:"id"`
	RecipientID   string    `json:"recipient_id"`
	RecipientName string    `json:"recipient_name"`
	Address       string    `json:"address"`
	Status        Status    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// Progress is a point-in-time view of a dispatch run.
// INVARIANT: Sent + Failed + Pending == Total
type Progress struct {
	RunID      string    `json:"run_id"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Pending    int       `json:"pending"`
	Paused     bool      `json:"paused"`
	Completed  bool      `json:"completed"`
	Cancelled  bool      `json:"cancelled"`
	ETASeconds int       `json:"eta_seconds"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewProgress creates the initial progress for a run of total recipients.
// POST: Pending == Total, all other counters zero
func NewProgress(runID string, total int, startedAt time.Time) Progress {
	return Progress{
		RunID:     runID,
		Total:     total,
		Pending:   total,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	}
}

// Attempted returns the number of attempts with a terminal outcome.
func (p Progress) Attempted() int {
	return p.Sent + p.Failed
}

// Record applies one terminal outcome and recomputes pending and ETA.
// PRE: status is terminal; Pending > 0
// POST: exactly one of Sent/Failed incremented; invariant holds
func (p *Progress) Record(status Status, now time.Time) error {
	switch status {
	case StatusSuccess:
		p.Sent++
	case StatusFailed:
		p.Failed++
	default:
		return ErrInvalidStatus
	}
	p.Pending = p.Total - p.Sent - p.Failed
	p.UpdatedAt = now
	p.ETASeconds = EstimateRemaining(now.Sub(p.StartedAt), p.Attempted(), p.Pending)
	return nil
}

// EstimateRemaining projects seconds left from the average time per completed attempt.
// Returns 0 when nothing has completed yet or nothing is pending.
func EstimateRemaining(elapsed time.Duration, completed, pending int) int {
	if completed <= 0 || pending <= 0 || elapsed <= 0 {
		return 0
	}
	perAttempt := elapsed.Seconds() / float64(completed)
	return int(math.Ceil(perAttempt * float64(pending)))
}

// Finish marks the run as terminal. Pending is left untouched so
// never-attempted recipients stay visible after a cancel.
func (p *Progress) Finish(cancelled bool, now time.Time) {
	p.Completed = true
	p.Paused = false
	p.Cancelled = cancelled
	p.ETASeconds = 0
	p.UpdatedAt = now
}

// Summary is the persisted record of a finished run.
type Summary struct {
	RunID        string    `json:"run_id"`
	Subject      string    `json:"subject"`
	Total        int       `json:"total"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	Cancelled    bool      `json:"cancelled"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ReportDigest string    `json:"report_digest,omitempty"`
}

// SummaryFromProgress builds the history record for a finished run.
func SummaryFromProgress(p Progress, subject string) Summary {
	return Summary{
		RunID:      p.RunID,
		Subject:    subject,
		Total:      p.Total,
		Sent:       p.Sent,
		Failed:     p.Failed,
		Cancelled:  p.Cancelled,
		StartedAt:  p.StartedAt,
		FinishedAt: p.UpdatedAt,
	}
}

// Pending returns how many recipients were never attempted.
func (s Summary) Pending() int {
	return s.Total - s.Sent - s.Failed
}
