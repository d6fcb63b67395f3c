package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leadmailer/internal/adapters/storage"
	domain "leadmailer/internal/domain/dispatch"
)

const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `SELECT id, subject, total, sent, failed, cancelled, started_at, finished_at, report_digest FROM dispatch_run`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new dispatch history store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SaveRun writes the run and its events in one transaction.
// PRE: summary.RunID is non-empty
// POST: Either everything is stored or nothing is
func (s *SQLiteStore) SaveRun(ctx context.Context, summary domain.Summary, events []domain.SendEvent) error {
	if summary.RunID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dispatch_run (id, subject, total, sent, failed, cancelled, started_at, finished_at, report_digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, summary.Subject, summary.Total, summary.Sent, summary.Failed, boolToInt(summary.Cancelled),
		formatTime(summary.StartedAt), formatTime(summary.FinishedAt), summary.ReportDigest)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", summary.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dispatch_event (run_id, seq, recipient_id, recipient_name, address, status, reason, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, summary.RunID, ev.ID, ev.RecipientID, ev.RecipientName,
			ev.Address, string(ev.Status), ev.Reason, formatTime(ev.At)); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recently finished runs first.
// PRE: limit > 0
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Summary, error) {
	rows, err := s.db.QueryContext(ctx, runColumns+` ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Summary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run summary or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (domain.Summary, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Summary{}, ErrNotFound
	}
	return r, err
}

// GetEvents returns a run's event log in attempt order.
// POST: Returns an empty slice for a run without events
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string) ([]domain.SendEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, recipient_id, recipient_name, address, status, reason, at
		 FROM dispatch_event WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.SendEvent{}
	for rows.Next() {
		var ev domain.SendEvent
		var at string
		if err := rows.Scan(&ev.ID, &ev.RecipientID, &ev.RecipientName, &ev.Address, &ev.Status, &ev.Reason, &at); err != nil {
			return nil, err
		}
		ev.At, _ = time.Parse(dateLayout, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Summary, error) {
	var r domain.Summary
	var cancelled int
	var started, finished string
	if err := row.Scan(&r.RunID, &r.Subject, &r.Total, &r.Sent, &r.Failed, &cancelled, &started, &finished, &r.ReportDigest); err != nil {
		return domain.Summary{}, err
	}
	r.Cancelled = cancelled != 0
	r.StartedAt, _ = time.Parse(dateLayout, started)
	r.FinishedAt, _ = time.Parse(dateLayout, finished)
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
