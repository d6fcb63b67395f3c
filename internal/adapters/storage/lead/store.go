package lead

import (
	"context"
	"errors"

	domain "leadmailer/internal/domain/recipient"
)

// ErrNotFound is returned when a requested lead id does not exist.
var ErrNotFound = errors.New("lead not found")

// Store defines the interface for lead persistence as seen by the mailer.
type Store interface {
	// GetRecipients resolves lead ids to recipients.
	// PRE: ids is non-empty
	// POST: Returns one recipient per id, in the order given
	GetRecipients(ctx context.Context, ids []string) ([]domain.Recipient, error)

	// Save inserts or replaces a lead.
	// PRE: r.ID is non-empty
	Save(ctx context.Context, r domain.Recipient) error
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
