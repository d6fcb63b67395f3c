package email

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks leadmailer/internal/adapters/email Sender

// SendRequest contains the data needed to send one email via an external provider.
type SendRequest struct {
	To      []string // Recipient email addresses
	From    string   // Sender address (e.g. "Ventas <ventas@example.com>")
	Subject string
	HTML    string // HTML body
	Text    string // Plain-text alternative
	ReplyTo string // Reply-to address
}

// SendResult contains the response from the email provider.
type SendResult struct {
	MessageID string    // Provider's message ID for tracking
	SentAt    time.Time // When the send was accepted
}

// Sender delivers exactly one message per call. Any returned error means the
// message was not accepted by the provider.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}
