package email

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// NoopSender accepts every message without delivering it. It is the default
// transport outside production so a dispatch can be rehearsed end to end.
type NoopSender struct {
	now func() time.Time
}

// NewNoopSender creates a NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{now: time.Now}
}

// Send logs what would have been delivered and returns a message id derived
// from the rendered message, so the same recipient and content always map to
// the same id.
// PRE: req has at least one recipient
// POST: Nothing leaves the process; MessageID is "noop-" plus 16 hex chars
func (s *NoopSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if len(req.To) == 0 {
		return SendResult{}, errors.New("noop send failed: no recipient address")
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	id := noopMessageID(req)
	slog.Info("noop_email_send",
		"message_id", id,
		"to", req.To,
		"subject", req.Subject,
		"html_bytes", len(req.HTML),
		"text_bytes", len(req.Text),
	)
	return SendResult{MessageID: id, SentAt: s.now()}, nil
}

func noopMessageID(req SendRequest) string {
	h := blake3.New()
	for _, part := range []string{strings.Join(req.To, ","), req.Subject, req.HTML, req.Text} {
		h.WriteString(part)
		h.WriteString("\x00")
	}
	return "noop-" + hex.EncodeToString(h.Sum(nil)[:8])
}
