package email

import (
	"context"
	"log/slog"
	"time"

	"leadmailer/internal/adapters/http/perf"
)

// DefaultSlowSendMs is the threshold above which a send is logged as slow.
const DefaultSlowSendMs = 2000

// TimedSender wraps a Sender and records each call's duration.
type TimedSender struct {
	next      Sender
	name      string
	collector *perf.Collector
	threshold float64
}

// Compile-time check that *TimedSender satisfies Sender.
var _ Sender = (*TimedSender)(nil)

// NewTimedSender wraps next; name identifies the transport in perf output ("smtp", "resend").
// PRE: next is non-nil
// POST: Every Send is timed and recorded to collector when it is non-nil
func NewTimedSender(next Sender, name string, collector *perf.Collector) *TimedSender {
	return &TimedSender{
		next:      next,
		name:      name,
		collector: collector,
		threshold: DefaultSlowSendMs,
	}
}

// Send delegates to the wrapped sender.
func (t *TimedSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	start := time.Now()
	res, err := t.next.Send(ctx, req)
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0

	if durationMs >= t.threshold {
		slog.Warn("slow_send", "transport", t.name, "duration_ms", durationMs)
	}
	if t.collector != nil {
		t.collector.Record(perf.Entry{
			Kind:       perf.KindSend,
			Path:       "send:" + t.name,
			Failed:     err != nil,
			DurationMs: durationMs,
			Timestamp:  start,
		})
	}
	return res, err
}
