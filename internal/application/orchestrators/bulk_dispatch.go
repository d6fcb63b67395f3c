package orchestrators

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	emailAdapter "leadmailer/internal/adapters/email"
	"leadmailer/internal/domain/dispatch"
	emailDomain "leadmailer/internal/domain/email"
	"leadmailer/internal/domain/recipient"
	"leadmailer/internal/metrics"
)

// DefaultSendDelay is the pause between consecutive sends when none is configured.
const DefaultSendDelay = time.Second

// AuditRecorder records one interaction per successful send.
type AuditRecorder interface {
	Record(ctx context.Context, recipientID, subject string) error
}

// DispatchObserver receives immutable snapshots as a run progresses.
// Calls are serialized per run. Implementations must not block for long and
// must not call Pause, Resume or Cancel on the run being observed.
type DispatchObserver interface {
	OnEvent(runID string, ev dispatch.SendEvent)
	OnProgress(p dispatch.Progress)
}

// DispatchOptions tunes one run.
type DispatchOptions struct {
	MaxBatch  int           // recipients per run; <= 0 means dispatch.DefaultMaxBatch
	SendDelay time.Duration // wait between sends; <= 0 means none
	From      string
	ReplyTo   string
}

func (o DispatchOptions) maxBatch() int {
	if o.MaxBatch <= 0 {
		return dispatch.DefaultMaxBatch
	}
	return o.MaxBatch
}

// BulkDispatchInput carries the batch and template for one run.
type BulkDispatchInput struct {
	Recipients []recipient.Recipient
	Template   emailDomain.Template
	Options    DispatchOptions
}

// BulkDispatchDeps holds dependencies for StartBulkDispatch.
type BulkDispatchDeps struct {
	Transport  emailAdapter.Sender
	Audit      AuditRecorder    // optional
	Observer   DispatchObserver // optional
	Now        func() time.Time
	GenerateID func() string
	OnFinish   func(run *DispatchRun) // optional; runs before Done is closed
}

// DispatchRun is the handle to one running batch.
// INVARIANT: progress.Sent + progress.Failed + progress.Pending == progress.Total
type DispatchRun struct {
	id         string
	subject    string
	recipients []recipient.Recipient
	tpl        emailDomain.Template
	opts       DispatchOptions
	deps       BulkDispatchDeps
	log        *dispatch.EventLog

	// emitMu orders state changes with their observer notifications.
	emitMu sync.Mutex

	mu       sync.Mutex
	progress dispatch.Progress
	resumeCh chan struct{} // non-nil while paused; closed on resume

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}

	audits        sync.WaitGroup
	auditFailures atomic.Int64
}

// StartBulkDispatch validates the batch and template, then sends to every
// recipient in order on a background goroutine. The run is detached from
// ctx cancellation; use Cancel to stop it.
// PRE: deps.Transport is non-nil
// POST: Returns dispatch.ErrNoRecipients, dispatch.ErrBatchTooLarge or an
// email.ErrInvalidTemplate error before any send, or a started run
func StartBulkDispatch(ctx context.Context, input BulkDispatchInput, deps BulkDispatchDeps) (*DispatchRun, error) {
	if len(input.Recipients) == 0 {
		return nil, dispatch.ErrNoRecipients
	}
	if limit := input.Options.maxBatch(); len(input.Recipients) > limit {
		metrics.BatchesRejected.Add(1)
		return nil, fmt.Errorf("%w: %d recipients, maximum is %d", dispatch.ErrBatchTooLarge, len(input.Recipients), limit)
	}
	tpl, err := input.Template.Compile()
	if err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("dispatch transport is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.GenerateID == nil {
		deps.GenerateID = func() string { return uuid.New().String() }
	}

	run := &DispatchRun{
		id:         deps.GenerateID(),
		subject:    tpl.Subject,
		recipients: recipient.CloneAll(input.Recipients),
		tpl:        tpl,
		opts:       input.Options,
		deps:       deps,
		log:        dispatch.NewEventLog(len(input.Recipients)),
		cancelCh:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	run.progress = dispatch.NewProgress(run.id, len(run.recipients), deps.Now())

	metrics.RunStarted()
	slog.Info("dispatch_run_started", "run_id", run.id, "recipients", len(run.recipients), "subject", run.subject)
	run.update(func(*dispatch.Progress) bool { return true })

	go run.loop(context.WithoutCancel(ctx))
	return run, nil
}

// ID returns the run identifier.
func (r *DispatchRun) ID() string { return r.id }

// Subject returns the unrendered subject template.
func (r *DispatchRun) Subject() string { return r.subject }

// Progress returns a snapshot of the run's counters.
func (r *DispatchRun) Progress() dispatch.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Events returns the event log in attempt order.
func (r *DispatchRun) Events() []dispatch.SendEvent {
	return r.log.Snapshot()
}

// Done is closed once the run has finished and its audit calls have drained.
func (r *DispatchRun) Done() <-chan struct{} { return r.done }

// AuditFailures returns how many audit records could not be written.
func (r *DispatchRun) AuditFailures() int {
	return int(r.auditFailures.Load())
}

// Wait blocks until the run finishes or ctx ends.
// POST: Returns Result() once the run is done
func (r *DispatchRun) Wait(ctx context.Context) (bool, error) {
	select {
	case <-r.done:
		return r.Result(), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Result reports whether at least one message was delivered.
func (r *DispatchRun) Result() bool {
	return r.Progress().Sent > 0
}

// Pause stops the loop before its next recipient. The send in flight, if
// any, completes normally. Pausing a paused or finished run is a no-op.
func (r *DispatchRun) Pause() {
	r.update(func(p *dispatch.Progress) bool {
		if p.Completed || r.resumeCh != nil {
			return false
		}
		r.resumeCh = make(chan struct{})
		p.Paused = true
		p.UpdatedAt = r.deps.Now()
		return true
	})
}

// Resume releases a paused loop. Resuming a running run is a no-op.
func (r *DispatchRun) Resume() {
	r.update(func(p *dispatch.Progress) bool {
		if r.resumeCh == nil {
			return false
		}
		close(r.resumeCh)
		r.resumeCh = nil
		p.Paused = false
		p.UpdatedAt = r.deps.Now()
		return true
	})
}

// Cancel stops the run before its next recipient, including while paused.
// Never-attempted recipients stay pending. Cancelling a finished run is a no-op.
func (r *DispatchRun) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

func (r *DispatchRun) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// update applies fn under the state lock and publishes the resulting
// snapshot when fn reports a change.
func (r *DispatchRun) update(fn func(p *dispatch.Progress) bool) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	changed := fn(&r.progress)
	snap := r.progress
	r.mu.Unlock()

	if changed && r.deps.Observer != nil {
		r.deps.Observer.OnProgress(snap)
	}
}

func (r *DispatchRun) emitEvent(ev dispatch.SendEvent) {
	if r.deps.Observer == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.deps.Observer.OnEvent(r.id, ev)
}

func (r *DispatchRun) loop(ctx context.Context) {
	stoppedEarly := false
	for i, rc := range r.recipients {
		if !r.awaitTurn() {
			stoppedEarly = true
			break
		}
		r.attempt(ctx, rc)
		if i < len(r.recipients)-1 && !r.sleepBetweenSends() {
			stoppedEarly = true
			break
		}
	}

	r.update(func(p *dispatch.Progress) bool {
		if r.resumeCh != nil {
			close(r.resumeCh)
			r.resumeCh = nil
		}
		p.Finish(stoppedEarly, r.deps.Now())
		return true
	})
	final := r.Progress()

	metrics.RunFinished()
	slog.Info("dispatch_run_finished",
		"run_id", r.id,
		"sent", final.Sent,
		"failed", final.Failed,
		"pending", final.Pending,
		"cancelled", final.Cancelled,
	)

	r.audits.Wait()
	if r.deps.OnFinish != nil {
		r.deps.OnFinish(r)
	}
	close(r.done)
}

// awaitTurn returns false when the run was cancelled. While paused it parks
// on the resume channel until resumed or cancelled.
func (r *DispatchRun) awaitTurn() bool {
	for {
		if r.cancelled() {
			return false
		}
		r.mu.Lock()
		resume := r.resumeCh
		r.mu.Unlock()
		if resume == nil {
			return true
		}
		slog.Info("dispatch_run_paused", "run_id", r.id)
		select {
		case <-resume:
			slog.Info("dispatch_run_resumed", "run_id", r.id)
		case <-r.cancelCh:
			return false
		}
	}
}

// sleepBetweenSends waits SendDelay; only Cancel cuts it short.
func (r *DispatchRun) sleepBetweenSends() bool {
	if r.opts.SendDelay <= 0 {
		return !r.cancelled()
	}
	t := time.NewTimer(r.opts.SendDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.cancelCh:
		return false
	}
}

// attempt runs one recipient's turn: sending event, delivery, counters, audit.
func (r *DispatchRun) attempt(ctx context.Context, rc recipient.Recipient) {
	ev := r.log.Append(dispatch.SendEvent{
		RecipientID:   rc.ID,
		RecipientName: rc.Name,
		Address:       rc.Address,
		At:            r.deps.Now(),
	})
	r.emitEvent(ev)

	subject, status, reason := r.deliver(ctx, rc)
	now := r.deps.Now()

	r.update(func(p *dispatch.Progress) bool {
		if err := p.Record(status, now); err != nil {
			slog.Error("dispatch_progress_failed", "run_id", r.id, "error", err)
			return false
		}
		return true
	})
	done, err := r.log.Complete(ev.ID, status, reason, now)
	if err != nil {
		slog.Error("dispatch_event_complete_failed", "run_id", r.id, "event_id", ev.ID, "error", err)
		return
	}
	r.emitEvent(done)

	if status == dispatch.StatusSuccess {
		metrics.MessagesSent.Add(1)
		r.recordAudit(ctx, rc.ID, subject)
		return
	}
	metrics.MessagesFailed.Add(1)
	slog.Warn("dispatch_send_failed", "run_id", r.id, "recipient_id", rc.ID, "reason", reason)
}

// deliver renders and sends one message. Panics are converted to failures.
func (r *DispatchRun) deliver(ctx context.Context, rc recipient.Recipient) (subject string, status dispatch.Status, reason string) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("dispatch_send_panic", "run_id", r.id, "recipient_id", rc.ID, "panic", p)
			status, reason = dispatch.StatusFailed, fmt.Sprintf("transport panic: %v", p)
		}
	}()

	if strings.TrimSpace(rc.Address) == "" {
		return "", dispatch.StatusFailed, "recipient has no email address"
	}
	msg := emailDomain.Render(r.tpl, rc)
	_, err := r.deps.Transport.Send(ctx, emailAdapter.SendRequest{
		To:      []string{msg.To},
		From:    r.opts.From,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: r.opts.ReplyTo,
	})
	if err != nil {
		return msg.Subject, dispatch.StatusFailed, err.Error()
	}
	return msg.Subject, dispatch.StatusSuccess, ""
}

// recordAudit writes the interaction off the send loop. Failures are logged
// and counted, never reflected in the send outcome.
func (r *DispatchRun) recordAudit(ctx context.Context, recipientID, subject string) {
	if r.deps.Audit == nil {
		return
	}
	r.audits.Add(1)
	go func() {
		defer r.audits.Done()
		defer func() {
			if p := recover(); p != nil {
				r.auditFailed(recipientID, fmt.Errorf("audit panic: %v", p))
			}
		}()
		if err := r.deps.Audit.Record(ctx, recipientID, subject); err != nil {
			r.auditFailed(recipientID, err)
		}
	}()
}

func (r *DispatchRun) auditFailed(recipientID string, err error) {
	r.auditFailures.Add(1)
	metrics.AuditFailures.Add(1)
	slog.Error("dispatch_audit_failed", "run_id", r.id, "recipient_id", recipientID, "error", err)
}
