package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	emailAdapter "leadmailer/internal/adapters/email"
	"leadmailer/internal/domain/audit"
	"leadmailer/internal/domain/dispatch"
	emailDomain "leadmailer/internal/domain/email"
	"leadmailer/internal/domain/export"
	"leadmailer/internal/domain/recipient"
)

// RecipientSource resolves lead ids to an immutable batch.
type RecipientSource interface {
	GetRecipients(ctx context.Context, ids []string) ([]recipient.Recipient, error)
}

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, summary dispatch.Summary, events []dispatch.SendEvent) error
}

// AuditEventSaver stores operator actions on runs.
type AuditEventSaver interface {
	Save(ctx context.Context, event audit.Event) error
}

// historyTimeout bounds the write of a finished run's history.
const historyTimeout = 10 * time.Second

// --- Start Dispatch ---

// StartDispatchInput carries input for starting a run over stored leads.
type StartDispatchInput struct {
	LeadIDs  []string
	Template emailDomain.Template
	ActorID  string
}

// StartDispatchDeps holds dependencies for StartDispatch.
type StartDispatchDeps struct {
	Recipients RecipientSource
	Transport  emailAdapter.Sender
	Audit      AuditRecorder    // per-send interactions; optional
	Events     AuditEventSaver  // operator actions; optional
	Observer   DispatchObserver // optional
	Runs       RunStore         // optional
	Registry   *RunRegistry
	Options    DispatchOptions
	Now        func() time.Time
	GenerateID func() string
}

// ExecuteStartDispatch resolves the leads, starts the run and registers it.
// The batch size is checked before the recipient source is queried.
// PRE: LeadIDs is non-empty
// POST: Returns a registered, running DispatchRun; on finish its summary and
// event log are saved to Runs
func ExecuteStartDispatch(ctx context.Context, input StartDispatchInput, deps StartDispatchDeps) (*DispatchRun, error) {
	ids := normalizeIDs(input.LeadIDs)
	if len(ids) == 0 {
		return nil, dispatch.ErrNoRecipients
	}
	if limit := deps.Options.maxBatch(); len(ids) > limit {
		return nil, fmt.Errorf("%w: %d recipients, maximum is %d", dispatch.ErrBatchTooLarge, len(ids), limit)
	}
	if err := input.Template.Validate(); err != nil {
		return nil, err
	}

	recipients, err := deps.Recipients.GetRecipients(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	run, err := StartBulkDispatch(ctx, BulkDispatchInput{
		Recipients: recipients,
		Template:   input.Template,
		Options:    deps.Options,
	}, BulkDispatchDeps{
		Transport:  deps.Transport,
		Audit:      deps.Audit,
		Observer:   deps.Observer,
		Now:        deps.Now,
		GenerateID: deps.GenerateID,
		OnFinish:   saveHistory(deps.Runs),
	})
	if err != nil {
		return nil, err
	}
	if deps.Registry != nil {
		deps.Registry.Add(run)
	}
	recordAction(ctx, deps.Events, input.ActorID, audit.ActionStart, run.ID(),
		fmt.Sprintf(`{"recipients":%d}`, len(recipients)))
	return run, nil
}

// saveHistory returns the OnFinish hook that persists a finished run.
func saveHistory(store RunStore) func(*DispatchRun) {
	if store == nil {
		return nil
	}
	return func(run *DispatchRun) {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()

		events := run.Events()
		summary := dispatch.SummaryFromProgress(run.Progress(), run.Subject())
		if report, err := export.RenderDispatchReport(events); err == nil {
			summary.ReportDigest = export.Digest(report)
		}
		if err := store.SaveRun(ctx, summary, events); err != nil {
			slog.Error("dispatch_history_save_failed", "run_id", run.ID(), "error", err)
			return
		}
		slog.Info("dispatch_history_saved", "run_id", run.ID(), "events", len(events))
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// --- Control Dispatch ---

// ControlAction is an operator command on a live run.
type ControlAction string

// Supported control actions.
const (
	ControlPause  ControlAction = "pause"
	ControlResume ControlAction = "resume"
	ControlCancel ControlAction = "cancel"
)

// ErrUnknownAction is returned for an unsupported control action.
var ErrUnknownAction = errors.New("unknown dispatch action")

// ControlDispatchInput carries input for pausing, resuming or cancelling a run.
type ControlDispatchInput struct {
	RunID   string
	Action  ControlAction
	ActorID string
}

// ControlDispatchDeps holds dependencies for ControlDispatch.
type ControlDispatchDeps struct {
	Registry *RunRegistry
	Events   AuditEventSaver // optional
}

// ExecuteControlDispatch applies an operator action to a live run.
// PRE: RunID names a registered run
// POST: Returns the progress snapshot after the action
func ExecuteControlDispatch(ctx context.Context, input ControlDispatchInput, deps ControlDispatchDeps) (dispatch.Progress, error) {
	run, ok := deps.Registry.Get(input.RunID)
	if !ok {
		return dispatch.Progress{}, ErrRunNotFound
	}

	var action audit.Action
	switch input.Action {
	case ControlPause:
		run.Pause()
		action = audit.ActionPause
	case ControlResume:
		run.Resume()
		action = audit.ActionResume
	case ControlCancel:
		run.Cancel()
		action = audit.ActionCancel
	default:
		return dispatch.Progress{}, fmt.Errorf("%w: %q", ErrUnknownAction, input.Action)
	}

	p := run.Progress()
	slog.Info("dispatch_control", "run_id", run.ID(), "action", string(input.Action), "actor_id", input.ActorID)
	recordAction(ctx, deps.Events, input.ActorID, action, run.ID(),
		fmt.Sprintf(`{"sent":%d,"failed":%d,"pending":%d}`, p.Sent, p.Failed, p.Pending))
	return p, nil
}

// recordAction writes an operator audit event; failures are logged only.
func recordAction(ctx context.Context, store AuditEventSaver, actorID string, action audit.Action, runID, metadata string) {
	if store == nil {
		return
	}
	ev := audit.NewEvent(actorID, audit.CategoryDispatch, action).
		WithResource("dispatch_run", runID).
		WithMetadata(metadata)
	if action == audit.ActionCancel {
		ev = ev.WithSeverity(audit.SeverityWarning)
	}
	if err := store.Save(ctx, ev); err != nil {
		slog.Error("dispatch_action_audit_failed", "run_id", runID, "action", string(action), "error", err)
	}
}
