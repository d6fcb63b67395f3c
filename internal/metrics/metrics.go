// Package metrics exposes process counters through expvar at /debug/vars.
package metrics

import "expvar"

var (
	MessagesSent    = expvar.NewInt("dispatch_messages_sent_total")
	MessagesFailed  = expvar.NewInt("dispatch_messages_failed_total")
	AuditFailures   = expvar.NewInt("dispatch_audit_failures_total")
	RunsStarted     = expvar.NewInt("dispatch_runs_started_total")
	BatchesRejected = expvar.NewInt("dispatch_batches_rejected_total")
	runsActive      = expvar.NewInt("dispatch_runs_active")
)

// RunStarted counts a new run and marks it active.
func RunStarted() {
	RunsStarted.Add(1)
	runsActive.Add(1)
}

// RunFinished marks a run as no longer active.
func RunFinished() {
	runsActive.Add(-1)
}

// RunsActive returns the number of runs currently in flight.
func RunsActive() int64 {
	return runsActive.Value()
}

// ResetForTests clears counters; intended for use in tests only.
func ResetForTests() {
	MessagesSent.Set(0)
	MessagesFailed.Set(0)
	AuditFailures.Set(0)
	RunsStarted.Set(0)
	BatchesRejected.Set(0)
	runsActive.Set(0)
}
