package metrics

import "testing"

func TestMetricsCounters(t *testing.T) {
	ResetForTests()
	if MessagesSent.Value() != 0 {
		t.Fatalf("expected zero initial MessagesSent")
	}

	MessagesSent.Add(2)
	RunStarted()
	RunStarted()
	RunFinished()
	if MessagesSent.Value() != 2 {
		t.Fatalf("expected MessagesSent=2, got %d", MessagesSent.Value())
	}
	if RunsActive() != 1 {
		t.Fatalf("expected RunsActive=1, got %d", RunsActive())
	}
	if RunsStarted.Value() != 2 {
		t.Fatalf("expected RunsStarted=2, got %d", RunsStarted.Value())
	}

	ResetForTests()
	if RunsActive() != 0 {
		t.Fatalf("expected runsActive reset to 0")
	}
}
