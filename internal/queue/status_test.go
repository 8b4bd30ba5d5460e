package queue_test

import (
	"testing"

	"jobmate/pipeline/internal/queue"
)

// ── ParseStatus ────────────────────────────────────────────────────────────

func TestParseStatus_ValidValues(t *testing.T) {
	valid := []string{"waiting", "active", "completed", "failed", "delayed"}
	for _, s := range valid {
		got, err := queue.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatus_InvalidValues(t *testing.T) {
	for _, s := range []string{"", "WAITING", "paused", " active"} {
		if _, err := queue.ParseStatus(s); err == nil {
			t.Errorf("ParseStatus(%q) expected error, got nil", s)
		}
	}
}

// ── IsTransitionAllowed ────────────────────────────────────────────────────

func TestIsTransitionAllowed_ValidPaths(t *testing.T) {
	cases := []struct{ from, to queue.Status }{
		{queue.StatusWaiting, queue.StatusActive},
		{queue.StatusActive, queue.StatusCompleted},
		{queue.StatusActive, queue.StatusFailed},
		{queue.StatusActive, queue.StatusDelayed},
		{queue.StatusDelayed, queue.StatusWaiting},
	}
	for _, c := range cases {
		if !queue.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) = false, want true", c.from, c.to)
		}
	}
}

func TestIsTransitionAllowed_InvalidPaths(t *testing.T) {
	cases := []struct{ from, to queue.Status }{
		{queue.StatusWaiting, queue.StatusCompleted},
		{queue.StatusWaiting, queue.StatusFailed},
		{queue.StatusActive, queue.StatusWaiting},
		{queue.StatusDelayed, queue.StatusActive},
		{queue.StatusActive, queue.StatusActive},
	}
	for _, c := range cases {
		if queue.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) = true, want false", c.from, c.to)
		}
	}
}

func TestIsTransitionAllowed_TerminalStates(t *testing.T) {
	all := []queue.Status{queue.StatusWaiting, queue.StatusActive, queue.StatusCompleted, queue.StatusFailed, queue.StatusDelayed}
	for _, terminal := range []queue.Status{queue.StatusCompleted, queue.StatusFailed} {
		if !queue.IsTerminal(terminal) {
			t.Errorf("IsTerminal(%s) = false, want true", terminal)
		}
		for _, to := range all {
			if queue.IsTransitionAllowed(terminal, to) {
				t.Errorf("terminal state %s must not transition to %s", terminal, to)
			}
		}
	}
	if queue.IsTerminal(queue.StatusDelayed) {
		t.Error("IsTerminal(delayed) = true, want false")
	}
}

// ── Kinds and policies ─────────────────────────────────────────────────────

func TestParseKind(t *testing.T) {
	for _, k := range queue.Kinds() {
		got, err := queue.ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := queue.ParseKind("send-sms"); err == nil {
		t.Error("ParseKind(\"send-sms\") expected error, got nil")
	}
}
