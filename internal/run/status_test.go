package run_test

import (
	"testing"

	"jobmatch/matching-service/internal/run"
)

// ── ParseMatchingStatus / ParseRankingStatus ───────────────────────────────

func TestParseMatchingStatus_ValidValues(t *testing.T) {
	valid := []string{"PENDING", "FILTERING", "AGENT_RUNNING", "COMPLETED", "FAILED"}
	for _, s := range valid {
		got, err := run.ParseMatchingStatus(s)
		if err != nil {
			t.Errorf("ParseMatchingStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseMatchingStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseMatchingStatus_RankingOnlyValue(t *testing.T) {
	// RUNNING belongs to the ranking state machine only.
	if _, err := run.ParseMatchingStatus("RUNNING"); err == nil {
		t.Error("ParseMatchingStatus(\"RUNNING\") expected error, got nil")
	}
}

func TestParseRankingStatus_ValidValues(t *testing.T) {
	valid := []string{"PENDING", "RUNNING", "COMPLETED", "FAILED"}
	for _, s := range valid {
		got, err := run.ParseRankingStatus(s)
		if err != nil {
			t.Errorf("ParseRankingStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseRankingStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseRankingStatus_InvalidValues(t *testing.T) {
	for _, s := range []string{"FILTERING", "AGENT_RUNNING", "UNKNOWN", ""} {
		if _, err := run.ParseRankingStatus(s); err == nil {
			t.Errorf("ParseRankingStatus(%q) expected error, got nil", s)
		}
	}
}

// ── Matching transitions — valid forward path ──────────────────────────────

func TestIsMatchingTransitionAllowed_ValidForward(t *testing.T) {
	cases := []struct {
		from run.Status
		to   run.Status
	}{
		{run.StatusPending, run.StatusFiltering},
		{run.StatusFiltering, run.StatusAgentRunning},
		{run.StatusFiltering, run.StatusCompleted}, // empty filter result
		{run.StatusAgentRunning, run.StatusCompleted},
	}
	for _, c := range cases {
		if !run.IsMatchingTransitionAllowed(c.from, c.to) {
			t.Errorf("IsMatchingTransitionAllowed(%s → %s) should be true", c.from, c.to)
		}
	}
}

// ── Matching transitions — failure is reachable from every active state ────

func TestIsMatchingTransitionAllowed_ToFailed(t *testing.T) {
	active := []run.Status{run.StatusPending, run.StatusFiltering, run.StatusAgentRunning}
	for _, from := range active {
		if !run.IsMatchingTransitionAllowed(from, run.StatusFailed) {
			t.Errorf("IsMatchingTransitionAllowed(%s → FAILED) should be true", from)
		}
	}
}

// ── Matching transitions — terminal states have no outgoing transitions ────

func TestIsMatchingTransitionAllowed_FromTerminal(t *testing.T) {
	terminals := []run.Status{run.StatusCompleted, run.StatusFailed}
	targets := []run.Status{
		run.StatusPending, run.StatusFiltering, run.StatusAgentRunning,
		run.StatusCompleted, run.StatusFailed,
	}
	for _, from := range terminals {
		for _, to := range targets {
			if run.IsMatchingTransitionAllowed(from, to) {
				t.Errorf("IsMatchingTransitionAllowed(%s → %s) should be false (terminal state)", from, to)
			}
		}
	}
}

// ── Matching transitions — skipping and backwards movement is forbidden ────

func TestIsMatchingTransitionAllowed_Forbidden(t *testing.T) {
	cases := []struct {
		from run.Status
		to   run.Status
	}{
		{run.StatusPending, run.StatusAgentRunning}, // skip FILTERING
		{run.StatusPending, run.StatusCompleted},    // skip everything
		{run.StatusFiltering, run.StatusPending},    // backwards
		{run.StatusAgentRunning, run.StatusFiltering},
		{run.StatusAgentRunning, run.StatusPending},
		{run.StatusPending, run.StatusRunning}, // ranking-only state
	}
	for _, c := range cases {
		if run.IsMatchingTransitionAllowed(c.from, c.to) {
			t.Errorf("IsMatchingTransitionAllowed(%s → %s) should be false", c.from, c.to)
		}
	}
}

// ── Ranking transitions ────────────────────────────────────────────────────

func TestIsRankingTransitionAllowed_ValidForward(t *testing.T) {
	cases := []struct {
		from run.Status
		to   run.Status
	}{
		{run.StatusPending, run.StatusRunning},
		{run.StatusPending, run.StatusFailed},
		{run.StatusRunning, run.StatusCompleted},
		{run.StatusRunning, run.StatusFailed},
	}
	for _, c := range cases {
		if !run.IsRankingTransitionAllowed(c.from, c.to) {
			t.Errorf("IsRankingTransitionAllowed(%s → %s) should be true", c.from, c.to)
		}
	}
}

func TestIsRankingTransitionAllowed_Forbidden(t *testing.T) {
	cases := []struct {
		from run.Status
		to   run.Status
	}{
		{run.StatusPending, run.StatusCompleted}, // skip RUNNING
		{run.StatusRunning, run.StatusPending},   // backwards
		{run.StatusCompleted, run.StatusRunning}, // terminal
		{run.StatusFailed, run.StatusPending},    // terminal
		{run.StatusPending, run.StatusFiltering}, // matching-only state
	}
	for _, c := range cases {
		if run.IsRankingTransitionAllowed(c.from, c.to) {
			t.Errorf("IsRankingTransitionAllowed(%s → %s) should be false", c.from, c.to)
		}
	}
}

// ── Self-transitions and IsTerminal ────────────────────────────────────────

func TestTransitions_SelfForbidden(t *testing.T) {
	all := []run.Status{
		run.StatusPending, run.StatusFiltering, run.StatusAgentRunning,
		run.StatusRunning, run.StatusCompleted, run.StatusFailed,
	}
	for _, s := range all {
		if run.IsMatchingTransitionAllowed(s, s) {
			t.Errorf("IsMatchingTransitionAllowed(%s → %s) should be false (self)", s, s)
		}
		if run.IsRankingTransitionAllowed(s, s) {
			t.Errorf("IsRankingTransitionAllowed(%s → %s) should be false (self)", s, s)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []run.Status{run.StatusCompleted, run.StatusFailed} {
		if !run.IsTerminal(s) {
			t.Errorf("IsTerminal(%s) should be true", s)
		}
	}
	for _, s := range []run.Status{run.StatusPending, run.StatusFiltering, run.StatusAgentRunning, run.StatusRunning} {
		if run.IsTerminal(s) {
			t.Errorf("IsTerminal(%s) should be false", s)
		}
	}
}
