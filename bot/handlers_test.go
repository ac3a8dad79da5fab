package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/doorman/bot/storage"
)

func TestStatusTextWithoutAudit(t *testing.T) {
	text := statusText(3, 1, nil)
	if !strings.Contains(text, "pending sessions: 3") {
		t.Fatalf("missing pending count: %q", text)
	}
	if !strings.Contains(text, "send errors: 1") {
		t.Fatalf("missing send errors: %q", text)
	}
	if strings.Contains(text, "recent outcomes") {
		t.Fatalf("outcome section must be absent without audit rows: %q", text)
	}
}

func TestStatusTextIncludesRecentOutcomes(t *testing.T) {
	when := time.Date(2026, 8, 30, 12, 4, 0, 0, time.UTC)
	events := []storage.Event{
		{ChatID: -100, UserID: 42, Outcome: "verified", CreatedAt: when},
		{ChatID: -100, UserID: 43, Outcome: "expired", CreatedAt: when.Add(-time.Minute)},
	}

	text := statusText(0, 0, events)
	if !strings.Contains(text, "recent outcomes:") {
		t.Fatalf("missing outcome section: %q", text)
	}
	if !strings.Contains(text, "42  verified") {
		t.Fatalf("missing verified row: %q", text)
	}
	if !strings.Contains(text, "43  expired") {
		t.Fatalf("missing expired row: %q", text)
	}
	if !strings.Contains(text, "30.08 12:04") {
		t.Fatalf("missing timestamp: %q", text)
	}
}
