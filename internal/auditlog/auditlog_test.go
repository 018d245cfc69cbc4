package auditlog

import (
	"fmt"
	"testing"
)

func TestAppendAndList(t *testing.T) {
	t.Parallel()

	l, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		l.Append(Entry{
			Action:    ActionEditSubmitted,
			Status:    "success",
			ProjectID: "proj-1",
			EditID:    fmt.Sprintf("edit-%d", i),
		})
	}

	entries, err := l.List(3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if got, want := entries[0].EditID, "edit-4"; got != want {
		t.Errorf("newest entry EditID = %q, want %q", got, want)
	}
	if entries[0].CreatedAt == "" {
		t.Error("CreatedAt not defaulted")
	}
}

func TestRotation(t *testing.T) {
	t.Parallel()

	l, err := New(Options{StateDir: t.TempDir(), MaxBytes: 256, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 50; i++ {
		l.Append(Entry{
			Action:    ActionEditApplied,
			ProjectID: "proj-1",
			EditID:    fmt.Sprintf("edit-%02d", i),
			Detail:    map[string]any{"padding": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"},
		})
	}

	entries, err := l.List(1000)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no entries survived rotation")
	}
	if got, want := entries[0].EditID, "edit-49"; got != want {
		t.Errorf("newest entry EditID = %q, want %q", got, want)
	}
	// Ordering spans the active file and rotated backups.
	for i := 1; i < len(entries); i++ {
		if entries[i-1].EditID < entries[i].EditID {
			t.Fatalf("entries out of order at %d: %q before %q", i, entries[i-1].EditID, entries[i].EditID)
		}
	}
}

func TestNilLogIsSafe(t *testing.T) {
	t.Parallel()

	var l *Log
	l.Append(Entry{Action: ActionEditReverted})
	entries, err := l.List(10)
	if err != nil {
		t.Fatalf("List on nil: %v", err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}
