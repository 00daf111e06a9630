package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestTerminalsRoundTripOrdered(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data"))
	now := time.Now().UTC().Truncate(time.Second)
	in := []Terminal{
		{ID: "bbbbbbbb", Status: StatusClosed, CreatedAt: now.Add(time.Minute), Persistent: true},
		{
			ID:         "aaaaaaaa",
			ProjectID:  strPtr("web"),
			SessionID:  strPtr("abc123"),
			Status:     StatusRunning,
			CreatedAt:  now,
			Persistent: true,
			ChildAgents: []ChildAgent{
				{ID: "job1", ParentSessionID: "abc123", TmuxSession: "ccp-1", Status: ChildStatusRunning, StartedAt: "t0"},
			},
		},
	}
	if err := s.SaveTerminals(in); err != nil {
		t.Fatalf("SaveTerminals: %v", err)
	}

	got := s.LoadTerminals()
	if len(got) != 2 {
		t.Fatalf("LoadTerminals() returned %d terminals, want 2", len(got))
	}
	if got[0].ID != "aaaaaaaa" || got[1].ID != "bbbbbbbb" {
		t.Fatalf("order = %s,%s; want aaaaaaaa,bbbbbbbb", got[0].ID, got[1].ID)
	}
	if got[0].Project() != "web" || got[0].Session() != "abc123" || len(got[0].ChildAgents) != 1 {
		t.Fatalf("terminal = %+v", got[0])
	}
	if got[1].ProjectID != nil || got[1].SessionID != nil {
		t.Fatalf("nil pointers not preserved: %+v", got[1])
	}
}

func TestTerminalsFileLayout(t *testing.T) {
	s := New(t.TempDir())
	if err := s.SaveTerminals(nil); err != nil {
		t.Fatalf("SaveTerminals: %v", err)
	}
	data, err := os.ReadFile(s.TerminalsPath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"version": 1`) || !strings.Contains(text, `"terminals": []`) {
		t.Fatalf("unexpected layout:\n%s", text)
	}

	if err := s.SaveTerminals([]Terminal{{ID: "aaaaaaaa", Status: StatusIdle}}); err != nil {
		t.Fatalf("SaveTerminals: %v", err)
	}
	data, _ = os.ReadFile(s.TerminalsPath())
	if !strings.Contains(string(data), `"projectId": null`) || !strings.Contains(string(data), `"sessionId": null`) {
		t.Fatalf("null scope/session not written:\n%s", data)
	}

	entries, _ := os.ReadDir(s.Root())
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLoadTerminalsReadFailureIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if got := s.LoadTerminals(); len(got) != 0 {
		t.Fatalf("missing file: got %d terminals", len(got))
	}
	if err := os.WriteFile(s.TerminalsPath(), []byte("{corrupt"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := s.LoadTerminals(); len(got) != 0 {
		t.Fatalf("corrupt file: got %d terminals", len(got))
	}
}

func TestLoadTerminalsMissingDirCreatesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s := New(dir)
	if got := s.LoadTerminals(); len(got) != 0 {
		t.Fatalf("LoadTerminals() = %v, want empty", got)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("data dir created by a read: %v", err)
	}
}

func TestSaveTerminalsWriteFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	s := New(filepath.Join(blocker, "data"))
	if err := s.SaveTerminals([]Terminal{{ID: "aaaaaaaa"}}); err == nil {
		t.Fatal("SaveTerminals() should fail when the data dir cannot be created")
	}
}

func TestSessionRecord(t *testing.T) {
	s := New(t.TempDir())
	path := s.SessionRecordPath("aaaaaaaa")

	if got := ReadSessionRecord(path); got != "" {
		t.Fatalf("ReadSessionRecord(missing) = %q", got)
	}
	if err := WriteSessionRecord(path, "abc123"); err != nil {
		t.Fatalf("WriteSessionRecord: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"sessionId": "abc123"`) {
		t.Fatalf("record = %s", data)
	}
	if got := ReadSessionRecord(path); got != "abc123" {
		t.Fatalf("ReadSessionRecord() = %q, want abc123", got)
	}
	if err := RemoveSessionRecord(path); err != nil {
		t.Fatalf("RemoveSessionRecord: %v", err)
	}
	if err := RemoveSessionRecord(path); err != nil {
		t.Fatalf("RemoveSessionRecord twice: %v", err)
	}
	if got := ReadSessionRecord(path); got != "" {
		t.Fatalf("ReadSessionRecord(removed) = %q", got)
	}
}

func TestUpsertChildAgentKeepsOrder(t *testing.T) {
	var term Terminal
	term.UpsertChildAgent(ChildAgent{ID: "a", Status: ChildStatusRunning})
	term.UpsertChildAgent(ChildAgent{ID: "b", Status: ChildStatusRunning})
	term.UpsertChildAgent(ChildAgent{ID: "a", Status: ChildStatusComplete})
	if len(term.ChildAgents) != 2 || term.ChildAgents[0].ID != "a" || term.ChildAgents[0].Status != ChildStatusComplete {
		t.Fatalf("children = %+v", term.ChildAgents)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Terminal{ID: "x", SessionID: strPtr("s1"), ChildAgents: []ChildAgent{{ID: "a"}}}
	c := orig.Clone()
	*c.SessionID = "s2"
	c.ChildAgents[0].ID = "b"
	if orig.Session() != "s1" || orig.ChildAgents[0].ID != "a" {
		t.Fatalf("clone shares memory with original: %+v", orig)
	}
}
