package serve

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreChatHistory(t *testing.T) {
	store := newTestStore(t)

	for _, m := range []ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	} {
		if err := store.AppendChatMessage(1, m.Role, m.Content); err != nil {
			t.Fatalf("AppendChatMessage() error = %v", err)
		}
	}
	if err := store.AppendChatMessage(2, "user", "other user"); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.ChatHistory(1, 0)
	if err != nil {
		t.Fatalf("ChatHistory() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("history length = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[2].Content != "third" {
		t.Errorf("history order wrong: %+v", msgs)
	}

	// A limit keeps the newest messages but still returns oldest first.
	msgs, err = store.ChatHistory(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "second" || msgs[1].Content != "third" {
		t.Errorf("limited history = %+v", msgs)
	}
}

func TestStoreTrimChatHistory(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 10; i++ {
		if err := store.AppendChatMessage(1, "user", "msg"); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.AppendChatMessage(2, "user", "keep me"); err != nil {
		t.Fatal(err)
	}

	if err := store.TrimChatHistory(1, 4); err != nil {
		t.Fatalf("TrimChatHistory() error = %v", err)
	}

	msgs, err := store.ChatHistory(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Errorf("history length after trim = %d, want 4", len(msgs))
	}

	other, err := store.ChatHistory(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("other user's history affected by trim: %+v", other)
	}
}

func TestStoreClearChatHistory(t *testing.T) {
	store := newTestStore(t)

	if err := store.AppendChatMessage(1, "user", "bye"); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearChatHistory(1); err != nil {
		t.Fatalf("ClearChatHistory() error = %v", err)
	}

	msgs, err := store.ChatHistory(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("history after clear = %+v, want empty", msgs)
	}
}

func TestStoreAuditEvents(t *testing.T) {
	store := newTestStore(t)

	events := []AuditEvent{
		{ID: "e1", UserID: 100, Action: "command", Detail: "/status", CreatedAt: time.Now().Add(-2 * time.Minute)},
		{ID: "e2", UserID: 100, Action: "denied", Detail: "/reload", CreatedAt: time.Now().Add(-time.Minute)},
		{ID: "e3", UserID: 200, Action: "lockout", CreatedAt: time.Now()},
	}
	for _, e := range events {
		if err := store.InsertAuditEvent(e); err != nil {
			t.Fatalf("InsertAuditEvent(%s) error = %v", e.ID, err)
		}
	}

	got, err := store.ListAuditEvents(2)
	if err != nil {
		t.Fatalf("ListAuditEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].ID != "e3" || got[1].ID != "e2" {
		t.Errorf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
	if got[0].Action != "lockout" || got[0].UserID != 200 {
		t.Errorf("event = %+v", got[0])
	}
}

func TestStoreUsageSnapshots(t *testing.T) {
	store := newTestStore(t)

	snaps := []UsageSnapshot{
		{Backend: "groq", Healthy: true, LatencyMs: 120.5, Requests: 3, Tokens: 900, RequestFraction: 0.1, TokenFraction: 0.15, SnapshotAt: time.Now()},
		{Backend: "ollama_local", Healthy: false, SnapshotAt: time.Now()},
		{Backend: "groq", Healthy: true, Requests: 4, SnapshotAt: time.Now()},
	}
	for _, snap := range snaps {
		if err := store.InsertUsageSnapshot(snap); err != nil {
			t.Fatalf("InsertUsageSnapshot() error = %v", err)
		}
	}

	got, err := store.ListUsageSnapshots("groq", 10)
	if err != nil {
		t.Fatalf("ListUsageSnapshots() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("groq snapshots = %d, want 2", len(got))
	}
	if got[0].Requests != 4 {
		t.Errorf("newest first: got requests = %d, want 4", got[0].Requests)
	}
	if got[1].LatencyMs != 120.5 || !got[1].Healthy {
		t.Errorf("snapshot = %+v", got[1])
	}

	all, err := store.ListUsageSnapshots("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all snapshots = %d, want 3", len(all))
	}
}
