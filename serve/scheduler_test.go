package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	relay "github.com/halden1427/gorelay"
	"github.com/halden1427/gorelay/llm"
)

func TestHealthSchedulerRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"name": "llama3.1:8b"}},
		})
	}))
	defer srv.Close()

	tracker := relay.NewQuotaTracker(map[string]relay.RateLimitConfig{
		"ollama_local": {RequestsPerMinute: 10},
	})
	tracker.RecordRequest("ollama_local", 0)

	router := relay.NewRouter(tracker, relay.WithBackend(llm.NewOllamaLocal(srv.URL)))
	store := newTestStore(t)
	broker := NewEventBroker()
	events := broker.Subscribe()

	sched := NewHealthScheduler(router, tracker, store, broker)
	sched.run(context.Background())

	snaps, err := store.ListUsageSnapshots("ollama_local", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	if !snaps[0].Healthy || snaps[0].Requests != 1 || snaps[0].RequestFraction != 0.1 {
		t.Errorf("snapshot = %+v", snaps[0])
	}

	select {
	case e := <-events:
		if e.Type != "health" {
			t.Errorf("event type = %q", e.Type)
		}
		results, ok := e.Data.(map[string]bool)
		if !ok || !results["ollama_local"] {
			t.Errorf("event data = %+v", e.Data)
		}
	default:
		t.Error("no broker event published")
	}
}

func TestHealthSchedulerRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tracker := relay.NewQuotaTracker(nil)
	router := relay.NewRouter(tracker, relay.WithBackend(llm.NewOllamaLocal(srv.URL)))
	store := newTestStore(t)

	sched := NewHealthScheduler(router, tracker, store, nil)
	sched.run(context.Background())

	snaps, err := store.ListUsageSnapshots("ollama_local", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Healthy {
		t.Errorf("snapshots = %+v, want one unhealthy row", snaps)
	}
}
