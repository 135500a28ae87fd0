package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestGroq(url string) *GroqBackend {
	return NewGroq(
		WithGroqAPIKey("test-key"),
		WithGroqBaseURL(url),
	)
}

func TestGroqGenerate(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hi there"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"total_tokens": 42},
		})
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	resp, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if gotPath != "/openai/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q, want %q", resp.Content, "hi there")
	}
	if resp.TokensUsed != 42 {
		t.Errorf("tokens = %d, want 42", resp.TokensUsed)
	}
	if resp.Backend != "groq" {
		t.Errorf("backend = %q, want groq", resp.Backend)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if !g.Status().IsHealthy {
		t.Error("backend should be healthy after success")
	}
}

func TestGroqGenerateAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	_, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "")
	if err == nil {
		t.Fatal("expected error")
	}

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if be.Kind != ErrAuth {
		t.Errorf("kind = %q, want %q", be.Kind, ErrAuth)
	}

	st := g.Status()
	if st.IsHealthy {
		t.Error("backend should be unhealthy after failure")
	}
	if st.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", st.ErrorCount)
	}
	if st.LastError == "" {
		t.Error("last error should be recorded")
	}
}

func TestGroqGenerateRateLimitKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	_, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "")

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error type = %T", err)
	}
	if be.Kind != ErrRateLimit {
		t.Errorf("kind = %q, want %q", be.Kind, ErrRateLimit)
	}
}

func TestGroqGenerateConnectionError(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := newTestGroq(srv.URL)
	_, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "")

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error type = %T", err)
	}
	if be.Kind != ErrConnection {
		t.Errorf("kind = %q, want %q", be.Kind, ErrConnection)
	}
}

func TestGroqStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{}}]}`,
			`data: [DONE]`,
		}
		for _, e := range events {
			w.Write([]byte(e + "\n\n"))
		}
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	ch, err := g.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		sb.WriteString(chunk.Content)
	}

	if sb.String() != "Hello" {
		t.Errorf("streamed content = %q, want %q", sb.String(), "Hello")
	}
	if !g.Status().IsHealthy {
		t.Error("backend should be healthy after completed stream")
	}
}

func TestGroqStreamCancelStopsPipe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Far more events than the chunk channel buffers, so the pipe
		// would block on a send if it ignored cancellation.
		for i := 0; i < 200; i++ {
			w.Write([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n\n"))
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := g.Stream(ctx, []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	<-ch
	cancel()

	// The pipe goroutine must notice the cancel and close the channel
	// rather than park on a full buffer.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream channel not closed within 3s of cancel")
		}
	}
}

func TestGroqStreamStartupError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	_, err := g.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err == nil {
		t.Fatal("expected error")
	}

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error type = %T", err)
	}
	if be.Kind != ErrConnection {
		t.Errorf("kind = %q, want %q", be.Kind, ErrConnection)
	}
	if g.Status().IsHealthy {
		t.Error("backend should be unhealthy")
	}
}

func TestGroqHealthCheck(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "pong"}}},
		})
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	if !g.HealthCheck(context.Background()) {
		t.Error("HealthCheck() = false, want true")
	}

	healthy = false
	if g.HealthCheck(context.Background()) {
		t.Error("HealthCheck() = true, want false")
	}
	if g.Status().IsHealthy {
		t.Error("backend should be unhealthy after failed check")
	}

	// Recovery: the next successful call flips it back and resets the count.
	healthy = true
	if !g.HealthCheck(context.Background()) {
		t.Error("HealthCheck() = false after recovery")
	}
	st := g.Status()
	if !st.IsHealthy || st.ErrorCount != 0 || st.LastError != "" {
		t.Errorf("status after recovery = %+v", st)
	}
}

func TestGroqSetModel(t *testing.T) {
	g := NewGroq(WithGroqModels([]string{"a", "b"}), WithGroqModel("a"))

	if !g.SetModel("b") {
		t.Error("SetModel(b) = false, want true")
	}
	if g.CurrentModel() != "b" {
		t.Errorf("current model = %q, want b", g.CurrentModel())
	}

	if g.SetModel("nope") {
		t.Error("SetModel(nope) = true, want false")
	}
	if g.CurrentModel() != "b" {
		t.Errorf("current model changed to %q on failed SetModel", g.CurrentModel())
	}
}

func TestGroqModelOverride(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	g := newTestGroq(srv.URL)
	if _, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, "llama-3.1-8b-instant"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gotModel != "llama-3.1-8b-instant" {
		t.Errorf("model = %q, want override", gotModel)
	}
}
