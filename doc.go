// Package relay routes chat requests across interchangeable LLM backends.
//
// Relay is a Go library plus a Telegram bot for talking to several LLM
// vendors through one interface. It provides:
//
//   - Backend health tracking with automatic failover
//   - Sliding-window rate limiting per backend (requests and tokens)
//   - Priority ordering with per-user backend preferences
//   - Streaming with mid-stream failure semantics
//   - YAML configuration with environment-sourced secrets
//
// # Quick Start
//
// Build a router over two backends and send a request:
//
//	groq := llm.NewGroq()                 // uses GROQ_API_KEY
//	local := llm.NewOllamaLocal("")       // http://localhost:11434
//
//	tracker := relay.NewQuotaTracker(map[string]relay.RateLimitConfig{
//	    "groq": {RequestsPerMinute: 30, TokensPerMinute: 6000},
//	})
//	router := relay.NewRouter(tracker,
//	    relay.WithBackend(groq),
//	    relay.WithBackend(local),
//	)
//
//	resp, err := router.Generate(ctx, messages, userID, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Content)
//
// # Failover
//
// Generate walks the priority order, a user preference first when set.
// Unhealthy backends are skipped until everything else has been tried,
// quota-exhausted backends are skipped silently, and per-backend errors
// are absorbed. Only when every backend has been tried does the caller
// see an error, an *AllBackendsFailedError wrapping the last cause.
//
// # Streaming
//
//	for chunk := range router.Stream(ctx, messages, userID, "") {
//	    if chunk.Err != nil {
//	        // ended early; content so far is valid partial output
//	        break
//	    }
//	    fmt.Print(chunk.Content)
//	}
//
// Failover happens only before the first chunk is delivered. Once output
// has reached the caller the router is committed to that backend and a
// later failure terminates the stream rather than restarting it, so the
// caller never sees duplicated content.
//
// # Architecture
//
// The main components are:
//
//   - llm.Backend: one vendor connection (Groq, Ollama) owning its health state
//   - QuotaTracker: sliding 60-second usage windows per backend
//   - Router: backend registry, priority order, preferences, failover loops
//   - Config: YAML config directory with validation and hot reload
//   - serve: Telegram bot, command layer, SQLite store, dashboard, scheduler
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Each state owner (router,
// tracker, per-backend health) guards its own fields with a mutex.
package relay
