// Package llm provides LLM backend implementations for the relay router.
//
// A Backend is one vendor connection exposing generation, streaming, a
// health probe, and model management:
//
//	groq := llm.NewGroq()                          // uses GROQ_API_KEY
//	local := llm.NewOllamaLocal("")                // http://localhost:11434
//	cloud := llm.NewOllamaCloud("https://ollama.example.com",
//	    llm.WithOllamaAPIKey("..."))
//
// Every backend owns its health bookkeeping: a successful call marks it
// healthy and clears the error count, a failed call marks it unhealthy.
// The relay router reads health through Status() and IsHealthy and never
// mutates it.
//
// # Streaming
//
// Stream returns a finite, non-restartable channel of chunks:
//
//	ch, err := groq.Stream(ctx, messages, "")
//	for chunk := range ch {
//	    if chunk.Err != nil {
//	        // stream ended early; chunks so far are valid partial output
//	        break
//	    }
//	    fmt.Print(chunk.Content)
//	}
//
// # Errors
//
// All failures are *BackendError values carrying a kind (auth, rate_limit,
// connection, unknown) classified from the transport outcome or HTTP
// status. The router absorbs them during failover; they are not returned
// to chat callers.
package llm
