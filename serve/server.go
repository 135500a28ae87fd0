package serve

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	relay "github.com/halden1427/gorelay"
)

// Config holds dashboard server configuration.
type Config struct {
	Addr    string
	BotName string
}

// Server is the HTTP server for the relay dashboard API. It only reads
// router and tracker state; all mutation happens through the bot's
// command layer.
type Server struct {
	router    *relay.Router
	tracker   *relay.QuotaTracker
	store     Store
	broker    *EventBroker
	cfg       Config
	startedAt time.Time
}

// New creates a Server. The store is shared with the bot and scheduler;
// its lifecycle belongs to the caller.
func New(router *relay.Router, tracker *relay.QuotaTracker, store Store, cfg Config) *Server {
	return &Server{
		router:  router,
		tracker: tracker,
		store:   store,
		broker:  NewEventBroker(),
		cfg:     cfg,
	}
}

// Broker returns the event broker so the scheduler and bot can publish.
func (s *Server) Broker() *EventBroker { return s.broker }

// Start registers routes and listens for HTTP requests. It blocks until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: corsMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dashboard started", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down dashboard")
	case err := <-errCh:
		return err
	}

	// Closing the broker closes all SSE subscriber channels, unblocking
	// their handlers so the HTTP server can drain.
	s.broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("dashboard shutdown error", "error", err)
	}
	return nil
}

// registerRoutes adds all API routes to the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/events", s.handleSSE)
	mux.HandleFunc("GET /{$}", s.handleIndex)
}

// corsMiddleware adds permissive CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
