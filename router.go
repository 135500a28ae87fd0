package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/halden1427/gorelay/llm"
)

// AllBackendsFailedError is returned when a request could not be served by
// any registered backend. Per-backend errors are absorbed during the
// failover loop; only the last one is carried here.
type AllBackendsFailedError struct {
	LastErr error
}

func (e *AllBackendsFailedError) Error() string {
	if e.LastErr == nil {
		return "all backends failed or were unavailable"
	}
	return fmt.Sprintf("all backends failed: %v", e.LastErr)
}

func (e *AllBackendsFailedError) Unwrap() error { return e.LastErr }

// ModelInfo is the per-backend model snapshot for reporting.
type ModelInfo struct {
	Models  []string `json:"models"`
	Current string   `json:"current"`
	Active  bool     `json:"active"`
}

// Router selects backends for chat requests. It owns the registry, the
// priority order (always a permutation of the registered names), and the
// per-user preference map; quota state lives in the tracker.
type Router struct {
	quota *QuotaTracker

	mu       sync.Mutex
	backends map[string]llm.Backend
	order    []string
	prefs    map[int64]string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithBackend registers a backend. Registration order sets the default
// priority order.
func WithBackend(b llm.Backend) RouterOption {
	return func(r *Router) {
		name := b.Name()
		if _, ok := r.backends[name]; ok {
			return
		}
		r.backends[name] = b
		r.order = append(r.order, name)
	}
}

// WithPriorityOrder overrides the default priority order. Names not
// registered are dropped; registered names missing from the list keep
// their relative order at the end.
func WithPriorityOrder(names []string) RouterOption {
	return func(r *Router) {
		var order []string
		for _, name := range names {
			if _, ok := r.backends[name]; ok && !slices.Contains(order, name) {
				order = append(order, name)
			}
		}
		for _, name := range r.order {
			if !slices.Contains(order, name) {
				order = append(order, name)
			}
		}
		r.order = order
	}
}

// NewRouter creates a router over the tracker's quota state.
func NewRouter(quota *QuotaTracker, opts ...RouterOption) *Router {
	r := &Router{
		quota:    quota,
		backends: make(map[string]llm.Backend),
		prefs:    make(map[int64]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// candidates returns the priority order with the user's preference, if
// set, moved to the front.
func (r *Router) candidates(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	order := slices.Clone(r.order)
	pref, ok := r.prefs[userID]
	if !ok {
		return order
	}
	if i := slices.Index(order, pref); i > 0 {
		order = slices.Delete(order, i, i+1)
		order = slices.Insert(order, 0, pref)
	}
	return order
}

func (r *Router) backend(name string) llm.Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backends[name]
}

// SelectBackend returns the backend a request for userID would route to
// right now: the first healthy candidate below the failover threshold,
// falling back to any healthy candidate, or nil when none is healthy.
func (r *Router) SelectBackend(userID int64) llm.Backend {
	order := r.candidates(userID)

	for _, name := range order {
		b := r.backend(name)
		if b != nil && b.Status().IsHealthy && !r.quota.ShouldFailover(name) {
			return b
		}
	}
	for _, name := range order {
		b := r.backend(name)
		if b != nil && b.Status().IsHealthy {
			return b
		}
	}
	return nil
}

// Generate runs the failover loop for a single-shot request. Unhealthy
// backends are skipped on the first pass and retried as a last resort;
// quota-blocked backends are skipped silently. Token usage is recorded
// from the response.
func (r *Router) Generate(ctx context.Context, messages []llm.Message, userID int64, model string) (*llm.Response, error) {
	order := r.candidates(userID)
	reqID := uuid.NewString()[:8]

	tried := make(map[string]bool, len(order))
	var lastErr error

	for pass := 0; pass < 2; pass++ {
		for _, name := range order {
			if tried[name] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			b := r.backend(name)
			if b == nil {
				continue
			}
			if pass == 0 && !b.Status().IsHealthy {
				slog.Debug("skipping unhealthy backend", "req", reqID, "backend", name)
				continue
			}
			if !r.quota.CanRequest(name) {
				slog.Debug("quota exhausted, skipping backend", "req", reqID, "backend", name)
				tried[name] = true
				continue
			}

			tried[name] = true
			resp, err := b.Generate(ctx, messages, model)
			if err != nil {
				lastErr = err
				slog.Warn("backend failed, trying next", "req", reqID, "backend", name, "error", err)
				continue
			}

			r.quota.RecordRequest(name, resp.TokensUsed)
			if name != order[0] {
				slog.Info("request served by fallback backend", "req", reqID, "backend", name)
			}
			return resp, nil
		}
	}

	slog.Error("all backends failed", "req", reqID, "error", lastErr)
	return nil, &AllBackendsFailedError{LastErr: lastErr}
}

// Stream runs the failover loop for a streaming request. The request is
// recorded against the backend's quota at send time with zero tokens.
// Failover happens only before the first chunk reaches the caller; once a
// chunk has been forwarded the router is committed to that backend and a
// later failure terminates the stream.
func (r *Router) Stream(ctx context.Context, messages []llm.Message, userID int64, model string) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk, 16)

	go func() {
		defer close(out)

		order := r.candidates(userID)
		reqID := uuid.NewString()[:8]

		tried := make(map[string]bool, len(order))
		var lastErr error

		for pass := 0; pass < 2; pass++ {
			for _, name := range order {
				if tried[name] {
					continue
				}
				if ctx.Err() != nil {
					return
				}

				b := r.backend(name)
				if b == nil {
					continue
				}
				if pass == 0 && !b.Status().IsHealthy {
					slog.Debug("skipping unhealthy backend", "req", reqID, "backend", name)
					continue
				}
				if !r.quota.CanRequest(name) {
					slog.Debug("quota exhausted, skipping backend", "req", reqID, "backend", name)
					tried[name] = true
					continue
				}

				tried[name] = true
				r.quota.RecordRequest(name, 0)

				ch, err := b.Stream(ctx, messages, model)
				if err != nil {
					lastErr = err
					slog.Warn("stream start failed, trying next", "req", reqID, "backend", name, "error", err)
					continue
				}

				if done := r.forward(ctx, reqID, name, ch, out, &lastErr); done {
					return
				}
			}
		}

		slog.Error("all backends failed", "req", reqID, "error", lastErr)
		select {
		case out <- llm.StreamChunk{Err: &AllBackendsFailedError{LastErr: lastErr}}:
		case <-ctx.Done():
		}
	}()

	return out
}

// forward relays chunks from one backend stream to the caller. It returns
// true when the stream is finished from the caller's point of view, either
// completed or failed after delivery; false means no chunk was delivered
// and the failover loop should continue.
func (r *Router) forward(ctx context.Context, reqID, name string, in <-chan llm.StreamChunk, out chan<- llm.StreamChunk, lastErr *error) bool {
	committed := false

	for chunk := range in {
		if chunk.Err != nil {
			if !committed {
				*lastErr = chunk.Err
				slog.Warn("stream failed before first chunk, trying next", "req", reqID, "backend", name, "error", chunk.Err)
				return false
			}
			slog.Warn("stream terminated after partial output", "req", reqID, "backend", name, "error", chunk.Err)
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return true
		}

		select {
		case out <- chunk:
			committed = true
		case <-ctx.Done():
			return true
		}
	}

	// The backend closed the channel without an error chunk; an empty
	// stream still counts as a completed response.
	return true
}

// SetActiveBackend moves a registered backend to the front of the
// priority order.
func (r *Router) SetActiveBackend(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.Index(r.order, name)
	if i < 0 {
		return false
	}
	if i > 0 {
		r.order = slices.Delete(r.order, i, i+1)
		r.order = slices.Insert(r.order, 0, name)
	}
	slog.Info("active backend changed", "backend", name)
	return true
}

// ActiveBackend returns the name at the front of the priority order.
func (r *Router) ActiveBackend() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// SetPreference pins a user's requests to a backend. Returns false when
// the backend is not registered.
func (r *Router) SetPreference(userID int64, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[name]; !ok {
		return false
	}
	r.prefs[userID] = name
	return true
}

// Preference returns the user's pinned backend, if any.
func (r *Router) Preference(userID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.prefs[userID]
	return name, ok
}

// ClearPreference removes the user's pin.
func (r *Router) ClearPreference(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prefs, userID)
}

// Backends returns the registered names in priority order.
func (r *Router) Backends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Backend returns a registered backend by name.
func (r *Router) Backend(name string) (llm.Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[name]
	return b, ok
}

// AvailableBackends returns the names of healthy backends in priority
// order.
func (r *Router) AvailableBackends() []string {
	var out []string
	for _, name := range r.Backends() {
		if b := r.backend(name); b != nil && b.Status().IsHealthy {
			out = append(out, name)
		}
	}
	return out
}

// Status returns a health snapshot per backend.
func (r *Router) Status() map[string]llm.Status {
	out := make(map[string]llm.Status)
	for _, name := range r.Backends() {
		if b := r.backend(name); b != nil {
			out[name] = b.Status()
		}
	}
	return out
}

// Models returns the model snapshot per backend. Active marks the
// backend at the front of the priority order.
func (r *Router) Models() map[string]ModelInfo {
	active := r.ActiveBackend()

	out := make(map[string]ModelInfo)
	for _, name := range r.Backends() {
		b := r.backend(name)
		if b == nil {
			continue
		}
		out[name] = ModelInfo{
			Models:  b.Models(),
			Current: b.CurrentModel(),
			Active:  name == active,
		}
	}
	return out
}

// SetBackendModel switches the model on one backend.
func (r *Router) SetBackendModel(name, model string) bool {
	b := r.backend(name)
	if b == nil {
		return false
	}
	ok := b.SetModel(model)
	if ok {
		slog.Info("backend model changed", "backend", name, "model", model)
	}
	return ok
}

// RunHealthChecks probes every backend and returns the results.
func (r *Router) RunHealthChecks(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, name := range r.Backends() {
		b := r.backend(name)
		if b == nil {
			continue
		}
		out[name] = b.HealthCheck(ctx)
	}
	return out
}
