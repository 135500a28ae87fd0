package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	relay "github.com/halden1427/gorelay"
	"github.com/halden1427/gorelay/llm"
)

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	BotName       string                `json:"bot_name"`
	Uptime        string                `json:"uptime"`
	ActiveBackend string                `json:"active_backend"`
	Available     []string              `json:"available_backends"`
	Backends      map[string]llm.Status `json:"backends"`
}

// UsageEntry is one backend's row in the /api/usage payload.
type UsageEntry struct {
	Requests       int            `json:"requests"`
	Tokens         int            `json:"tokens"`
	RequestLimit   int            `json:"request_limit"`
	TokenLimit     int            `json:"token_limit"`
	Fraction       relay.Fraction `json:"fraction"`
	ResetInSeconds float64        `json:"reset_in_seconds"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// handleStatus returns the health snapshot for every backend.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		BotName:       s.cfg.BotName,
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		ActiveBackend: s.router.ActiveBackend(),
		Available:     s.router.AvailableBackends(),
		Backends:      s.router.Status(),
	})
}

// handleUsage returns current quota usage per backend.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	limits := s.tracker.Limits()

	out := make(map[string]UsageEntry)
	for _, name := range s.router.Backends() {
		requests, tokens := s.tracker.Usage(name)
		out[name] = UsageEntry{
			Requests:       requests,
			Tokens:         tokens,
			RequestLimit:   limits[name].RequestsPerMinute,
			TokenLimit:     limits[name].TokensPerMinute,
			Fraction:       s.tracker.UsageFraction(name),
			ResetInSeconds: s.tracker.TimeUntilReset(name).Seconds(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleModels returns the model list and active model per backend.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Models())
}

// handleSnapshots returns stored usage history, newest first.
// Query params: backend (optional filter), limit (default 60).
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 60
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}

	snaps, err := s.store.ListUsageSnapshots(r.URL.Query().Get("backend"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snaps == nil {
		snaps = []UsageSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleSSE streams broker events to the client.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.broker.Subscribe()
	if ch == nil {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}
	defer s.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Send initial comment so EventSource fires onopen
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	// Heartbeat to keep the connection alive
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// handleIndex serves a minimal live status page backed by the JSON API.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexHTML, s.cfg.BotName)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>%[1]s</title>
  <style>
    body { font-family: system-ui, sans-serif; background: #0a0a0b; color: #e4e4e7; margin: 2rem auto; max-width: 720px; padding: 0 1rem; }
    h1 { font-size: 1.5rem; }
    table { border-collapse: collapse; width: 100%%; margin: 1rem 0; }
    th, td { text-align: left; padding: 0.4rem 0.75rem; border-bottom: 1px solid #27272a; }
    .up { color: #4ade80; } .down { color: #f87171; }
    pre { background: #18181b; padding: 0.75rem; border-radius: 0.5rem; overflow-x: auto; }
  </style>
</head>
<body>
  <h1>%[1]s</h1>
  <table id="backends"><tr><th>Backend</th><th>Health</th><th>Model</th><th>Usage</th></tr></table>
  <h2>Events</h2>
  <pre id="events"></pre>
  <script>
    async function refresh() {
      const [status, usage, models] = await Promise.all([
        fetch('/api/status').then(r => r.json()),
        fetch('/api/usage').then(r => r.json()),
        fetch('/api/models').then(r => r.json()),
      ]);
      const table = document.getElementById('backends');
      table.innerHTML = '<tr><th>Backend</th><th>Health</th><th>Model</th><th>Usage</th></tr>';
      for (const [name, st] of Object.entries(status.backends)) {
        const row = table.insertRow();
        const u = usage[name] || {};
        row.innerHTML = '<td>' + name + (name === status.active_backend ? ' *' : '') + '</td>' +
          '<td class="' + (st.is_healthy ? 'up">up' : 'down">down') + '</td>' +
          '<td>' + ((models[name] || {}).current || '') + '</td>' +
          '<td>' + (u.requests || 0) + '/' + (u.request_limit || '∞') + ' req</td>';
      }
    }
    refresh();
    setInterval(refresh, 10000);
    const es = new EventSource('/api/events');
    es.addEventListener('health', e => {
      const pre = document.getElementById('events');
      pre.textContent = (e.data + '\n' + pre.textContent).split('\n').slice(0, 20).join('\n');
      refresh();
    });
  </script>
</body>
</html>
`
