package serve

import "time"

// Store persists chat history, audit events, and usage snapshots. Quota
// windows and health flags are deliberately not persisted; they are
// in-memory state that resets with the process.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// AppendChatMessage adds one message to a user's rolling history.
	AppendChatMessage(userID int64, role, content string) error

	// ChatHistory returns the last limit messages for a user, oldest
	// first. limit <= 0 returns everything.
	ChatHistory(userID int64, limit int) ([]ChatMessage, error)

	// TrimChatHistory deletes all but the newest keep messages for a user.
	TrimChatHistory(userID int64, keep int) error

	// ClearChatHistory removes a user's history entirely.
	ClearChatHistory(userID int64) error

	// InsertAuditEvent records an administrative or security action.
	InsertAuditEvent(e AuditEvent) error

	// ListAuditEvents returns recent audit events, newest first.
	ListAuditEvents(limit int) ([]AuditEvent, error)

	// InsertUsageSnapshot records one backend's health and quota state.
	InsertUsageSnapshot(s UsageSnapshot) error

	// ListUsageSnapshots returns recent snapshots for a backend, newest
	// first. An empty backend matches all.
	ListUsageSnapshots(backend string, limit int) ([]UsageSnapshot, error)
}

// ChatMessage is one persisted conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AuditEvent records who did what: command invocations, permission
// denials, lockouts, config reloads.
type AuditEvent struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageSnapshot is a point-in-time view of one backend, written by the
// health scheduler for dashboard history.
type UsageSnapshot struct {
	ID              int64     `json:"id"`
	Backend         string    `json:"backend"`
	Healthy         bool      `json:"healthy"`
	LatencyMs       float64   `json:"latency_ms"`
	Requests        int       `json:"requests"`
	Tokens          int       `json:"tokens"`
	RequestFraction float64   `json:"request_fraction"`
	TokenFraction   float64   `json:"token_fraction"`
	SnapshotAt      time.Time `json:"snapshot_at"`
}
