package llm

import (
	"context"
	"time"
)

// Backend is the interface implemented by every LLM vendor connection.
type Backend interface {
	// Name returns the backend's registry name (e.g. "groq").
	Name() string

	// Generate sends the conversation and returns the complete response.
	// model overrides the backend's current model when non-empty.
	// Failures are reported as *BackendError and mark the backend unhealthy.
	Generate(ctx context.Context, messages []Message, model string) (*Response, error)

	// Stream sends the conversation and returns a channel of incremental
	// chunks. The channel is closed after the final chunk. A chunk with a
	// non-nil Err means the stream ended early; any content already
	// received stands. The returned error is non-nil only when the stream
	// could not be started at all.
	Stream(ctx context.Context, messages []Message, model string) (<-chan StreamChunk, error)

	// HealthCheck performs a minimal live probe and updates health state
	// exactly like a generate or stream outcome.
	HealthCheck(ctx context.Context) bool

	// Models returns the known model identifiers. For backends that
	// discover installed models, the list is only accurate after at least
	// one successful HealthCheck.
	Models() []string

	// CurrentModel returns the active model name.
	CurrentModel() string

	// SetModel activates a model. It returns false and leaves the active
	// model unchanged when name is not in Models().
	SetModel(name string) bool

	// Status returns a snapshot of the backend's health bookkeeping.
	Status() Status
}

// Message represents a conversation message.
type Message struct {
	Role    Role
	Content string
}

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Response is the immutable result of a successful Generate call.
type Response struct {
	Content      string
	TokensUsed   int
	Model        string
	Backend      string
	LatencyMs    float64
	FinishReason string
}

// StreamChunk is one increment of a streamed response.
type StreamChunk struct {
	// Content is the next piece of response text.
	Content string

	// Err terminates the stream early when non-nil. Chunks already
	// delivered remain valid partial output.
	Err error
}

// Status is a point-in-time snapshot of a backend's health bookkeeping.
// It is mutated only by the backend itself; everyone else reads copies.
type Status struct {
	Name       string     `json:"name"`
	IsHealthy  bool       `json:"is_healthy"`
	LastCheck  *time.Time `json:"last_check,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCount int        `json:"error_count"`
	LatencyMs  float64    `json:"latency_ms,omitempty"`
}
