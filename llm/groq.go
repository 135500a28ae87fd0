package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// GroqBackend is a Backend implementation using the Groq API, which speaks
// the OpenAI chat-completions protocol.
type GroqBackend struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	health     *health

	mu     sync.Mutex
	model  string
	models []string
}

// GroqOption configures the Groq backend.
type GroqOption func(*GroqBackend)

// WithGroqAPIKey sets the API key.
func WithGroqAPIKey(key string) GroqOption {
	return func(g *GroqBackend) {
		g.apiKey = key
	}
}

// WithGroqModel sets the default model.
func WithGroqModel(model string) GroqOption {
	return func(g *GroqBackend) {
		g.model = model
	}
}

// WithGroqModels sets the known model list.
func WithGroqModels(models []string) GroqOption {
	return func(g *GroqBackend) {
		g.models = slices.Clone(models)
	}
}

// WithGroqBaseURL sets the API base URL.
func WithGroqBaseURL(url string) GroqOption {
	return func(g *GroqBackend) {
		g.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithGroqHTTPClient sets a custom HTTP client.
func WithGroqHTTPClient(client *http.Client) GroqOption {
	return func(g *GroqBackend) {
		g.httpClient = client
	}
}

// Default Groq configuration values
const (
	DefaultGroqTimeout = 2 * time.Minute
	DefaultGroqModel   = "openai/gpt-oss-120b"
	DefaultGroqBaseURL = "https://api.groq.com"

	groqTemperature = 0.7
	groqMaxTokens   = 2048
)

// DefaultGroqModels is the fallback model list when none is configured.
var DefaultGroqModels = []string{
	"openai/gpt-oss-120b",
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
}

// NewGroq creates a new Groq backend.
func NewGroq(opts ...GroqOption) *GroqBackend {
	g := &GroqBackend{
		apiKey:  os.Getenv("GROQ_API_KEY"),
		baseURL: DefaultGroqBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultGroqTimeout,
		},
		model:  DefaultGroqModel,
		health: newHealth("groq"),
	}

	for _, opt := range opts {
		opt(g)
	}

	if len(g.models) == 0 {
		g.models = slices.Clone(DefaultGroqModels)
	}

	return g
}

// chatRequest is the OpenAI-compatible request format.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the OpenAI-compatible response format.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// chatStreamEvent is one SSE data payload of a streamed completion.
type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Name returns "groq".
func (g *GroqBackend) Name() string { return g.health.name }

// Generate sends the conversation and returns the complete response.
func (g *GroqBackend) Generate(ctx context.Context, messages []Message, model string) (*Response, error) {
	model = g.resolveModel(model)
	start := time.Now()

	resp, err := g.doRequest(ctx, g.buildRequest(messages, model, false))
	if err != nil {
		g.health.markUnhealthy(err.Error())
		return nil, err
	}

	latencyMs := float64(time.Since(start).Milliseconds())
	g.health.recordLatency(latencyMs)
	g.health.markHealthy()

	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = resp.Choices[0].FinishReason
	}
	if finishReason == "" {
		finishReason = "stop"
	}

	return &Response{
		Content:      content,
		TokensUsed:   resp.Usage.TotalTokens,
		Model:        model,
		Backend:      g.Name(),
		LatencyMs:    latencyMs,
		FinishReason: finishReason,
	}, nil
}

// Stream sends the conversation and returns a channel of content chunks.
func (g *GroqBackend) Stream(ctx context.Context, messages []Message, model string) (<-chan StreamChunk, error) {
	model = g.resolveModel(model)
	start := time.Now()

	httpReq, err := g.createHTTPRequest(ctx, g.buildRequest(messages, model, true))
	if err != nil {
		be := newBackendError(g.Name(), ErrUnknown, err)
		g.health.markUnhealthy(be.Error())
		return nil, be
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		be := transportError(g.Name(), err)
		g.health.markUnhealthy(be.Error())
		return nil, be
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		be := newBackendError(g.Name(), kindFromStatus(httpResp.StatusCode),
			fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body)))
		g.health.markUnhealthy(be.Error())
		return nil, be
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		if err := g.pipeSSE(ctx, httpResp.Body, ch); err != nil {
			// A cancelled caller is not a backend failure; just stop.
			if ctx.Err() != nil {
				return
			}
			be := newBackendError(g.Name(), ErrConnection, err)
			g.health.markUnhealthy(be.Error())
			select {
			case ch <- StreamChunk{Err: be}:
			case <-ctx.Done():
			}
			return
		}

		g.health.recordLatency(float64(time.Since(start).Milliseconds()))
		g.health.markHealthy()
	}()

	return ch, nil
}

// HealthCheck sends a one-token completion to verify connectivity.
func (g *GroqBackend) HealthCheck(ctx context.Context) bool {
	req := &chatRequest{
		Model:     g.CurrentModel(),
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}

	if _, err := g.doRequest(ctx, req); err != nil {
		g.health.markUnhealthy(fmt.Sprintf("health check failed: %v", err))
		return false
	}

	g.health.markHealthy()
	return true
}

// Models returns the configured model list.
func (g *GroqBackend) Models() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.models)
}

// CurrentModel returns the active model.
func (g *GroqBackend) CurrentModel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.model
}

// SetModel activates a model from the known list.
func (g *GroqBackend) SetModel(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !slices.Contains(g.models, name) {
		return false
	}
	g.model = name
	return true
}

// Status returns the current health snapshot.
func (g *GroqBackend) Status() Status { return g.health.status() }

func (g *GroqBackend) resolveModel(model string) string {
	if model != "" {
		return model
	}
	return g.CurrentModel()
}

func (g *GroqBackend) buildRequest(messages []Message, model string, stream bool) *chatRequest {
	req := &chatRequest{
		Model:       model,
		Temperature: groqTemperature,
		MaxTokens:   groqMaxTokens,
		Stream:      stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return req
}

func (g *GroqBackend) createHTTPRequest(ctx context.Context, req *chatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/openai/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	return httpReq, nil
}

func (g *GroqBackend) doRequest(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	httpReq, err := g.createHTTPRequest(ctx, req)
	if err != nil {
		return nil, newBackendError(g.Name(), ErrUnknown, err)
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(g.Name(), err)
	}

	body, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		return nil, newBackendError(g.Name(), ErrConnection, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, newBackendError(g.Name(), kindFromStatus(httpResp.StatusCode),
			fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body)))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newBackendError(g.Name(), ErrUnknown, fmt.Errorf("unmarshal response: %w", err))
	}
	return &resp, nil
}

// pipeSSE forwards "data:" payloads as content chunks until the [DONE]
// sentinel or EOF. Every send is guarded by ctx so an abandoned
// consumer cannot strand this goroutine on a full channel.
func (g *GroqBackend) pipeSSE(ctx context.Context, r io.Reader, ch chan<- StreamChunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
			select {
			case ch <- StreamChunk{Content: event.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}
