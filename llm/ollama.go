package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// OllamaBackend is a Backend implementation for an Ollama server, either a
// local instance or a hosted one. The local variant discovers its model
// list from the instance on every successful health check; the hosted
// variant keeps the configured list.
type OllamaBackend struct {
	name           string
	host           string
	apiKey         string
	httpClient     *http.Client
	discoverModels bool
	health         *health

	mu     sync.Mutex
	model  string
	models []string
}

// OllamaOption configures an Ollama backend.
type OllamaOption func(*OllamaBackend)

// WithOllamaModel sets the default model.
func WithOllamaModel(model string) OllamaOption {
	return func(o *OllamaBackend) {
		o.model = model
	}
}

// WithOllamaModels sets the known model list.
func WithOllamaModels(models []string) OllamaOption {
	return func(o *OllamaBackend) {
		o.models = slices.Clone(models)
	}
}

// WithOllamaAPIKey sets a bearer token for hosted instances.
func WithOllamaAPIKey(key string) OllamaOption {
	return func(o *OllamaBackend) {
		o.apiKey = key
	}
}

// WithOllamaHTTPClient sets a custom HTTP client.
func WithOllamaHTTPClient(client *http.Client) OllamaOption {
	return func(o *OllamaBackend) {
		o.httpClient = client
	}
}

// Default Ollama configuration values
const (
	DefaultOllamaTimeout = 5 * time.Minute
	DefaultOllamaModel   = "llama3.1"
	DefaultOllamaHost    = "http://localhost:11434"
)

// DefaultOllamaCloudModels is the fallback model list for hosted instances.
var DefaultOllamaCloudModels = []string{"llama3.1", "mistral"}

// NewOllamaLocal creates a backend for a local Ollama instance. Its model
// list starts empty and is populated by HealthCheck from /api/tags.
func NewOllamaLocal(host string, opts ...OllamaOption) *OllamaBackend {
	if host == "" {
		host = DefaultOllamaHost
	}
	return newOllama("ollama_local", host, true, nil, opts...)
}

// NewOllamaCloud creates a backend for a hosted Ollama instance.
func NewOllamaCloud(host string, opts ...OllamaOption) *OllamaBackend {
	return newOllama("ollama_cloud", host, false, DefaultOllamaCloudModels, opts...)
}

func newOllama(name, host string, discover bool, models []string, opts ...OllamaOption) *OllamaBackend {
	o := &OllamaBackend{
		name:           name,
		host:           strings.TrimSuffix(host, "/"),
		httpClient:     &http.Client{Timeout: DefaultOllamaTimeout},
		discoverModels: discover,
		model:          DefaultOllamaModel,
		models:         slices.Clone(models),
		health:         newHealth(name),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// ollamaChatRequest is the /api/chat request format.
type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ollamaChatResponse is one /api/chat response object. When streaming, the
// server sends one JSON object per line with Done marking the last.
type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	EvalCount       int  `json:"eval_count"`
	PromptEvalCount int  `json:"prompt_eval_count"`
}

// ollamaTagsResponse is the /api/tags model listing.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Name returns the backend's registry name.
func (o *OllamaBackend) Name() string { return o.name }

// Generate sends the conversation and returns the complete response.
func (o *OllamaBackend) Generate(ctx context.Context, messages []Message, model string) (*Response, error) {
	model = o.resolveModel(model)
	start := time.Now()

	body, err := o.do(ctx, "POST", "/api/chat", &ollamaChatRequest{
		Model:    model,
		Messages: toChatMessages(messages),
	})
	if err != nil {
		o.health.markUnhealthy(err.Error())
		return nil, err
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		be := newBackendError(o.name, ErrUnknown, fmt.Errorf("unmarshal response: %w", err))
		o.health.markUnhealthy(be.Error())
		return nil, be
	}

	latencyMs := float64(time.Since(start).Milliseconds())
	o.health.recordLatency(latencyMs)
	o.health.markHealthy()

	return &Response{
		Content:      resp.Message.Content,
		TokensUsed:   resp.EvalCount + resp.PromptEvalCount,
		Model:        model,
		Backend:      o.name,
		LatencyMs:    latencyMs,
		FinishReason: "stop",
	}, nil
}

// Stream sends the conversation and returns a channel of content chunks.
func (o *OllamaBackend) Stream(ctx context.Context, messages []Message, model string) (<-chan StreamChunk, error) {
	model = o.resolveModel(model)
	start := time.Now()

	httpReq, err := o.newRequest(ctx, "POST", "/api/chat", &ollamaChatRequest{
		Model:    model,
		Messages: toChatMessages(messages),
		Stream:   true,
	})
	if err != nil {
		be := newBackendError(o.name, ErrUnknown, err)
		o.health.markUnhealthy(be.Error())
		return nil, be
	}

	httpResp, err := o.httpClient.Do(httpReq)
	if err != nil {
		be := transportError(o.name, err)
		o.health.markUnhealthy(be.Error())
		return nil, be
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		be := newBackendError(o.name, kindFromStatus(httpResp.StatusCode),
			fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body)))
		o.health.markUnhealthy(be.Error())
		return nil, be
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		if err := o.pipeNDJSON(ctx, httpResp.Body, ch); err != nil {
			// A cancelled caller is not a backend failure; just stop.
			if ctx.Err() != nil {
				return
			}
			be := newBackendError(o.name, ErrConnection, err)
			o.health.markUnhealthy(be.Error())
			select {
			case ch <- StreamChunk{Err: be}:
			case <-ctx.Done():
			}
			return
		}

		o.health.recordLatency(float64(time.Since(start).Milliseconds()))
		o.health.markHealthy()
	}()

	return ch, nil
}

// HealthCheck lists models to verify connectivity. For local instances the
// model list is refreshed from the response, tag suffixes stripped.
func (o *OllamaBackend) HealthCheck(ctx context.Context) bool {
	body, err := o.do(ctx, "GET", "/api/tags", nil)
	if err != nil {
		o.health.markUnhealthy(fmt.Sprintf("health check failed: %v", err))
		return false
	}

	if o.discoverModels {
		var tags ollamaTagsResponse
		if err := json.Unmarshal(body, &tags); err == nil {
			var models []string
			for _, m := range tags.Models {
				if m.Name == "" {
					continue
				}
				name, _, _ := strings.Cut(m.Name, ":")
				if !slices.Contains(models, name) {
					models = append(models, name)
				}
			}
			o.mu.Lock()
			o.models = models
			o.mu.Unlock()
		}
	}

	o.health.markHealthy()
	return true
}

// Models returns the known model list.
func (o *OllamaBackend) Models() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.models)
}

// CurrentModel returns the active model.
func (o *OllamaBackend) CurrentModel() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// SetModel activates a model from the known list.
func (o *OllamaBackend) SetModel(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !slices.Contains(o.models, name) {
		return false
	}
	o.model = name
	return true
}

// Status returns the current health snapshot.
func (o *OllamaBackend) Status() Status { return o.health.status() }

func (o *OllamaBackend) resolveModel(model string) string {
	if model != "" {
		return model
	}
	return o.CurrentModel()
}

func toChatMessages(messages []Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (o *OllamaBackend) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, o.host+path, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	return httpReq, nil
}

// do performs a non-streaming request and returns the raw body, wrapping
// failures as classified backend errors.
func (o *OllamaBackend) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	httpReq, err := o.newRequest(ctx, method, path, payload)
	if err != nil {
		return nil, newBackendError(o.name, ErrUnknown, err)
	}

	httpResp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(o.name, err)
	}

	body, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		return nil, newBackendError(o.name, ErrConnection, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, newBackendError(o.name, kindFromStatus(httpResp.StatusCode),
			fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body)))
	}
	return body, nil
}

// pipeNDJSON forwards streamed chat objects as content chunks until the
// done marker or EOF. Every send is guarded by ctx so an abandoned
// consumer cannot strand this goroutine on a full channel.
func (o *OllamaBackend) pipeNDJSON(ctx context.Context, r io.Reader, ch chan<- StreamChunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Message.Content != "" {
			select {
			case ch <- StreamChunk{Content: resp.Message.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if resp.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}
