package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultWikiURL is the Wikipedia REST API endpoint.
const DefaultWikiURL = "https://en.wikipedia.org"

const wikiMaxExtract = 1000

// Wiki answers "wiki <topic>" with the article summary from the
// Wikipedia REST API.
type Wiki struct {
	baseURL    string
	httpClient *http.Client
	triggers   []Trigger
}

// WikiOption configures the wiki skill.
type WikiOption func(*Wiki)

// WithWikiBaseURL overrides the Wikipedia endpoint.
func WithWikiBaseURL(url string) WikiOption {
	return func(w *Wiki) { w.baseURL = strings.TrimSuffix(url, "/") }
}

// WithWikiHTTPClient sets a custom HTTP client.
func WithWikiHTTPClient(client *http.Client) WikiOption {
	return func(w *Wiki) { w.httpClient = client }
}

// NewWiki creates the wiki skill.
func NewWiki(opts ...WikiOption) *Wiki {
	w := &Wiki{
		baseURL:    DefaultWikiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		triggers: []Trigger{
			PatternTrigger(`^\s*wiki(pedia)?\b`),
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wiki) Name() string        { return "wiki" }
func (w *Wiki) Triggers() []Trigger { return w.triggers }

// wikiSummary is the subset of the page summary response the skill uses.
type wikiSummary struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	Type        string `json:"type"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Run fetches the summary for the topic after the command word.
func (w *Wiki) Run(ctx context.Context, message string) (string, error) {
	topic := wikiTopic(message)
	if topic == "" {
		return "", fmt.Errorf("no topic after the wiki command")
	}

	// The REST API addresses pages by title with underscores for spaces.
	page := url.PathEscape(strings.ReplaceAll(topic, " ", "_"))
	req, err := http.NewRequestWithContext(ctx, "GET",
		w.baseURL+"/api/rest_v1/page/summary/"+page, nil)
	if err != nil {
		return "", err
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("wiki lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Sprintf("No Wikipedia article found for: %s", topic), nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wiki service returned %d", resp.StatusCode)
	}

	var summary wikiSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return "", fmt.Errorf("wiki lookup: %w", err)
	}

	if summary.Type == "disambiguation" {
		return fmt.Sprintf("%q is a disambiguation page. Try being more specific.", summary.Title), nil
	}
	if summary.Extract == "" {
		return "", fmt.Errorf("no summary for %s", topic)
	}

	extract := summary.Extract
	if len(extract) > wikiMaxExtract {
		extract = extract[:wikiMaxExtract-3] + "..."
	}

	var sb strings.Builder
	sb.WriteString(summary.Title)
	sb.WriteString("\n\n")
	sb.WriteString(extract)
	if link := summary.ContentURLs.Desktop.Page; link != "" {
		sb.WriteString("\n\n")
		sb.WriteString(link)
	}
	return sb.String(), nil
}

// wikiTopic strips the leading "wiki" or "wikipedia" and punctuation.
func wikiTopic(message string) string {
	trimmed := strings.TrimLeft(message, " \t")
	lower := strings.ToLower(trimmed)

	for _, word := range []string{"wikipedia", "wiki"} {
		rest, ok := strings.CutPrefix(lower, word)
		if !ok || (rest != "" && isWordChar(rest[0])) {
			continue
		}
		topic := trimmed[len(word):]
		topic = strings.TrimLeft(topic, " \t:")
		return strings.Trim(topic, "?!.,")
	}
	return ""
}
