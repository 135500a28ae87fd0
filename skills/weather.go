package skills

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultWeatherURL is the wttr.in endpoint.
const DefaultWeatherURL = "https://wttr.in"

// Weather answers "weather in <city>" using wttr.in's one-line format.
type Weather struct {
	baseURL    string
	httpClient *http.Client
	triggers   []Trigger
}

// WeatherOption configures the weather skill.
type WeatherOption func(*Weather)

// WithWeatherBaseURL overrides the wttr.in endpoint.
func WithWeatherBaseURL(url string) WeatherOption {
	return func(w *Weather) { w.baseURL = strings.TrimSuffix(url, "/") }
}

// WithWeatherHTTPClient sets a custom HTTP client.
func WithWeatherHTTPClient(client *http.Client) WeatherOption {
	return func(w *Weather) { w.httpClient = client }
}

// NewWeather creates the weather skill.
func NewWeather(opts ...WeatherOption) *Weather {
	w := &Weather{
		baseURL:    DefaultWeatherURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		triggers:   []Trigger{KeywordTrigger("weather", "forecast")},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Weather) Name() string        { return "weather" }
func (w *Weather) Triggers() []Trigger { return w.triggers }

// Run fetches the one-line report for the city named in the message.
// Without a recognizable city, wttr.in geolocates by IP.
func (w *Weather) Run(ctx context.Context, message string) (string, error) {
	city := extractCity(message)

	u := w.baseURL + "/" + url.PathEscape(city) + "?format=3"
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "curl/8") // wttr.in serves HTML to browsers

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("weather lookup: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather service returned %d", resp.StatusCode)
	}

	return strings.TrimSpace(string(body)), nil
}

// extractCity pulls the city from phrases like "weather in Berlin" or
// "Berlin weather". Empty when the message gives no city.
func extractCity(message string) string {
	words := strings.Fields(message)
	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(strings.Trim(w, "?!.,"))
	}

	for i, w := range lower {
		if (w == "in" || w == "for" || w == "at") && i+1 < len(words) {
			return strings.Trim(strings.Join(words[i+1:], " "), "?!.,")
		}
	}

	// "<city> weather"
	for i, w := range lower {
		if (w == "weather" || w == "forecast") && i > 0 {
			prev := strings.Trim(words[i-1], "?!.,")
			if !isStopWord(strings.ToLower(prev)) {
				return prev
			}
		}
	}
	return ""
}

func isStopWord(w string) bool {
	switch w {
	case "the", "a", "whats", "what's", "hows", "how's", "is", "current", "todays", "today's":
		return true
	}
	return false
}
