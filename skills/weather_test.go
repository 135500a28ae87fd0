package skills

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWeatherRun(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintln(w, "Berlin: ☀️ +22°C")
	}))
	defer ts.Close()

	skill := NewWeather(WithWeatherBaseURL(ts.URL))
	got, err := skill.Run(context.Background(), "weather in Berlin")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Berlin: ☀️ +22°C" {
		t.Errorf("Run = %q", got)
	}
	if gotPath != "/Berlin" {
		t.Errorf("path = %q, want /Berlin", gotPath)
	}
}

func TestWeatherRunServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	skill := NewWeather(WithWeatherBaseURL(ts.URL))
	if _, err := skill.Run(context.Background(), "weather"); err == nil {
		t.Error("want error on 503")
	}
}

func TestExtractCity(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"weather in Berlin", "Berlin"},
		{"what's the forecast for New York?", "New York"},
		{"weather at Oslo.", "Oslo"},
		{"Tokyo weather", "Tokyo"},
		{"what's the weather", ""},
		{"current weather?", ""},
		{"weather", ""},
	}
	for _, tc := range cases {
		if got := extractCity(tc.message); got != tc.want {
			t.Errorf("extractCity(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestWeatherTriggers(t *testing.T) {
	r := NewRegistry(NewWeather())
	if r.Match("what's the weather in Paris?") == nil {
		t.Error("weather keyword should match")
	}
	if r.Match("forecast for tomorrow") == nil {
		t.Error("forecast keyword should match")
	}
	if r.Match("whether or not") != nil {
		t.Error("whether should not match")
	}
}
