package skills

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWikiRun(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintln(w, `{
			"title": "Raspberry Pi",
			"extract": "The Raspberry Pi is a small single-board computer.",
			"type": "standard",
			"content_urls": {"desktop": {"page": "https://en.wikipedia.org/wiki/Raspberry_Pi"}}
		}`)
	}))
	defer ts.Close()

	skill := NewWiki(WithWikiBaseURL(ts.URL))
	got, err := skill.Run(context.Background(), "wiki Raspberry Pi")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "Raspberry Pi\n\nThe Raspberry Pi is a small single-board computer.") {
		t.Errorf("Run = %q", got)
	}
	if !strings.Contains(got, "https://en.wikipedia.org/wiki/Raspberry_Pi") {
		t.Errorf("reply is missing the article link: %q", got)
	}
	if gotPath != "/api/rest_v1/page/summary/Raspberry_Pi" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestWikiRunNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	skill := NewWiki(WithWikiBaseURL(ts.URL))
	got, err := skill.Run(context.Background(), "wiki Xyzzyplugh")
	if err != nil {
		t.Fatal(err)
	}
	if got != "No Wikipedia article found for: Xyzzyplugh" {
		t.Errorf("Run = %q", got)
	}
}

func TestWikiRunDisambiguation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"title": "Mercury", "extract": "Mercury may refer to:", "type": "disambiguation"}`)
	}))
	defer ts.Close()

	skill := NewWiki(WithWikiBaseURL(ts.URL))
	got, err := skill.Run(context.Background(), "wiki Mercury")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "disambiguation") {
		t.Errorf("Run = %q", got)
	}
}

func TestWikiRunTruncatesLongExtracts(t *testing.T) {
	long := strings.Repeat("a", 2000)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"title": "Long", "extract": %q, "type": "standard"}`, long)
	}))
	defer ts.Close()

	skill := NewWiki(WithWikiBaseURL(ts.URL))
	got, err := skill.Run(context.Background(), "wiki Long")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long extract not truncated: %q", got[len(got)-20:])
	}
	if strings.Contains(got, strings.Repeat("a", wikiMaxExtract)) {
		t.Error("extract longer than the cap")
	}
}

func TestWikiTopic(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"wiki Raspberry Pi", "Raspberry Pi"},
		{"Wikipedia: Go (programming language)", "Go (programming language)"},
		{"wiki", ""},
		{"wikipedia Ada Lovelace?", "Ada Lovelace"},
	}
	for _, tc := range cases {
		if got := wikiTopic(tc.message); got != tc.want {
			t.Errorf("wikiTopic(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestWikiTriggers(t *testing.T) {
	r := NewRegistry(NewWiki())
	if r.Match("wiki Raspberry Pi") == nil {
		t.Error("wiki prefix should match")
	}
	if r.Match("wikipedia Alan Turing") == nil {
		t.Error("wikipedia prefix should match")
	}
	if r.Match("a wiki about cooking") != nil {
		t.Error("mid-message wiki should not match")
	}
}
