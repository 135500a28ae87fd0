package skills

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCryptoRun(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/simple/price" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ids := r.URL.Query().Get("ids"); ids != "bitcoin" {
			t.Errorf("ids = %q", ids)
		}
		fmt.Fprintln(w, `{"bitcoin":{"usd":64123.5}}`)
	}))
	defer ts.Close()

	skill := NewCrypto(WithCryptoBaseURL(ts.URL))
	got, err := skill.Run(context.Background(), "what's the btc price?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "bitcoin: $64123.50" {
		t.Errorf("Run = %q", got)
	}
}

func TestCryptoRunNoCoin(t *testing.T) {
	skill := NewCrypto()
	if _, err := skill.Run(context.Background(), "price of tulips"); err == nil {
		t.Error("want error for unknown coin")
	}
}

func TestCryptoRunServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	skill := NewCrypto(WithCryptoBaseURL(ts.URL))
	_, err := skill.Run(context.Background(), "eth price")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}

func TestFirstCoin(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"how much is ETH?", "ethereum"},
		{"bitcoin price", "bitcoin"},
		{"sol vs doge", "solana"},
		{"$xmr", "monero"},
		{"nothing here", ""},
	}
	for _, tc := range cases {
		if got := firstCoin(tc.message); got != tc.want {
			t.Errorf("firstCoin(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestCryptoTriggers(t *testing.T) {
	r := NewRegistry(NewCrypto())
	if r.Match("what's the ETH price today?") == nil {
		t.Error("eth keyword should match")
	}
	if r.Match("ethical questions") != nil {
		t.Error("ethical should not match eth")
	}
}
