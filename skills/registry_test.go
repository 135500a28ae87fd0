package skills

import (
	"context"
	"testing"
)

type stubSkill struct {
	name     string
	triggers []Trigger
	reply    string
}

func (s *stubSkill) Name() string        { return s.name }
func (s *stubSkill) Triggers() []Trigger { return s.triggers }
func (s *stubSkill) Run(ctx context.Context, message string) (string, error) {
	return s.reply, nil
}

func TestRegistryKeywordMatch(t *testing.T) {
	r := NewRegistry(&stubSkill{
		name:     "greet",
		triggers: []Trigger{KeywordTrigger("hello", "hi")},
	})

	cases := []struct {
		message string
		want    bool
	}{
		{"hello there", true},
		{"HELLO", true},
		{"well hi!", true},
		{"say hello.", true},
		{"hellothere", false},
		{"philosophical", false},
		{"no greeting here", false},
	}
	for _, tc := range cases {
		got := r.Match(tc.message) != nil
		if got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestRegistryPatternMatch(t *testing.T) {
	r := NewRegistry(&stubSkill{
		name:     "pat",
		triggers: []Trigger{PatternTrigger(`^run\b`)},
	})

	if r.Match("run the thing") == nil {
		t.Error("pattern should match at start")
	}
	if r.Match("RUN it") == nil {
		t.Error("pattern should be case-insensitive")
	}
	if r.Match("please run it") != nil {
		t.Error("anchored pattern should not match mid-message")
	}
}

func TestRegistryFirstMatchWins(t *testing.T) {
	first := &stubSkill{name: "first", triggers: []Trigger{KeywordTrigger("ping")}}
	second := &stubSkill{name: "second", triggers: []Trigger{KeywordTrigger("ping")}}
	r := NewRegistry(first, second)

	got := r.Match("ping")
	if got == nil || got.Name() != "first" {
		t.Errorf("Match = %v, want first", got)
	}
}

func TestRegistryNoMatch(t *testing.T) {
	r := NewRegistry(NewCalc(), NewWeather())
	if s := r.Match("tell me a story about dragons"); s != nil {
		t.Errorf("Match = %q, want nil", s.Name())
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(NewCalc(), NewWeather(), NewCrypto())
	names := r.Names()
	want := []string{"calc", "weather", "crypto"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
