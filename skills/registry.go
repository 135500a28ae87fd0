// Package skills provides keyword-triggered handlers that answer simple
// requests directly, before any LLM backend is involved.
package skills

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// TriggerType identifies the type of skill trigger.
type TriggerType string

const (
	// TriggerKeyword matches specific keywords in the message.
	TriggerKeyword TriggerType = "keyword"
	// TriggerPattern matches a regex pattern against the message.
	TriggerPattern TriggerType = "pattern"
)

// Trigger defines when a skill should handle a message.
type Trigger struct {
	Type     TriggerType
	Keywords []string
	Pattern  string

	compiled *regexp.Regexp
}

// KeywordTrigger builds a keyword trigger.
func KeywordTrigger(keywords ...string) Trigger {
	return Trigger{Type: TriggerKeyword, Keywords: keywords}
}

// PatternTrigger builds a case-insensitive regex trigger. The pattern
// must compile.
func PatternTrigger(pattern string) Trigger {
	return Trigger{
		Type:     TriggerPattern,
		Pattern:  pattern,
		compiled: regexp.MustCompile("(?i)" + pattern),
	}
}

// Skill is one handler the registry can dispatch to.
type Skill interface {
	// Name identifies the skill in logs.
	Name() string

	// Triggers define when the skill activates.
	Triggers() []Trigger

	// Run handles the message and returns the reply.
	Run(ctx context.Context, message string) (string, error)
}

// Registry holds skills and matches incoming messages against their
// triggers. Skills are tried in registration order; the first match
// wins.
type Registry struct {
	mu     sync.RWMutex
	skills []Skill
}

// NewRegistry creates a registry over the given skills.
func NewRegistry(list ...Skill) *Registry {
	r := &Registry{}
	for _, s := range list {
		r.Register(s)
	}
	return r
}

// Register appends a skill.
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills = append(r.skills, s)
}

// Names returns the registered skill names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Name())
	}
	return out
}

// Match returns the first skill whose trigger matches the message, or
// nil when no skill applies and the message should go to the LLM.
func (r *Registry) Match(message string) Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(message)
	for _, s := range r.skills {
		for _, trigger := range s.Triggers() {
			if matchTrigger(trigger, message, lower) {
				slog.Debug("skill matched", "skill", s.Name())
				return s
			}
		}
	}
	return nil
}

func matchTrigger(t Trigger, message, lower string) bool {
	switch t.Type {
	case TriggerKeyword:
		for _, kw := range t.Keywords {
			if containsWord(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false

	case TriggerPattern:
		re := t.compiled
		if re == nil {
			var err error
			re, err = regexp.Compile("(?i)" + t.Pattern)
			if err != nil {
				return false
			}
		}
		return re.MatchString(message)

	default:
		return false
	}
}

// containsWord reports whether the message contains the word with word
// boundaries on both sides.
func containsWord(message, word string) bool {
	for start := 0; ; {
		i := strings.Index(message[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)

		beforeOK := i == 0 || !isWordChar(message[i-1])
		afterOK := end == len(message) || !isWordChar(message[end])
		if beforeOK && afterOK {
			return true
		}
		start = i + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
