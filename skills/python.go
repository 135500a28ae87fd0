package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Runner executes a Python snippet and returns its output. The sandbox
// package provides the container-backed implementation.
type Runner interface {
	RunPython(ctx context.Context, code string) (string, error)
}

// Python runs "python <code>" messages through a sandboxed interpreter.
type Python struct {
	runner   Runner
	triggers []Trigger
}

// NewPython creates the python skill over the given runner.
func NewPython(runner Runner) *Python {
	return &Python{
		runner: runner,
		triggers: []Trigger{
			PatternTrigger(`^\s*(?:python|py)\b`),
		},
	}
}

func (p *Python) Name() string        { return "python" }
func (p *Python) Triggers() []Trigger { return p.triggers }

// Run strips the command word and executes the rest as Python code.
func (p *Python) Run(ctx context.Context, message string) (string, error) {
	code := stripCommandWord(message)
	if code == "" {
		return "", errors.New("no code after the python command")
	}

	out, err := p.runner.RunPython(ctx, code)
	if err != nil {
		return "", fmt.Errorf("run python: %w", err)
	}

	out = strings.TrimRight(out, "\n")
	if out == "" {
		return "(no output)", nil
	}
	return out, nil
}

// stripCommandWord removes the leading "python" or "py" and any colon
// after it, keeping the code's own whitespace intact.
func stripCommandWord(message string) string {
	trimmed := strings.TrimLeft(message, " \t")
	lower := strings.ToLower(trimmed)

	for _, word := range []string{"python", "py"} {
		rest, ok := strings.CutPrefix(lower, word)
		if !ok || (rest != "" && isWordChar(rest[0])) {
			continue
		}
		code := trimmed[len(word):]
		code = strings.TrimLeft(code, " \t")
		code = strings.TrimPrefix(code, ":")
		return strings.TrimSpace(code)
	}
	return strings.TrimSpace(trimmed)
}
