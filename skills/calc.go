package skills

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Calc evaluates arithmetic expressions. It triggers on "calc ..." or on
// a message that is nothing but an expression containing an operator.
type Calc struct {
	triggers []Trigger
}

// NewCalc creates the calculator skill.
func NewCalc() *Calc {
	return &Calc{
		triggers: []Trigger{
			PatternTrigger(`^\s*calc\b`),
			PatternTrigger(`^\s*-?[\d(][\d\s.()]*[-+*/%][\d\s.+\-*/%()]*$`),
		},
	}
}

func (c *Calc) Name() string        { return "calc" }
func (c *Calc) Triggers() []Trigger { return c.triggers }

// Run evaluates the expression and formats the result.
func (c *Calc) Run(ctx context.Context, message string) (string, error) {
	expr := strings.TrimSpace(message)
	if rest, ok := strings.CutPrefix(strings.ToLower(expr), "calc"); ok {
		expr = strings.TrimSpace(rest)
	}

	result, err := evalExpr(expr)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", expr, err)
	}

	return fmt.Sprintf("%s = %s", expr, formatNumber(result)), nil
}

func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// evalExpr parses and evaluates an arithmetic expression with the usual
// precedence: unary minus, then * / %, then + -.
func evalExpr(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q", p.input[p.pos:])
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseAddSub() (float64, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseMulDiv() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, errors.New("division by zero")
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, errors.New("division by zero")
			}
			left = float64(int64(left) % int64(right))
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, errors.New("expected a number")
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return v, nil
}
