package skills

import (
	"context"
	"strings"
	"testing"
)

func TestCalcEval(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"-5 + 3", -2},
		{"-(2 + 3)", -5},
		{"2 * -3", -6},
		{"1.5 + 2.25", 3.75},
		{"((1))", 1},
	}
	for _, tc := range cases {
		got, err := evalExpr(tc.expr)
		if err != nil {
			t.Errorf("evalExpr(%q): %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("evalExpr(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestCalcEvalErrors(t *testing.T) {
	cases := []string{
		"1 / 0",
		"5 % 0",
		"(1 + 2",
		"2 +",
		"abc",
		"1 2",
	}
	for _, expr := range cases {
		if _, err := evalExpr(expr); err == nil {
			t.Errorf("evalExpr(%q): want error", expr)
		}
	}
}

func TestCalcRun(t *testing.T) {
	c := NewCalc()

	got, err := c.Run(context.Background(), "calc 6 * 7")
	if err != nil {
		t.Fatal(err)
	}
	if got != "6 * 7 = 42" {
		t.Errorf("Run = %q", got)
	}

	got, err = c.Run(context.Background(), "10 / 4")
	if err != nil {
		t.Fatal(err)
	}
	if got != "10 / 4 = 2.5" {
		t.Errorf("Run = %q", got)
	}

	_, err = c.Run(context.Background(), "calc 1/0")
	if err == nil || !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("err = %v", err)
	}
}

func TestCalcTriggers(t *testing.T) {
	r := NewRegistry(NewCalc())

	matches := []string{
		"calc 1+1",
		"Calc 2*3",
		"2 + 2",
		"(1 + 2) * 3",
		"-5 * 4",
	}
	for _, m := range matches {
		if r.Match(m) == nil {
			t.Errorf("Match(%q) = nil, want calc", m)
		}
	}

	misses := []string{
		"calculate my taxes",
		"what is 2 + 2",
		"2 apples + 3 oranges",
	}
	for _, m := range misses {
		if r.Match(m) != nil {
			t.Errorf("Match(%q) matched, want nil", m)
		}
	}
}
