package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c, err := Default(context.Background())
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	infos := c.Infos()
	if len(infos) != 1 || infos[0].Name != ToolMathEvaluate {
		t.Fatalf("unexpected tool infos: %#v", infos)
	}
	if !c.Has(ToolMathEvaluate) {
		t.Fatal("expected math tool to be registered")
	}
}

func TestCatalogRejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	_, err := NewCatalog(context.Background(), NewMathTool(), NewMathTool())
	if !errors.Is(err, contractx.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCatalogSelect(t *testing.T) {
	t.Parallel()

	c, err := Default(context.Background())
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	picked, err := c.Select(context.Background(), " "+ToolMathEvaluate)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if picked.Len() != 1 || !picked.Has(ToolMathEvaluate) {
		t.Fatalf("unexpected selection: %#v", picked.Infos())
	}

	none, err := c.Select(context.Background())
	if err != nil || none != nil {
		t.Fatalf("Select() with no names = %v, %v", none, err)
	}

	if _, err := c.Select(context.Background(), "web_search"); !errors.Is(err, contractx.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCatalogRunMathEvaluate(t *testing.T) {
	t.Parallel()

	c, err := Default(context.Background())
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	out, ok := c.Run(context.Background(), ToolMathEvaluate, `{"expression":"2 + 3 * (4 - 1)"}`)
	if !ok {
		t.Fatalf("unexpected tool failure: %s", out)
	}
	var result MathEvaluateOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Result != 11 {
		t.Fatalf("unexpected result: %v", result.Result)
	}
}

func TestCatalogRunReportsErrorsInBand(t *testing.T) {
	t.Parallel()

	c, err := Default(context.Background())
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	out, ok := c.Run(context.Background(), ToolMathEvaluate, `{"expression":"2 + abc"}`)
	if ok || !strings.Contains(out, "error") {
		t.Fatalf("expected in-band error, got ok=%v out=%s", ok, out)
	}

	out, ok = c.Run(context.Background(), "inventory_query", `{}`)
	if ok || !strings.Contains(out, "unavailable") {
		t.Fatalf("expected unavailable tool error, got ok=%v out=%s", ok, out)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"1 + 2":         3,
		"2 ^ 3 ^ 2":     512,
		"-2 ^ 2":        -4,
		"10 % 4":        2,
		"(1 + 2) * 3":   9,
		"7 / 2":         3.5,
		"2 * -3":        -6,
		"  .5 + .25   ": 0.75,
	}
	for expr, want := range cases {
		got, err := Evaluate(expr)
		if err != nil {
			t.Fatalf("Evaluate(%q) error = %v", expr, err)
		}
		if got != want {
			t.Fatalf("Evaluate(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "1 +", "(1 + 2", "1 / 0", "1 % 0", "1..2", "3 4", "x"} {
		if _, err := Evaluate(expr); err == nil {
			t.Fatalf("Evaluate(%q) expected error", expr)
		}
	}
}
