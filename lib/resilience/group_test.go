package resilience

import (
	"context"
	"errors"
	"testing"
)

func TestGroupBreakersPerKey(t *testing.T) {
	g := NewGroup("dial", Config{FailureThreshold: 1})
	ctx := context.Background()

	if g.Get("a") != g.Get("a") {
		t.Fatal("expected the same breaker for the same key")
	}

	g.Execute(ctx, "a", fail)
	if err := g.Execute(ctx, "a", succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected a to be open, got %v", err)
	}
	if err := g.Execute(ctx, "b", succeed); err != nil {
		t.Errorf("b should be unaffected, got %v", err)
	}
}

func TestGroupStatsSorted(t *testing.T) {
	g := NewGroup("dial", DefaultConfig())
	g.Get("zeta")
	g.Get("alpha")

	stats := g.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(stats))
	}
	if stats[0].Name != "dial:alpha" || stats[1].Name != "dial:zeta" {
		t.Errorf("unexpected order %q, %q", stats[0].Name, stats[1].Name)
	}
}

func TestGroupReset(t *testing.T) {
	g := NewGroup("dial", Config{FailureThreshold: 1})
	g.Execute(context.Background(), "a", fail)
	g.Reset()

	if g.Get("a").State() != StateClosed {
		t.Errorf("expected closed after reset, got %v", g.Get("a").State())
	}
}

func TestGroupRecordsMetrics(t *testing.T) {
	g := NewGroup("metrics", Config{FailureThreshold: 1})
	ctx := context.Background()

	rejected := BreakerRejections.Value()
	failed := BreakerFailures.Value()

	g.Execute(ctx, "x", fail)
	g.Execute(ctx, "x", succeed)

	if BreakerFailures.Value() != failed+1 {
		t.Errorf("expected failures to increase by 1")
	}
	if BreakerRejections.Value() != rejected+1 {
		t.Errorf("expected rejections to increase by 1")
	}
}
