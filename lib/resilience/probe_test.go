package resilience

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestProbeHealthyListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	p := NewProbe("sam", listener.Addr().String(), ProbeConfig{Timeout: time.Second})
	if !p.Check(context.Background()) {
		t.Fatal("expected healthy with listener up")
	}
	if !p.Allow() {
		t.Error("healthy probe should allow")
	}
	if p.LastHealthy().IsZero() {
		t.Error("LastHealthy should be set")
	}
}

func TestProbeOpensOnFailures(t *testing.T) {
	p := NewProbe("sam", "127.0.0.1:1", ProbeConfig{
		Breaker: Config{FailureThreshold: 2, Cooldown: time.Hour},
		Timeout: 100 * time.Millisecond,
	})

	changed := make(chan bool, 1)
	p.OnChange(func(healthy bool) { changed <- healthy })

	p.Check(context.Background())
	p.Check(context.Background())

	if p.Healthy() {
		t.Error("expected unhealthy with no listener")
	}
	if p.Allow() {
		t.Error("expected probe to block work after repeated failures")
	}
	select {
	case healthy := <-changed:
		if healthy {
			t.Error("expected change to unhealthy")
		}
	case <-time.After(time.Second):
		t.Fatal("OnChange not invoked")
	}
}

func TestProbeRecovery(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	p := NewProbe("sam", listener.Addr().String(), ProbeConfig{Timeout: time.Second})
	p.Breaker().ForceOpen()
	if p.Allow() {
		t.Fatal("expected forced-open probe to block")
	}

	p.Check(context.Background())
	if !p.Allow() {
		t.Error("successful check should close the breaker")
	}
}

func TestProbeStartStop(t *testing.T) {
	p := NewProbe("sam", "127.0.0.1:1", ProbeConfig{
		Interval: 10 * time.Millisecond,
		Timeout:  10 * time.Millisecond,
	})

	p.Start(context.Background())
	p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	p.Stop()

	if p.Healthy() {
		t.Error("expected unhealthy after background checks")
	}
}
