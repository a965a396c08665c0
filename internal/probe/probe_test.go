package probe

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Func

func TestFunc_ImplementsProbe(t *testing.T) {
	var _ Probe = Func(func(ctx context.Context) error { return nil })
}

func TestFunc_FailingProbe(t *testing.T) {
	p := Func(func(ctx context.Context) error { return fmt.Errorf("broken") })
	if err := p.Check(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

// Static

func TestStatic_OK(t *testing.T) {
	if err := Static(true, "ignored").Check(context.Background()); err != nil {
		t.Fatalf("Static(true) should pass, got %v", err)
	}
}

func TestStatic_Fail_WithReason(t *testing.T) {
	err := Static(false, "api offline").Check(context.Background())
	if err == nil || err.Error() != "api offline" {
		t.Fatalf("err = %v, want 'api offline'", err)
	}
}

func TestStatic_Fail_DefaultReason(t *testing.T) {
	err := Static(false, "").Check(context.Background())
	if err == nil || err.Error() != "unhealthy" {
		t.Fatalf("err = %v, want 'unhealthy'", err)
	}
}

// Multi

func TestMulti_FirstErrorWins(t *testing.T) {
	p := Multi(Static(true, ""), nil, Static(false, "first"), Static(false, "second"))
	err := p.Check(context.Background())
	if err == nil || err.Error() != "first" {
		t.Fatalf("err = %v, want first", err)
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := Multi().Check(context.Background()); err != nil {
		t.Fatalf("empty Multi should pass, got %v", err)
	}
}

// Any

func TestAny_OnePasses(t *testing.T) {
	if err := Any(Static(false, "a"), Static(true, "")).Check(context.Background()); err != nil {
		t.Fatalf("Any should pass, got %v", err)
	}
}

func TestAny_AllFail_LastError(t *testing.T) {
	err := Any(Static(false, "a"), Static(false, "b")).Check(context.Background())
	if err == nil || err.Error() != "b" {
		t.Fatalf("err = %v, want b", err)
	}
}

func TestAny_Empty(t *testing.T) {
	err := Any(nil).Check(context.Background())
	if err == nil || err.Error() != "no healthy probes" {
		t.Fatalf("err = %v, want 'no healthy probes'", err)
	}
}

// Gate

func TestGate_DefaultOpen(t *testing.T) {
	var g Gate
	if err := g.Probe().Check(context.Background()); err != nil {
		t.Fatalf("zero Gate should pass, got %v", err)
	}
}

func TestGate_CloseAndOpen(t *testing.T) {
	var g Gate
	g.Close("session expired")
	err := g.Probe().Check(context.Background())
	if err == nil || err.Error() != "session expired" {
		t.Fatalf("err = %v, want 'session expired'", err)
	}
	if !g.IsClosed() {
		t.Fatal("IsClosed = false after Close")
	}
	g.Open()
	if err := g.Probe().Check(context.Background()); err != nil {
		t.Fatalf("reopened gate should pass, got %v", err)
	}
}

func TestGate_DefaultReason(t *testing.T) {
	var g Gate
	g.Close("")
	err := g.Probe().Check(context.Background())
	if err == nil || err.Error() != "closed" {
		t.Fatalf("err = %v, want closed", err)
	}
}

func TestGate_ConcurrentAccess(t *testing.T) {
	var g Gate
	p := g.Probe()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); g.Close("x"); g.Open() }()
		go func() { defer wg.Done(); _ = p.Check(context.Background()) }()
	}
	wg.Wait()
}

// Heartbeat

func TestHeartbeat_FailsBeforeFirstBeat(t *testing.T) {
	var h Heartbeat
	if err := h.Probe(time.Minute).Check(context.Background()); err == nil {
		t.Fatal("expected failure before first beat")
	}
	if !h.Last().IsZero() {
		t.Fatal("Last should be zero before first beat")
	}
}

func TestHeartbeat_Staleness(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := Heartbeat{now: func() time.Time { return now }}
	h.Beat()

	p := h.Probe(30 * time.Second)
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("fresh heartbeat should pass, got %v", err)
	}

	now = now.Add(31 * time.Second)
	if err := p.Check(context.Background()); err == nil {
		t.Fatal("stale heartbeat should fail")
	}

	h.Beat()
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("renewed heartbeat should pass, got %v", err)
	}
}
