package xerrors

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			return false
		}
	}
}

func TestNew_MessageAndStack(t *testing.T) {
	err := New("container closed")
	if err.Error() != "container closed" {
		t.Fatalf("Error() = %q", err.Error())
	}
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New error should expose StackPCs")
	}
	if !stackContains(hs.StackPCs(), "TestNew_MessageAndStack") {
		t.Fatal("stack should start at the caller")
	}
}

func TestNewf_WrapsWithPercentW(t *testing.T) {
	err := Newf("resolve %s: %w", "pipeline", errSentinel)
	if !errors.Is(err, errSentinel) {
		t.Fatal("Newf should preserve %w chain")
	}
	if err.Error() != "resolve pipeline: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil || WithStack(nil) != nil || EnsureTrace(nil) != nil {
		t.Fatal("nil in should be nil out")
	}
}

func TestWrap_PrefixAndPC(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, "send GET /posts")
	if err.Error() != "send GET /posts: context deadline exceeded" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("Wrap should preserve the chain")
	}
	hp, ok := err.(interface{ PC() uintptr })
	if !ok || hp.PC() == 0 {
		t.Fatal("Wrap should record a PC")
	}
	fr, _ := runtime.CallersFrames([]uintptr{hp.PC()}).Next()
	if !strings.Contains(fr.Function, "TestWrap_PrefixAndPC") {
		t.Fatalf("PC points at %s, want the test function", fr.Function)
	}
}

func TestWrapf_Formats(t *testing.T) {
	err := Wrapf(errSentinel, "status %d", 401)
	if err.Error() != "status 401: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestEnsureTrace_KeepsExistingStack(t *testing.T) {
	orig := New("boom")
	wrapped := Wrap(orig, "outer")
	if got := EnsureTrace(wrapped); got != wrapped {
		t.Fatal("EnsureTrace should not add a second stack")
	}
}

func TestEnsureTrace_AddsStack(t *testing.T) {
	got := EnsureTrace(errSentinel)
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(got, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("EnsureTrace should capture a stack")
	}
	if !errors.Is(got, errSentinel) {
		t.Fatal("EnsureTrace should preserve identity via Is")
	}
}
