package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLogger_Prefix(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf)
	lg.Warnf("queue full (%d dropped)", 3)

	out := buf.String()
	if !strings.HasPrefix(out, Prefix) {
		t.Fatalf("expected prefix %q, got %q", Prefix, out)
	}
	if !strings.Contains(out, "Warning: queue full (3 dropped)") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestLogger_DebugGated(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf)
	lg.Debugf("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output with verbose off, got %q", buf.String())
	}
	lg.SetVerbose(true)
	lg.Debugf("shown")
	if !strings.Contains(buf.String(), "Debug: shown") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

func TestLimiter(t *testing.T) {
	base := time.Unix(1000, 0)
	now := base
	rl := NewLimiter(time.Second)
	rl.now = func() time.Time { return now }

	if !rl.Allow() {
		t.Fatal("first call should be allowed")
	}
	now = base.Add(500 * time.Millisecond)
	if rl.Allow() {
		t.Fatal("call inside the interval should be refused")
	}
	now = base.Add(1500 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("call after the interval should be allowed")
	}
}

func TestOnce(t *testing.T) {
	var o Once
	if !o.First("Foo") {
		t.Fatal("first sighting should report true")
	}
	if o.First("Foo") {
		t.Fatal("second sighting should report false")
	}
	if !o.First("Bar") {
		t.Fatal("distinct key should report true")
	}
}
