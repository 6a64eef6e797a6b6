package shm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user-none/emubridge/logging"
)

func TestRPC_CallServe(t *testing.T) {
	dir := t.TempDir()
	caller, err := CreateRPC(dir, "rpc-1", 1024)
	if err != nil {
		t.Fatalf("CreateRPC: %v", err)
	}
	defer caller.Close()

	server := NewRPC(dir, "rpc-1")
	if err := server.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Serve(ctx, func(p []byte) []byte {
			return append([]byte("echo:"), p...)
		})
	}()

	for _, msg := range []string{"a", "bb", "ccc"} {
		callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
		got, err := caller.Call(callCtx, []byte(msg))
		callCancel()
		if err != nil {
			t.Fatalf("Call(%q): %v", msg, err)
		}
		if string(got) != "echo:"+msg {
			t.Fatalf("Call(%q) = %q", msg, got)
		}
	}

	cancel()
	wg.Wait()
}

func TestRPC_TimeoutThenStaleResponseDiscarded(t *testing.T) {
	dir := t.TempDir()
	caller, err := CreateRPC(dir, "rpc-2", 1024)
	if err != nil {
		t.Fatalf("CreateRPC: %v", err)
	}
	defer caller.Close()

	server := NewRPC(dir, "rpc-2")
	if err := server.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, err = caller.Call(ctx, []byte("first"))
	cancel()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// Answer the late request, then make a second call; the stale answer
	// must not be returned for it.
	if n := server.ServeOnce(func(p []byte) []byte { return p }); n != 1 {
		t.Fatalf("expected 1 request served, got %d", n)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if server.ServeOnce(func(p []byte) []byte { return []byte("fresh") }) > 0 {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := caller.Call(ctx, []byte("second"))
	if err != nil {
		t.Fatalf("second Call: %v", err)
	}
	if string(got) != "fresh" {
		t.Fatalf("second Call = %q, want fresh", got)
	}
	<-done
}

func TestRPC_PanickingHandler(t *testing.T) {
	dir := t.TempDir()
	caller, err := CreateRPC(dir, "rpc-3", 256)
	if err != nil {
		t.Fatalf("CreateRPC: %v", err)
	}
	defer caller.Close()
	server := NewRPC(dir, "rpc-3")
	if err := server.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer server.Close()

	go func() {
		for i := 0; i < 200; i++ {
			if server.ServeOnce(func([]byte) []byte { panic("boom") }) > 0 {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := caller.Call(ctx, []byte("x"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty response, got %q", got)
	}
}

func TestRPC_CallClosed(t *testing.T) {
	c := NewRPC(t.TempDir(), "rpc-4")
	if _, err := c.Call(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRPC_FullResponseQueueWarns(t *testing.T) {
	dir := t.TempDir()
	caller, err := CreateRPC(dir, "rpc-full", 1024)
	if err != nil {
		t.Fatalf("CreateRPC: %v", err)
	}
	defer caller.Close()

	server := NewRPC(dir, "rpc-full")
	if err := server.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer server.Close()
	var buf bytes.Buffer
	server.SetLogger(logging.New(&buf))

	for i := 0; i < 4; i++ {
		req := make([]byte, callIDSize+1)
		req[0] = byte(i + 1)
		if !caller.req.push(req) {
			t.Fatalf("request %d not queued", i)
		}
	}
	big := make([]byte, 400)
	if n := server.ServeOnce(func([]byte) []byte { return big }); n != 4 {
		t.Fatalf("ServeOnce handled %d, want 4", n)
	}
	if server.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", server.Dropped())
	}
	if n := strings.Count(buf.String(), "response queue full"); n != 1 {
		t.Errorf("got %d warnings, want 1:\n%s", n, buf.String())
	}
}
