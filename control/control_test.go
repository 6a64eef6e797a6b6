package control

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/wire"
)

type memQueue struct {
	open bool
	max  int
	recs [][]byte
}

func (q *memQueue) Name() string { return "command-test" }
func (q *memQueue) IsOpen() bool { return q.open }
func (q *memQueue) Write(rec []byte) bool {
	if q.max > 0 && len(q.recs) >= q.max {
		return false
	}
	q.recs = append(q.recs, rec)
	return true
}

func call(t *testing.T, name, arg string) []byte {
	t.Helper()
	p, err := wire.EncodeMethodCall(wire.MethodCall{Name: name, Arg: arg})
	if err != nil {
		t.Fatalf("EncodeMethodCall: %v", err)
	}
	return p
}

// actions collects posted functions so tests can drain them like the main
// thread would.
type actions []func()

func (a *actions) post(fn func()) { *a = append(*a, fn) }
func (a *actions) drain() {
	for _, fn := range *a {
		fn()
	}
	*a = nil
}

func TestClient_Commands(t *testing.T) {
	q := &memQueue{open: true}
	c := NewClient(q, logging.New(&bytes.Buffer{}))

	w := wire.Watch{Address: 0xFF0010, Size: 2, BigEndian: true, Type: wire.Unsigned, Domain: "68K RAM"}
	c.Pause()
	c.SetVolume(0.5)
	c.LoadState("/tmp/a.state")
	c.LoadROM("/roms/b.md")
	c.FrameAdvance()
	c.AddWatch(w)
	c.Unpause()

	want := []wire.MethodCall{
		{Name: wire.CmdPause},
		{Name: wire.CmdSetVolume, Arg: "0.5"},
		{Name: wire.CmdLoadState, Arg: "/tmp/a.state"},
		{Name: wire.CmdLoadROM, Arg: "/roms/b.md"},
		{Name: wire.CmdFrameAdvance},
		{Name: wire.CmdAddWatch, Arg: w.String()},
		{Name: wire.CmdUnpause},
	}
	if len(q.recs) != len(want) {
		t.Fatalf("sent %d records, want %d", len(q.recs), len(want))
	}
	for i, rec := range q.recs {
		got, err := wire.DecodeMethodCall(rec)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got, want[i])
		}
	}
}

func TestClient_ClosedAndFull(t *testing.T) {
	var buf bytes.Buffer
	q := &memQueue{}
	c := NewClient(q, logging.New(&buf))
	if c.Pause() {
		t.Fatal("send on a closed queue should fail")
	}

	q.open = true
	q.max = 1
	if !c.Pause() {
		t.Fatal("first send should succeed")
	}
	if c.Unpause() || c.Unpause() {
		t.Fatal("send on a full queue should fail")
	}
	if n := strings.Count(buf.String(), "full"); n != 1 {
		t.Errorf("got %d full warnings, want 1", n)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	h := func(string) (string, bool) { return "", false }

	if err := r.Register("Foo", h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("Foo", h); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate Register = %v, want ErrDuplicate", err)
	}
	for _, name := range []string{wire.MethodROMLoaded, wire.MethodWatchValue} {
		if err := r.Register(name, h); !errors.Is(err, ErrReserved) {
			t.Errorf("Register(%q) = %v, want ErrReserved", name, err)
		}
	}
	if !r.Unregister("Foo") {
		t.Error("Unregister should report an existing handler")
	}
	if _, ok := r.Lookup("Foo"); ok {
		t.Error("handler still present after Unregister")
	}
	if err := r.Register("Foo", h); err != nil {
		t.Errorf("re-Register after Unregister: %v", err)
	}
}

func TestRegistry_Watch(t *testing.T) {
	r := NewRegistry()
	w := wire.Watch{Address: 16, Size: 1, Type: wire.Unsigned}

	if _, err := r.Watch(wire.Watch{Address: 1, Size: 3, Type: wire.Unsigned}, func(wire.WatchValue) {}); err == nil {
		t.Error("invalid watch should be rejected")
	}

	calls := 0
	key, err := r.Watch(w, func(wire.WatchValue) { calls++ })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	key2, _ := r.Watch(w, func(wire.WatchValue) { calls += 10 })
	if key != key2 || key != w.Key() {
		t.Fatal("same watch must map to the same key")
	}
	if got := r.Watches(); len(got) != 1 || got[0] != w {
		t.Fatalf("Watches = %v, want [%v]", got, w)
	}
	fn, _ := r.watchFunc(key)
	fn(wire.WatchValue{})
	if calls != 10 {
		t.Errorf("second registration should replace the first, calls = %d", calls)
	}
	if got, ok := r.Unwatch(key); !ok || got != w {
		t.Errorf("Unwatch = %v, %v", got, ok)
	}
	if len(r.Watches()) != 0 {
		t.Error("watch table not empty after Unwatch")
	}
}

func TestDispatcher_UnknownWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	var a actions
	d := NewDispatcher(NewRegistry(), logging.New(&buf), a.post, nil)

	for i := 0; i < 2; i++ {
		if out := d.Handle(call(t, "Foo", "")); len(out) != 0 {
			t.Errorf("unknown call %d returned %v, want empty", i, out)
		}
	}
	if n := strings.Count(buf.String(), `"Foo"`); n != 1 {
		t.Errorf("got %d warnings for Foo, want 1:\n%s", n, buf.String())
	}

	d.Handle(call(t, "Bar", ""))
	if n := strings.Count(buf.String(), "no handler"); n != 2 {
		t.Errorf("a second unknown name should warn too, got %d warnings", n)
	}
}

func TestDispatcher_UserHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register("double", func(arg string) (string, bool) { return arg + arg, true })
	reg.Register("noop", func(string) (string, bool) { return "", false })
	reg.Register("boom", func(string) (string, bool) { panic("boom") })

	var buf bytes.Buffer
	var a actions
	d := NewDispatcher(reg, logging.New(&buf), a.post, nil)

	ret, err := wire.DecodeReturn(d.Handle(call(t, "double", "ab")))
	if err != nil || ret != (wire.Return{Value: "abab", OK: true}) {
		t.Errorf("double = %+v, %v", ret, err)
	}
	ret, err = wire.DecodeReturn(d.Handle(call(t, "noop", "x")))
	if err != nil || ret.OK {
		t.Errorf("noop = %+v, %v", ret, err)
	}
	ret, err = wire.DecodeReturn(d.Handle(call(t, "boom", "")))
	if err != nil || ret.OK {
		t.Errorf("boom = %+v, %v", ret, err)
	}
	if !strings.Contains(buf.String(), "panicked") {
		t.Error("handler panic should be logged")
	}
}

func TestDispatcher_ROMLoadedIsPosted(t *testing.T) {
	var a actions
	var loaded []string
	d := NewDispatcher(NewRegistry(), logging.New(&bytes.Buffer{}), a.post, func(s string) {
		loaded = append(loaded, s)
	})

	d.Handle(call(t, wire.MethodROMLoaded, "genesis"))
	if len(loaded) != 0 {
		t.Fatal("rom-loaded must not run on the dispatching goroutine")
	}
	a.drain()
	if len(loaded) != 1 || loaded[0] != "genesis" {
		t.Fatalf("loaded = %v", loaded)
	}
}

func TestDispatcher_WatchValue(t *testing.T) {
	reg := NewRegistry()
	w := wire.Watch{Address: 0x10, Size: 4, Type: wire.Float, Domain: "WRAM"}
	var got []wire.WatchValue
	reg.Watch(w, func(v wire.WatchValue) { got = append(got, v) })

	var buf bytes.Buffer
	var a actions
	d := NewDispatcher(reg, logging.New(&buf), a.post, nil)

	d.Handle(call(t, wire.MethodWatchValue, wire.FormatWatchValue(wire.WatchValue{Watch: w, Value: "1.5"})))
	other := wire.Watch{Address: 0x20, Size: 1, Type: wire.Unsigned}
	d.Handle(call(t, wire.MethodWatchValue, wire.FormatWatchValue(wire.WatchValue{Watch: other, Value: "3"})))
	d.Handle(call(t, wire.MethodWatchValue, "1,2,3"))

	if len(got) != 0 {
		t.Fatal("watch callbacks must be posted, not run inline")
	}
	a.drain()
	if len(got) != 1 || got[0].Value != "1.5" || got[0].Watch != w {
		t.Fatalf("got = %+v", got)
	}
	if !strings.Contains(buf.String(), "discarding watch value") {
		t.Error("malformed watch value should be logged")
	}
}

func TestDispatcher_MalformedPayload(t *testing.T) {
	var buf bytes.Buffer
	var a actions
	d := NewDispatcher(NewRegistry(), logging.New(&buf), a.post, nil)
	if out := d.Handle([]byte{0xFF}); out != nil {
		t.Errorf("malformed payload returned %v", out)
	}
	if !strings.Contains(buf.String(), "discarding inbound call") {
		t.Error("malformed payload should be logged")
	}
}
