package audio

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/user-none/emubridge/logging"
)

// fakeSource is an unbounded in-memory Source that counts calls.
type fakeSource struct {
	buf     []int16
	written uint64
	calls   int
	next    int16
}

func (f *fakeSource) produce(frames, ch int) {
	for i := 0; i < frames*ch; i++ {
		f.buf = append(f.buf, f.next)
		f.next++
	}
	f.written += uint64(frames * ch)
}

func (f *fakeSource) Available() int {
	f.calls++
	return len(f.buf)
}

func (f *fakeSource) Written() uint64 {
	f.calls++
	return f.written
}

func (f *fakeSource) Read(dst []int16) int {
	f.calls++
	n := copy(dst, f.buf)
	f.buf = f.buf[n:]
	return n
}

// lossySource drops everything beyond capacity, like a full ring.
type lossySource struct {
	fakeSource
	capacity int
	dropped  uint64
}

func (l *lossySource) produce(frames, ch int) {
	l.fakeSource.produce(frames, ch)
	if over := len(l.buf) - l.capacity; over > 0 {
		l.buf = l.buf[over:]
		l.dropped += uint64(over)
	}
}

func (l *lossySource) Dropped() uint64 { return l.dropped }

func quietLogger() *logging.Logger {
	return logging.New(&bytes.Buffer{})
}

func TestResampler_ZeroRequest(t *testing.T) {
	src := &fakeSource{}
	src.produce(100, 2)
	r := NewResampler(src, Config{}, quietLogger())
	src.calls = 0

	if n := r.Resample(nil); n != 0 {
		t.Fatalf("Resample(nil) = %d", n)
	}
	if n := r.Resample(make([]int16, 1)); n != 0 {
		t.Fatalf("Resample(<1 frame) = %d", n)
	}
	if src.calls != 0 {
		t.Fatalf("source touched %d times for an empty request", src.calls)
	}
}

func TestResampler_EmptySourceIsSilent(t *testing.T) {
	r := NewResampler(&fakeSource{}, Config{Channels: 2}, quietLogger())
	out := []int16{7, 7, 7, 7, 7, 7}
	if n := r.Resample(out); n != 0 {
		t.Fatalf("consumed %d from an empty source", n)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %d, want silence", i, v)
		}
	}
}

func TestResampler_IdentityAtEqualRates(t *testing.T) {
	src := &fakeSource{}
	src.produce(256, 2)
	want := append([]int16(nil), src.buf...)

	r := NewResampler(src, Config{NativeRate: 48000, HostRate: 48000, Channels: 2, PressureFactor: -1}, quietLogger())
	out := make([]int16, 512)
	if n := r.Resample(out); n != 512 {
		t.Fatalf("consumed %d samples, want 512", n)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestInterpolate(t *testing.T) {
	// Upsample two frames to four: positions 0, 0.5, 1, 1.5.
	src := []int16{0, 100, 10, -100}
	dst := make([]int16, 8)
	interpolate(dst, src, 2, 2, 4)
	want := []int16{0, 100, 5, 0, 10, -100, 10, -100}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}

	// Rounding is floor(v+0.5): -0.5 rounds up to 0.
	dst = make([]int16, 2)
	interpolate(dst, []int16{0, -1}, 1, 2, 2)
	if dst[1] != -1 {
		t.Fatalf("dst = %v", dst)
	}
	dst = make([]int16, 4)
	interpolate(dst, []int16{0, -1}, 1, 2, 4)
	if dst[1] != 0 {
		t.Fatalf("-0.5 should round to 0, got %d", dst[1])
	}

	if clamp16(40000) != math.MaxInt16 || clamp16(-40000) != math.MinInt16 {
		t.Fatal("clamp16 does not saturate")
	}
}

func TestResampler_ConvergesUnderBurstyProduction(t *testing.T) {
	tests := []struct {
		name       string
		native     int
		bursts     []int
		wantRatio  float64
		requestLen int
	}{
		{"equal rates", 48000, []int{100, 500, 300}, 1.0, 300},
		{"32k to 48k", 32000, []int{100, 300}, 2.0 / 3.0, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			cfg := Config{NativeRate: tt.native, HostRate: 48000, Channels: 2, WindowSize: 48}
			r := NewResampler(src, cfg, quietLogger())
			out := make([]int16, tt.requestLen*2)

			for tick := 0; tick < 600; tick++ {
				src.produce(tt.bursts[tick%len(tt.bursts)], 2)
				r.Resample(out)
				if len(out) != tt.requestLen*2 {
					t.Fatal("output length changed")
				}
			}
			if r.Observations() != 48 {
				t.Fatalf("Observations = %d, want a full window", r.Observations())
			}
			if math.Abs(r.Ratio()-tt.wantRatio) > 1e-3 {
				t.Errorf("Ratio = %f, want %f", r.Ratio(), tt.wantRatio)
			}
			if math.Abs(r.Drift()-1) > 1e-3 {
				t.Errorf("Drift = %f, want 1", r.Drift())
			}
		})
	}
}

func TestResampler_FeedbackDrainsBacklog(t *testing.T) {
	src := &fakeSource{}
	src.produce(5000, 1)
	cfg := Config{NativeRate: 48000, HostRate: 48000, Channels: 1, PressureFactor: 0.01, IdealBufferSize: 100}
	r := NewResampler(src, cfg, quietLogger())
	out := make([]int16, 100)

	for tick := 0; tick < 1000; tick++ {
		src.produce(100, 1)
		r.Resample(out)
	}
	if avail := len(src.buf); avail <= 0 || avail > 400 {
		t.Fatalf("backlog = %d frames, want it drained towards the ideal size", avail)
	}
}

func TestResampler_StarvationWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{NativeRate: 48000, HostRate: 48000, Channels: 1, StarvationThreshold: 100}
	r := NewResampler(&fakeSource{}, cfg, logging.New(&buf))
	out := make([]int16, 64)
	for i := 0; i < 10; i++ {
		r.Resample(out)
	}
	if n := strings.Count(buf.String(), "audio starved"); n != 1 {
		t.Fatalf("got %d starvation warnings, want 1:\n%s", n, buf.String())
	}
}

func TestResampler_OverflowWarnsRateLimited(t *testing.T) {
	var buf bytes.Buffer
	src := &lossySource{capacity: 256}
	r := NewResampler(src, Config{NativeRate: 48000, HostRate: 48000, Channels: 1}, logging.New(&buf))
	out := make([]int16, 64)

	r.Resample(out)
	if buf.Len() != 0 {
		t.Fatalf("warned without overflow:\n%s", buf.String())
	}
	for i := 0; i < 20; i++ {
		src.produce(4096, 1)
		r.Resample(out)
	}
	if src.dropped == 0 {
		t.Fatal("source never overflowed")
	}
	if n := strings.Count(buf.String(), "audio ring overflow"); n != 1 {
		t.Fatalf("got %d overflow warnings, want 1:\n%s", n, buf.String())
	}
}

func TestResampler_EmptyTicksExcludedUpToCap(t *testing.T) {
	src := &fakeSource{}
	cfg := Config{Channels: 1, WindowSize: 16, MaxEmptyTicks: 3}
	r := NewResampler(src, cfg, quietLogger())
	out := make([]int16, 32)

	r.Resample(out) // primes the written counter
	for i := 0; i < 4; i++ {
		src.produce(32, 1)
		r.Resample(out)
	}
	if r.Observations() != 4 {
		t.Fatalf("Observations = %d, want 4", r.Observations())
	}

	for i := 0; i < 3; i++ {
		r.Resample(out)
	}
	if r.Observations() != 4 {
		t.Fatalf("empty ticks within the cap were recorded: %d", r.Observations())
	}
	r.Resample(out)
	if r.Observations() != 5 {
		t.Fatalf("empty tick past the cap not recorded: %d", r.Observations())
	}

	src.produce(32, 1)
	r.Resample(out)
	r.Resample(out)
	if r.Observations() != 6 {
		t.Fatalf("production should reset the empty tick count: %d", r.Observations())
	}
}

