package audio

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/shm"
)

func TestStream_SilentWhenDetached(t *testing.T) {
	s := NewStream(48000, 2, quietLogger())
	dst := []int16{1, 2, 3, 4, 5}
	if n := s.ReadSamples(dst); n != 4 {
		t.Fatalf("ReadSamples = %d, want 4 (whole frames)", n)
	}
	for i := 0; i < 4; i++ {
		if dst[i] != 0 {
			t.Fatalf("dst = %v, want silence", dst)
		}
	}
}

func TestStream_MonoSourceToStereo(t *testing.T) {
	src := &fakeSource{buf: []int16{100, 200, 300, 400}, written: 4}
	s := NewStream(48000, 2, quietLogger())
	s.Attach(src, Config{NativeRate: 48000, Channels: 1, PressureFactor: -1})
	if !s.Attached() {
		t.Fatal("Attached = false")
	}

	dst := make([]int16, 8)
	s.ReadSamples(dst)
	want := []int16{100, 100, 200, 200, 300, 300, 400, 400}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}

	s.Detach()
	src.calls = 0
	s.ReadSamples(dst)
	if src.calls != 0 {
		t.Fatal("detached source was read")
	}
}

func TestStream_VolumeAndBytes(t *testing.T) {
	src := &fakeSource{buf: []int16{1000, -1000}, written: 2}
	s := NewStream(48000, 2, quietLogger())
	s.Attach(src, Config{NativeRate: 48000, Channels: 2, PressureFactor: -1})
	s.SetVolume(0.5)
	if s.Volume() != 0.5 {
		t.Fatalf("Volume = %f", s.Volume())
	}

	p := make([]byte, 5)
	n, err := s.Read(p)
	if err != nil || n != 4 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	l := int16(binary.LittleEndian.Uint16(p[0:]))
	r := int16(binary.LittleEndian.Uint16(p[2:]))
	if l != 500 || r != -500 {
		t.Fatalf("samples = %d, %d, want 500, -500", l, r)
	}

	s.SetVolume(3)
	if s.Volume() != 1 {
		t.Fatalf("volume not clamped: %f", s.Volume())
	}
}

func TestStream_RingOverflowLogged(t *testing.T) {
	dir := t.TempDir()
	prod, err := shm.CreateRing(dir, "audio-1", 256, 48000, 1)
	if err != nil {
		t.Fatalf("CreateRing: %v", err)
	}
	defer prod.Close()
	ring := shm.NewRing(dir, "audio-1")
	if err := ring.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ring.Close()

	var buf bytes.Buffer
	s := NewStream(48000, 2, logging.New(&buf))
	s.Attach(ring, Config{NativeRate: ring.SampleRate(), Channels: ring.Channels()})

	chunk := make([]int16, 4096)
	dst := make([]int16, 512)
	for i := 0; i < 10; i++ {
		prod.Write(chunk)
		s.ReadSamples(dst)
	}
	if ring.Dropped() == 0 {
		t.Fatal("ring never overflowed")
	}
	if !strings.Contains(buf.String(), "audio ring overflow") {
		t.Fatalf("overflow not logged:\n%s", buf.String())
	}
}
