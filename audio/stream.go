package audio

import (
	"encoding/binary"
	"sync"

	"github.com/user-none/emubridge/logging"
)

// Stream is the audio-callback side of a session. oto pulls bytes through
// Read; eblitui front ends pull samples through ReadSamples. With no source
// attached it plays silence. It never blocks on the subprocess.
type Stream struct {
	hostRate int
	channels int
	log      *logging.Logger

	mu      sync.Mutex
	rs      *Resampler
	srcCh   int
	volume  float64
	scratch []int16
	samples []int16
}

// NewStream creates a stream producing channels interleaved int16 samples at
// hostRate.
func NewStream(hostRate, channels int, lg *logging.Logger) *Stream {
	if lg == nil {
		lg = logging.Default()
	}
	if channels <= 0 {
		channels = 2
	}
	return &Stream{hostRate: hostRate, channels: channels, log: lg, volume: 1}
}

// HostRate returns the output sample rate.
func (s *Stream) HostRate() int { return s.hostRate }

// Channels returns the output channel count.
func (s *Stream) Channels() int { return s.channels }

// Attach starts pulling from src. cfg.NativeRate and cfg.Channels describe
// src; HostRate is filled in from the stream.
func (s *Stream) Attach(src Source, cfg Config) {
	cfg.HostRate = s.hostRate
	rs := NewResampler(src, cfg, s.log)
	s.mu.Lock()
	s.rs = rs
	s.srcCh = rs.cfg.Channels
	s.mu.Unlock()
	s.log.Debugf("audio attached: %d Hz x%d -> %d Hz x%d", rs.cfg.NativeRate, rs.cfg.Channels, s.hostRate, s.channels)
}

// Detach stops pulling from the current source. After Detach returns the
// source is no longer touched and may be closed.
func (s *Stream) Detach() {
	s.mu.Lock()
	s.rs = nil
	s.mu.Unlock()
}

// Attached reports whether a source is attached.
func (s *Stream) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rs != nil
}

// SetVolume sets the output gain, clamped to [0, 1].
func (s *Stream) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// Volume returns the output gain.
func (s *Stream) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Resampler returns the active resampler, or nil. The result must only be
// used for reading statistics.
func (s *Stream) Resampler() *Resampler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rs
}

// ReadSamples fills dst with interleaved output samples. Only whole frames
// are produced; the return value is the number of samples written.
func (s *Stream) ReadSamples(dst []int16) int {
	frames := len(dst) / s.channels
	n := frames * s.channels
	dst = dst[:n]
	if frames == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rs == nil {
		clear(dst)
		return n
	}

	if s.srcCh == s.channels {
		s.rs.Resample(dst)
	} else {
		need := frames * s.srcCh
		if cap(s.scratch) < need {
			s.scratch = make([]int16, need)
		}
		src := s.scratch[:need]
		s.rs.Resample(src)
		remix(dst, src, s.srcCh, s.channels)
	}

	if s.volume < 1 {
		for i, v := range dst {
			dst[i] = int16(float64(v) * s.volume)
		}
	}
	return n
}

// Read implements io.Reader with little-endian int16 output for oto.
func (s *Stream) Read(p []byte) (int, error) {
	frameBytes := 2 * s.channels
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	want := frames * s.channels
	if cap(s.samples) < want {
		s.samples = make([]int16, want)
	}
	samples := s.samples[:want]
	s.ReadSamples(samples)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(v))
	}
	return want * 2, nil
}

// remix converts between channel layouts. Mono is duplicated; extra source
// channels are dropped; missing ones repeat the last source channel.
func remix(dst, src []int16, srcCh, dstCh int) {
	frames := len(src) / srcCh
	for f := 0; f < frames; f++ {
		for c := 0; c < dstCh; c++ {
			sc := c
			if sc >= srcCh {
				sc = srcCh - 1
			}
			dst[f*dstCh+c] = src[f*srcCh+sc]
		}
	}
}
