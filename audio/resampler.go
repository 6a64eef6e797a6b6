// Package audio adapts the subprocess's sample stream to the host's audio
// callback. The subprocess produces at its own pace and rate; the host pulls
// fixed blocks. Resampler bridges the two with a drift-tracking ratio and
// linear interpolation.
package audio

import (
	"math"
	"time"

	"github.com/user-none/emubridge/logging"
)

// Source is the consuming end of a sample ring.
type Source interface {
	// Available returns the number of unread samples.
	Available() int
	// Written returns the total number of samples ever produced.
	Written() uint64
	// Read copies whole frames into dst and returns the samples copied.
	Read(dst []int16) int
}

// dropCounter is implemented by sources that lose samples on overflow.
type dropCounter interface {
	Dropped() uint64
}

// Config tunes a Resampler. The numeric defaults are empirical; any zero
// field takes its default. A negative PressureFactor disables feedback.
type Config struct {
	NativeRate int // source sample rate
	HostRate   int // output sample rate
	Channels   int // interleaved channels in source and output

	WindowSize          int     // observations in the moving average
	PressureFactor      float64 // buffer feedback gain
	IdealBufferSize     int     // frames to keep queued in the source
	MaxEmptyTicks       int     // consecutive empty requests left out of the average
	StarvationThreshold int     // missing frames before warning
}

// Defaults.
const (
	DefaultWindowSize          = 1024
	DefaultPressureFactor      = 0.002
	DefaultIdealBufferSize     = 2048
	DefaultMaxEmptyTicks       = 30
	DefaultStarvationThreshold = 4096
)

const (
	starvationWarnInterval = 10 * time.Second
	overflowWarnInterval   = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.HostRate <= 0 {
		c.HostRate = 48000
	}
	if c.NativeRate <= 0 {
		c.NativeRate = c.HostRate
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.PressureFactor == 0 {
		c.PressureFactor = DefaultPressureFactor
	}
	if c.PressureFactor < 0 {
		c.PressureFactor = 0
	}
	if c.IdealBufferSize <= 0 {
		c.IdealBufferSize = DefaultIdealBufferSize
	}
	if c.MaxEmptyTicks <= 0 {
		c.MaxEmptyTicks = DefaultMaxEmptyTicks
	}
	if c.StarvationThreshold <= 0 {
		c.StarvationThreshold = DefaultStarvationThreshold
	}
	return c
}

// observation is one request: frames produced since the previous request
// and frames requested.
type observation struct {
	produced  uint64
	requested uint64
}

// Resampler produces exactly the requested number of frames per call from a
// Source whose production rate drifts. Not safe for concurrent use.
type Resampler struct {
	cfg Config
	src Source
	log *logging.Logger

	theoretical float64 // NativeRate / HostRate

	window       []observation
	head         int
	count        int
	sumProduced  uint64
	sumRequested uint64

	lastWritten uint64
	primed      bool
	emptyTicks  int

	deficit int
	starved *logging.Limiter

	reported uint64 // source drops already logged
	overflow *logging.Limiter

	ratio float64
	in    []int16
}

// NewResampler creates a resampler reading from src.
func NewResampler(src Source, cfg Config, lg *logging.Logger) *Resampler {
	if lg == nil {
		lg = logging.Default()
	}
	cfg = cfg.withDefaults()
	r := &Resampler{
		cfg:         cfg,
		src:         src,
		log:         lg,
		theoretical: float64(cfg.NativeRate) / float64(cfg.HostRate),
		window:      make([]observation, cfg.WindowSize),
		starved:     logging.NewLimiter(starvationWarnInterval),
		overflow:    logging.NewLimiter(overflowWarnInterval),
	}
	r.ratio = r.theoretical
	return r
}

// Config returns the effective configuration.
func (r *Resampler) Config() Config {
	return r.cfg
}

// Ratio returns the last estimated source frames per output frame, before
// buffer feedback.
func (r *Resampler) Ratio() float64 {
	return r.ratio
}

// Drift returns observed production over the theoretical rate. It is 1 until
// observations exist.
func (r *Resampler) Drift() float64 {
	if r.sumRequested == 0 {
		return 1
	}
	return float64(r.sumProduced) / float64(r.sumRequested) / r.theoretical
}

// Observations returns the number of entries in the moving window.
func (r *Resampler) Observations() int {
	return r.count
}

func (r *Resampler) record(o observation) {
	if r.count == len(r.window) {
		old := r.window[r.head]
		r.sumProduced -= old.produced
		r.sumRequested -= old.requested
	} else {
		r.count++
	}
	r.window[r.head] = o
	r.head = (r.head + 1) % len(r.window)
	r.sumProduced += o.produced
	r.sumRequested += o.requested
}

// observe updates the moving window for a request of frames output frames.
func (r *Resampler) observe(frames int) {
	written := r.src.Written()
	if !r.primed || written < r.lastWritten {
		r.lastWritten = written
		r.primed = true
		return
	}
	produced := (written - r.lastWritten) / uint64(r.cfg.Channels)
	r.lastWritten = written

	if produced == 0 {
		r.emptyTicks++
		if r.emptyTicks <= r.cfg.MaxEmptyTicks {
			return
		}
	} else {
		r.emptyTicks = 0
	}
	r.record(observation{produced: produced, requested: uint64(frames)})
}

// estimate blends the theoretical and observed ratios by window fill.
func (r *Resampler) estimate() float64 {
	if r.sumRequested == 0 {
		return r.theoretical
	}
	observed := float64(r.sumProduced) / float64(r.sumRequested)
	weight := float64(r.count) / float64(len(r.window))
	return r.theoretical*(1-weight) + observed*weight
}

// Resample fills out (len(out) a multiple of Channels) and returns the number
// of source samples consumed. With no source data out is cleared.
func (r *Resampler) Resample(out []int16) int {
	ch := r.cfg.Channels
	frames := len(out) / ch
	if frames == 0 {
		return 0
	}

	r.observe(frames)
	r.ratio = r.estimate()

	avail := r.src.Available() / ch
	desired := r.ratio * float64(frames)
	feedback := (float64(avail) - desired - float64(r.cfg.IdealBufferSize)) * r.cfg.PressureFactor
	want := int(math.Round(desired + feedback))
	if want < 1 && avail > 0 {
		want = 1
	}
	if want > avail {
		r.deficit += want - avail
		want = avail
		if r.deficit >= r.cfg.StarvationThreshold {
			if r.starved.Allow() {
				r.log.Warnf("audio starved: %d frames short (ratio %.4f, drift %.4f)", r.deficit, r.ratio, r.Drift())
			}
			r.deficit = 0
		}
	}

	if want <= 0 {
		clear(out)
		return 0
	}

	need := want * ch
	if cap(r.in) < need {
		r.in = make([]int16, need)
	}
	in := r.in[:need]
	n := r.src.Read(in)
	r.checkOverflow()
	got := n / ch
	if got == 0 {
		clear(out)
		return 0
	}
	interpolate(out, in[:got*ch], ch, got, frames)
	return got * ch
}

// checkOverflow warns, at a bounded rate, when the source has lost samples
// since the last warning.
func (r *Resampler) checkOverflow() {
	dc, ok := r.src.(dropCounter)
	if !ok {
		return
	}
	d := dc.Dropped()
	if d <= r.reported || !r.overflow.Allow() {
		return
	}
	r.log.Warnf("audio ring overflow: %d samples dropped (%d total)", d-r.reported, d)
	r.reported = d
}

// interpolate stretches src (srcFrames frames) to dstFrames frames with
// two-tap linear interpolation, per channel.
func interpolate(dst, src []int16, ch, srcFrames, dstFrames int) {
	step := float64(srcFrames) / float64(dstFrames)
	last := srcFrames - 1
	for i := 0; i < dstFrames; i++ {
		pos := float64(i) * step
		i0 := int(pos)
		if i0 > last {
			i0 = last
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		frac := pos - float64(i0)
		for c := 0; c < ch; c++ {
			s0 := float64(src[i0*ch+c])
			s1 := float64(src[i1*ch+c])
			dst[i*ch+c] = clamp16(math.Floor(s0 + (s1-s0)*frac + 0.5))
		}
	}
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
