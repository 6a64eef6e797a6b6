package refcore

import (
	"math"

	"github.com/user-none/go-chip-sn76489"
)

const (
	psgClockHz = 3579545
	psgGain    = 1898.0

	// toneRegister gives roughly 440 Hz: clock / (32 * 254).
	toneRegister = 0x0FE
)

func newPSG(opts Options) *sn76489.SN76489 {
	size := 1024
	if opts.FPS > 0 {
		size += opts.SampleRate / opts.FPS
	}
	psg := sn76489.New(psgClockHz, opts.SampleRate, size, sn76489.Sega)
	psg.SetGain(psgGain)
	return psg
}

// programTone puts a square wave on channel 0 and silences the rest.
func (c *Core) programTone() {
	c.psg.Write(0x80 | toneRegister&0x0F)
	c.psg.Write(toneRegister >> 4 & 0x3F)
	c.psg.Write(0xBF)
	c.psg.Write(0xDF)
	c.psg.Write(0xFF)
	c.setAttenuation()
}

// setAttenuation maps the core volume onto channel 0's 2 dB attenuation
// steps; 15 is off.
func (c *Core) setAttenuation() {
	att := 15 - int(math.Round(c.volume*15))
	c.psg.Write(0x90 | byte(att))
}

// produceAudio runs the PSG for one frame and writes exactly the frame's
// share of samples to the ring. Cycle and sample counts derive from the
// frame counter, so a loaded state replays the same output.
func (c *Core) produceAudio() {
	fps := uint64(c.opts.FPS)
	f := c.frame
	cycles := f*psgClockHz/fps - (f-1)*psgClockHz/fps
	frames := int(f*uint64(c.opts.SampleRate)/fps - (f-1)*uint64(c.opts.SampleRate)/fps)

	c.psg.Run(int(cycles))
	buf, count := c.psg.GetBuffer()

	n := frames * audioChannels
	if cap(c.samples) < n {
		c.samples = make([]int16, n)
	}
	s := c.samples[:n]
	var v int16
	for i := 0; i < frames; i++ {
		// A short PSG buffer holds its last sample.
		if i < count {
			v = clampSample(buf[i])
		}
		s[2*i] = v
		s[2*i+1] = v
	}
	c.psg.ResetBuffer()
	c.ring.Write(s)
}

func clampSample(v float32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
