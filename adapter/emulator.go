package adapter

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	emucore "github.com/user-none/eblitui/api"

	"github.com/user-none/emubridge/audio"
	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/input"
	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/session"
	"github.com/user-none/emubridge/texture"
	"github.com/user-none/emubridge/wire"
)

var _ emucore.Emulator = (*Emulator)(nil)

const (
	fps             = 60
	samplesPerFrame = SampleRate / fps * 2
	stride          = ScreenWidth * 4
)

// Emulator forwards the eblitui frame loop to a session controller. Each
// RunFrame ticks the controller once, letterboxes the latest frame into a
// fixed framebuffer and pulls one frame of resampled audio.
type Emulator struct {
	ctl     *session.Controller
	romFile string
	region  emucore.Region

	masks  [Players]uint32
	events []wire.InputEvent
	fb     []byte
	audio  []int16
}

func newEmulator(cfg *config.Config, rom []byte, region emucore.Region, opts session.Options) (*Emulator, error) {
	f, err := os.CreateTemp("", "emubridge-*"+romExt(rom))
	if err != nil {
		return nil, fmt.Errorf("stage content: %w", err)
	}
	if _, err := f.Write(rom); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("stage content: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("stage content: %w", err)
	}

	cfg.Core.ROMPath = f.Name()
	cfg.Core.StatePath = ""
	cfg.Session.Active = true
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	opts.Audio = audio.NewStream(SampleRate, 2, opts.Logger)

	e := &Emulator{
		ctl:     session.New(cfg, opts),
		romFile: f.Name(),
		region:  region,
		fb:      make([]byte, stride*MaxScreenHeight),
		audio:   make([]int16, samplesPerFrame),
	}
	letterbox(e.fb, nil, ScreenWidth, MaxScreenHeight)
	e.ctl.Activate()
	return e, nil
}

// Controller returns the underlying session controller.
func (e *Emulator) Controller() *session.Controller {
	return e.ctl
}

func (e *Emulator) RunFrame() {
	e.ctl.Tick()
	img, ok := e.ctl.Frame()
	if !ok {
		img = nil
	}
	letterbox(e.fb, img, ScreenWidth, MaxScreenHeight)
	e.ctl.Stream().ReadSamples(e.audio)
}

func (e *Emulator) GetFramebuffer() []byte     { return e.fb }
func (e *Emulator) GetFramebufferStride() int  { return stride }
func (e *Emulator) GetActiveHeight() int       { return MaxScreenHeight }
func (e *Emulator) GetAudioSamples() []int16   { return e.audio }
func (e *Emulator) GetRegion() emucore.Region  { return e.region }
func (e *Emulator) SetRegion(r emucore.Region) { e.region = r }

func (e *Emulator) GetTiming() emucore.Timing {
	return emucore.Timing{FPS: fps, Scanlines: 262}
}

// SetInput sends press and release events for the bits that changed since
// the last call. The mask is only committed once every event was queued, so
// a full queue is retried on the next frame.
func (e *Emulator) SetInput(player int, buttons uint32) {
	if player < 0 || player >= Players || buttons == e.masks[player] {
		return
	}
	e.events = input.Diff(e.events[:0], e.masks[player], buttons, player)
	if e.ctl.SendInput(e.events...) == len(e.events) {
		e.masks[player] = buttons
	}
}

func (e *Emulator) SetOption(key, value string) {
	switch key {
	case OptionVolume:
		v, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		e.ctl.SetVolume(float64(v) / 100)
	case OptionRestartOnExit:
		cfg := e.ctl.Config()
		cfg.Session.RestartOnExit = value == "true"
		e.ctl.ApplyConfig(&cfg)
	}
}

// Close stops the subprocess and removes the staged content.
func (e *Emulator) Close() {
	e.ctl.Close()
	os.Remove(e.romFile)
}

// letterbox centers img in a w x h RGBA framebuffer on an opaque black
// background, cropping images larger than the framebuffer. A nil img
// clears the framebuffer.
func letterbox(dst []byte, img *texture.Image, w, h int) {
	for i := 0; i+3 < len(dst); i += 4 {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = 0, 0, 0, 0xFF
	}
	if img == nil || !img.Valid() {
		return
	}

	dx, sx, cw := center(img.Width, w)
	dy, sy, ch := center(img.Height, h)
	for y := 0; y < ch; y++ {
		row := img.Pix[(sy+y)*img.Width+sx:]
		o := ((dy+y)*w + dx) * 4
		for x := 0; x < cw; x++ {
			p := row[x]
			dst[o] = byte(p >> 16)
			dst[o+1] = byte(p >> 8)
			dst[o+2] = byte(p)
			dst[o+3] = 0xFF
			o += 4
		}
	}
}

// center returns the destination offset, source offset and copied length
// for placing n source pixels in a span of size.
func center(n, size int) (dst, src, length int) {
	if n <= size {
		return (size - n) / 2, 0, n
	}
	return 0, (n - size) / 2, size
}

var (
	genesisMagic = []byte("SEGA")
	smsMagic     = []byte("TMR SEGA")
	gbLogo       = []byte{0xCE, 0xED, 0x66, 0x66}
)

// romExt guesses a file extension from well-known header signatures so the
// subprocess can pick the right system.
func romExt(rom []byte) string {
	switch {
	case hasAt(rom, 0x100, genesisMagic) || hasAt(rom, 0x101, genesisMagic):
		return ".md"
	case hasAt(rom, 0x7FF0, smsMagic) || hasAt(rom, 0x3FF0, smsMagic) || hasAt(rom, 0x1FF0, smsMagic):
		return ".sms"
	case hasAt(rom, 0x104, gbLogo):
		if len(rom) > 0x143 && rom[0x143]&0x80 != 0 {
			return ".gbc"
		}
		return ".gb"
	default:
		return ".bin"
	}
}

func hasAt(b []byte, off int, magic []byte) bool {
	return len(b) >= off+len(magic) && bytes.Equal(b[off:off+len(magic)], magic)
}
