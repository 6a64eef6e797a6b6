// Package ui holds the ebiten/oto glue shared by the bridge front ends.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// playerBufferSize is 100ms at 48kHz stereo 16-bit.
const playerBufferSize = 19200

// AudioPlayer plays a pull-model PCM source through oto. The source must
// produce little-endian int16 samples at the context's rate and channel
// count and should return silence rather than block when it has no data.
type AudioPlayer struct {
	player *oto.Player
}

// oto context singleton
var (
	otoCtx      *oto.Context
	otoInitOnce sync.Once
	otoInitErr  error
	otoRate     int
	otoChannels int
)

// ensureOtoContext initializes the oto audio context on first use. oto
// allows a single context per process, so later calls must ask for the
// same format.
func ensureOtoContext(rate, channels int) (*oto.Context, error) {
	otoInitOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		}
		var readyChan chan struct{}
		otoCtx, readyChan, otoInitErr = oto.NewContext(op)
		if otoInitErr != nil {
			return
		}
		otoRate, otoChannels = rate, channels
		<-readyChan
	})
	if otoInitErr != nil {
		return nil, otoInitErr
	}
	if rate != otoRate || channels != otoChannels {
		return nil, fmt.Errorf("audio context already open at %d Hz/%d ch", otoRate, otoChannels)
	}
	return otoCtx, nil
}

// NewAudioPlayer starts playback of src at full volume; gain is applied by
// the source.
func NewAudioPlayer(src io.Reader, rate, channels int) (*AudioPlayer, error) {
	ctx, err := ensureOtoContext(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("oto audio not available: %w", err)
	}

	player := ctx.NewPlayer(src)
	player.SetBufferSize(playerBufferSize)
	player.SetVolume(1)
	player.Play()

	return &AudioPlayer{player: player}, nil
}

// Close stops playback.
func (a *AudioPlayer) Close() {
	if a.player != nil {
		a.player.Close()
		a.player = nil
	}
}
