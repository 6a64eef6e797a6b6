// Package cli provides a windowed runner for a bridged core. It polls
// input, ticks the session controller and draws the latest frame on the
// Ebiten thread.
package cli

import (
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	emubridge "github.com/user-none/emubridge/bridge/ebiten"
	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/input"
	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/session"
	"github.com/user-none/emubridge/ui"
	"github.com/user-none/emubridge/wire"
)

// Hotkeys.
const (
	keyPause        = ebiten.KeySpace
	keyFrameAdvance = ebiten.KeyN
	keySaveState    = ebiten.KeyF5
	keyLoadState    = ebiten.KeyF9
	keyQuit         = ebiten.KeyEscape
)

// Runner is an ebiten.Game driving a session.Controller.
type Runner struct {
	ctl    *session.Controller
	screen emubridge.Screen
	player *ui.AudioPlayer
	log    *logging.Logger

	mask   uint32
	events []wire.InputEvent
	reload <-chan *config.Config
}

// NewRunner creates a runner for ctl and activates it. Audio initialization
// failure is non-fatal; the runner will work without sound.
func NewRunner(ctl *session.Controller, lg *logging.Logger) *Runner {
	if lg == nil {
		lg = logging.Default()
	}
	r := &Runner{ctl: ctl, log: lg}

	cfg := ctl.Config()
	if !cfg.Core.Mute {
		st := ctl.Stream()
		player, err := ui.NewAudioPlayer(st, st.HostRate(), st.Channels())
		if err != nil {
			lg.Warnf("audio initialization failed: %v", err)
		}
		r.player = player
	}

	ctl.OnStatus(r.onStatus)
	ctl.Activate()
	return r
}

// onStatus forgets held buttons when the core goes away; the next one
// starts with none pressed.
func (r *Runner) onStatus(ev session.StatusEvent) {
	if ev.To == session.Inactive {
		r.mask = 0
	}
}

// SetReload makes Update apply configurations received on ch.
func (r *Runner) SetReload(ch <-chan *config.Config) {
	r.reload = ch
}

// Close stops audio and the session.
func (r *Runner) Close() {
	if r.player != nil {
		r.player.Close()
		r.player = nil
	}
	r.ctl.Close()
}

// Update implements ebiten.Game.
func (r *Runner) Update() error {
	if inpututil.IsKeyJustPressed(keyQuit) {
		return ebiten.Termination
	}

	select {
	case cfg := <-r.reload:
		r.ctl.ApplyConfig(cfg)
	default:
	}

	var mask uint32
	if ebiten.IsFocused() || r.ctl.Config().Core.AcceptBackgroundInput {
		mask = ui.PollButtons()
		r.hotkeys()
	}
	if mask != r.mask {
		r.events = input.Diff(r.events[:0], r.mask, mask, 0)
		if r.ctl.SendInput(r.events...) == len(r.events) {
			r.mask = mask
		}
	}

	r.ctl.Tick()
	return nil
}

func (r *Runner) hotkeys() {
	var err error
	switch {
	case inpututil.IsKeyJustPressed(keyPause):
		if r.ctl.Paused() {
			err = r.ctl.Unpause()
		} else {
			err = r.ctl.Pause()
		}
	case inpututil.IsKeyJustPressed(keyFrameAdvance):
		err = r.ctl.FrameAdvance()
	case inpututil.IsKeyJustPressed(keySaveState):
		err = r.ctl.SaveState(r.statePath())
	case inpututil.IsKeyJustPressed(keyLoadState):
		err = r.ctl.LoadState(r.statePath())
	}
	if err != nil {
		r.log.Warnf("%v", err)
	}
}

// statePath is the quick-save file next to the content.
func (r *Runner) statePath() string {
	rom := r.ctl.Config().Core.ROMPath
	if rom == "" {
		return filepath.Join(r.ctl.Config().Session.LogDir, "quick.state")
	}
	return strings.TrimSuffix(rom, filepath.Ext(rom)) + ".state"
}

// Draw implements ebiten.Game.
func (r *Runner) Draw(screen *ebiten.Image) {
	img, ok := r.ctl.Frame()
	if !ok {
		ebitenutil.DebugPrint(screen, "core "+r.ctl.Status().String())
		return
	}
	r.screen.Draw(screen, img)
}

// Layout implements ebiten.Game.
func (r *Runner) Layout(outsideWidth, outsideHeight int) (int, int) {
	return r.screen.Layout(outsideWidth, outsideHeight)
}
