// Package adapter exposes a bridged core through the eblitui core
// interfaces so the standalone and libretro front ends can host it.
package adapter

import (
	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/input"
	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/session"

	emucore "github.com/user-none/eblitui/api"
)

// Compile-time interface check.
var _ emucore.CoreFactory = (*Factory)(nil)

const (
	Name    = "emubridge"
	Version = "0.1.0"

	ScreenWidth     = 320
	MaxScreenHeight = 240
	SampleRate      = 48000
	Players         = 4
)

// Core option keys.
const (
	OptionVolume        = "core_volume"
	OptionRestartOnExit = "restart_on_exit"
)

// Factory implements emucore.CoreFactory for a core running in a
// subprocess. Config supplies the core executable and session settings;
// its ROM path is replaced by the content the front end loads.
type Factory struct {
	Config   *config.Config
	Launcher session.Launcher
	Logger   *logging.Logger
}

// SystemInfo returns system metadata for UI configuration.
func (f *Factory) SystemInfo() emucore.SystemInfo {
	return emucore.SystemInfo{
		Name:            Name,
		ConsoleName:     "Bridged Core",
		Extensions:      []string{".md", ".bin", ".gen", ".sms", ".gb", ".gbc"},
		ScreenWidth:     ScreenWidth,
		MaxScreenHeight: MaxScreenHeight,
		AspectRatio:     4.0 / 3.0,
		SampleRate:      SampleRate,
		Buttons: []emucore.Button{
			{Name: "A", ID: input.BitA, DefaultKey: "J", DefaultPad: "X"},
			{Name: "B", ID: input.BitB, DefaultKey: "K", DefaultPad: "A"},
			{Name: "C", ID: input.BitC, DefaultKey: "L", DefaultPad: "B"},
			{Name: "X", ID: input.BitX, DefaultKey: "U", DefaultPad: "L1"},
			{Name: "Y", ID: input.BitY, DefaultKey: "I", DefaultPad: "Y"},
			{Name: "Z", ID: input.BitZ, DefaultKey: "O", DefaultPad: "R1"},
			{Name: "Start", ID: input.BitStart, DefaultKey: "Enter", DefaultPad: "Start"},
			{Name: "Mode", ID: input.BitMode, DefaultKey: "P", DefaultPad: "Select"},
		},
		Players: Players,
		CoreOptions: []emucore.CoreOption{
			{
				Key:         OptionVolume,
				Label:       "Core Volume",
				Description: "Output volume of the emulator process",
				Type:        emucore.CoreOptionRange,
				Default:     "100",
				Min:         0,
				Max:         100,
				Step:        5,
				Category:    emucore.CoreOptionCategoryAudio,
			},
			{
				Key:         OptionRestartOnExit,
				Label:       "Restart On Exit",
				Description: "Relaunch the emulator process if it exits unexpectedly",
				Type:        emucore.CoreOptionBool,
				Default:     "true",
				Category:    emucore.CoreOptionCategoryCore,
			},
		},
		DataDirName: Name,
		CoreName:    Name,
		CoreVersion: Version,
	}
}

// CreateEmulator starts a session for rom. The content is handed to the
// subprocess through a temporary file.
func (f *Factory) CreateEmulator(rom []byte, region emucore.Region) (emucore.Emulator, error) {
	cfg := config.Default()
	if f.Config != nil {
		c := *f.Config
		cfg = &c
	}
	return newEmulator(cfg, rom, region, session.Options{
		Launcher: f.Launcher,
		Logger:   f.Logger,
	})
}

// DetectRegion always reports NTSC; region handling belongs to the
// subprocess.
func (f *Factory) DetectRegion(rom []byte) (emucore.Region, bool) {
	return emucore.RegionNTSC, false
}
