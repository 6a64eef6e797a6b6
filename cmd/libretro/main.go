package main

import (
	"os"

	libretro "github.com/user-none/eblitui/libretro"

	"github.com/user-none/emubridge/adapter"
	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/input"
	"github.com/user-none/emubridge/logging"
)

// configEnv names the YAML configuration the libretro core reads at load.
const configEnv = "EMUBRIDGE_CONFIG"

func init() {
	lg := logging.Default()
	cfg, err := config.LoadOrDefault(os.Getenv(configEnv))
	if err != nil {
		lg.Errorf("%v, using defaults", err)
		cfg = config.Default()
	}
	lg.SetVerbose(cfg.Log.Verbose)

	libretro.RegisterFactory(&adapter.Factory{Config: cfg, Logger: lg}, []libretro.RetropadMapping{
		{RetroID: libretro.JoypadY, BitID: input.BitA},
		{RetroID: libretro.JoypadB, BitID: input.BitB},
		{RetroID: libretro.JoypadA, BitID: input.BitC},
		{RetroID: libretro.JoypadStart, BitID: input.BitStart},
		{RetroID: libretro.JoypadX, BitID: input.BitX},
		{RetroID: libretro.JoypadL, BitID: input.BitY},
		{RetroID: libretro.JoypadR, BitID: input.BitZ},
		{RetroID: libretro.JoypadSelect, BitID: input.BitMode},
	})
}

func main() {}
