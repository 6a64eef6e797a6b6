//go:build !libretro

package main

import (
	"flag"
	"log"

	"github.com/user-none/eblitui/standalone"

	"github.com/user-none/emubridge/adapter"
	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	corePath := flag.String("core", "", "emulator executable (overrides config)")
	romPath := flag.String("rom", "", "path to ROM file (opens UI if not provided)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *corePath != "" {
		cfg.Core.Path = *corePath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	lg := logging.Default()
	lg.SetVerbose(cfg.Log.Verbose)
	factory := &adapter.Factory{Config: cfg, Logger: lg}

	if *romPath != "" {
		options := map[string]string{
			adapter.OptionRestartOnExit: boolString(cfg.Session.RestartOnExit),
		}
		if err := standalone.RunDirect(factory, *romPath, "auto", options); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := standalone.Run(factory); err != nil {
		log.Fatal(err)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
