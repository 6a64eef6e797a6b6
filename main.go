package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/user-none/emubridge/cli"
	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/session"
	"github.com/user-none/emubridge/statusws"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration (reloaded on SIGHUP)")
	corePath := flag.String("core", "", "emulator executable (overrides config)")
	romPath := flag.String("rom", "", "content to load (overrides config)")
	statusAddr := flag.String("status-addr", "", "serve the status websocket on this address")
	flag.Parse()

	overrides := func(cfg *config.Config) {
		if *corePath != "" {
			cfg.Core.Path = *corePath
		}
		if *romPath != "" {
			cfg.Core.ROMPath = *romPath
		}
		if *statusAddr != "" {
			cfg.Status.Addr = *statusAddr
		}
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	overrides(cfg)
	if cfg.Core.Path == "" {
		log.Fatal("No core executable. Usage: emubridge -core <path> [-rom <path>] [-config <file>]")
	}

	lg := logging.Default()
	ctl := session.New(cfg, session.Options{Logger: lg})

	if cfg.Status.Addr != "" {
		b := statusws.NewBroadcaster(lg)
		b.Subscribe(ctl)
		srv, err := statusws.Listen(cfg.Status.Addr, b, lg)
		if err != nil {
			log.Fatalf("Failed to start status feed: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			b.Close()
			srv.Shutdown(ctx)
		}()
	}

	reloads := make(chan *config.Config, 1)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			next, err := config.LoadOrDefault(*configPath)
			if err != nil {
				lg.Errorf("reload: %v", err)
				continue
			}
			overrides(next)
			select {
			case reloads <- next:
			default:
				lg.Warnf("reload already pending, ignoring")
			}
		}
	}()

	ebiten.SetWindowSize(640, 480)
	ebiten.SetWindowTitle("emubridge")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(320, 240, -1, -1)
	ebiten.SetTPS(60)
	ebiten.SetRunnableOnUnfocused(true)

	runner := cli.NewRunner(ctl, lg)
	runner.SetReload(reloads)
	defer runner.Close()

	if err := ebiten.RunGame(runner); err != nil {
		lg.Errorf("%v", err)
	}
}
