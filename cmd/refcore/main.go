// Command refcore is the reference emulator subprocess for emubridge.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/refcore"
)

func main() {
	opts, err := refcore.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("refcore: %v", err)
	}

	lg := logging.New(os.Stderr)
	core, err := refcore.New(opts, lg)
	if err != nil {
		log.Fatalf("refcore: %v", err)
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.Run(ctx); err != nil {
		if errors.Is(err, refcore.ErrParentGone) {
			lg.Printf("host exited, shutting down")
			return
		}
		lg.Errorf("%v", err)
		core.Close()
		os.Exit(1)
	}
}
