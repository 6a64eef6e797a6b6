package refcore

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"
)

// ErrParentGone is returned by Run when the watched parent process exits.
var ErrParentGone = errors.New("refcore: parent process exited")

const parentPollInterval = time.Second

// Run steps the core at its frame rate until ctx is cancelled or the
// parent process disappears.
func (c *Core) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.frameLoop(ctx)
	})
	if c.opts.ParentPID > 0 {
		pid := int32(c.opts.ParentPID)
		g.Go(func() error {
			return watchParent(ctx, pid)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Core) frameLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(c.opts.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Step()
		}
	}
}

func watchParent(ctx context.Context, pid int32) error {
	ticker := time.NewTicker(parentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			alive, err := process.PidExistsWithContext(ctx, pid)
			if err == nil && !alive {
				return ErrParentGone
			}
		}
	}
}
