// Package control carries commands to the subprocess and dispatches the
// calls it makes back to the host.
package control

import (
	"strconv"
	"time"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/wire"
)

const sendWarnInterval = 5 * time.Second

// Queue is the outbound side of a one-way record queue.
type Queue interface {
	Name() string
	IsOpen() bool
	Write(rec []byte) bool
}

// Client sends fire-and-forget commands. Commands get no acknowledgement;
// their effect is observed through frames, audio or inbound calls.
type Client struct {
	q     Queue
	log   *logging.Logger
	limit *logging.Limiter
}

// NewClient creates a client writing to q.
func NewClient(q Queue, lg *logging.Logger) *Client {
	if lg == nil {
		lg = logging.Default()
	}
	return &Client{q: q, log: lg, limit: logging.NewLimiter(sendWarnInterval)}
}

// Send writes one method call record and reports whether it was queued.
func (c *Client) Send(name, arg string) bool {
	if !c.q.IsOpen() {
		c.log.Debugf("command %s dropped: %s not open", name, c.q.Name())
		return false
	}
	rec, err := wire.EncodeMethodCall(wire.MethodCall{Name: name, Arg: arg})
	if err != nil {
		c.log.Warnf("command %s not sent: %v", name, err)
		return false
	}
	if !c.q.Write(rec) {
		if c.limit.Allow() {
			c.log.Warnf("command queue %s full, dropped %s", c.q.Name(), name)
		}
		return false
	}
	return true
}

// Pause stops the subprocess after its current frame.
func (c *Client) Pause() bool { return c.Send(wire.CmdPause, "") }

// Unpause resumes a paused subprocess.
func (c *Client) Unpause() bool { return c.Send(wire.CmdUnpause, "") }

// FrameAdvance runs one frame while paused.
func (c *Client) FrameAdvance() bool { return c.Send(wire.CmdFrameAdvance, "") }

// SetVolume sets the subprocess's own output volume, 0 to 1.
func (c *Client) SetVolume(v float64) bool {
	return c.Send(wire.CmdSetVolume, strconv.FormatFloat(v, 'f', -1, 64))
}

// LoadState restores the state file at path.
func (c *Client) LoadState(path string) bool { return c.Send(wire.CmdLoadState, path) }

// SaveState writes the current state to path.
func (c *Client) SaveState(path string) bool { return c.Send(wire.CmdSaveState, path) }

// LoadROM asks the subprocess to switch content. The caller is responsible
// for recreating the texture segment under the next sub-index.
func (c *Client) LoadROM(path string) bool { return c.Send(wire.CmdLoadROM, path) }

// AddWatch subscribes to value pushes for w.
func (c *Client) AddWatch(w wire.Watch) bool { return c.Send(wire.CmdAddWatch, w.String()) }

// RemoveWatch cancels a subscription.
func (c *Client) RemoveWatch(w wire.Watch) bool { return c.Send(wire.CmdRemoveWatch, w.String()) }
