package shm

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user-none/emubridge/logging"
)

const (
	rpcHeaderSize = offLineD + lineSize
	callIDSize    = 8

	rpcMinBackoff = 50 * time.Microsecond
	rpcMaxBackoff = 2 * time.Millisecond

	responseDropWarnInterval = 5 * time.Second
)

// Handler answers one RPC request. It runs on the goroutine that calls
// ServeOnce or Serve.
type Handler func(payload []byte) []byte

// RPC is a request/response channel. The calling side writes requests and
// waits for the response with the same call id; the serving side drains
// requests and answers each one. The segment holds two queues: requests use
// index lines A/B, responses use lines C/D.
type RPC struct {
	dir  string
	name string
	seg  *Segment
	req  queueView
	rsp  queueView

	callMu sync.Mutex
	nextID uint64

	log      *logging.Logger
	dropWarn *logging.Limiter
	dropped  atomic.Uint64
}

// NewRPC returns a closed handle for the named RPC segment.
func NewRPC(dir, name string) *RPC {
	return newRPC(dir, name)
}

func newRPC(dir, name string) *RPC {
	return &RPC{dir: dir, name: name, log: logging.Default(), dropWarn: logging.NewLimiter(responseDropWarnInterval)}
}

// SetLogger sets where the serving side reports dropped responses.
func (c *RPC) SetLogger(lg *logging.Logger) {
	if lg != nil {
		c.log = lg
	}
}

// Dropped returns how many responses were lost to a full response queue.
func (c *RPC) Dropped() uint64 {
	return c.dropped.Load()
}

// CreateRPC creates and opens an RPC segment with capacity bytes per
// direction.
func CreateRPC(dir, name string, capacity int) (*RPC, error) {
	size := nextPow2(capacity, minQueueCapacity)
	seg, err := createSegment(dir, name, rpcHeaderSize+2*int(size))
	if err != nil {
		return nil, err
	}
	seg.initHeader(KindRPC, size, 0, 0)
	seg.markReady()

	c := newRPC(dir, name)
	c.attach(seg)
	return c, nil
}

func (c *RPC) attach(seg *Segment) {
	size := seg.capacity()
	c.seg = seg
	c.req = queueView{mem: seg.mem, prod: offLineA, cons: offLineB, data: rpcHeaderSize, size: size}
	c.rsp = queueView{mem: seg.mem, prod: offLineC, cons: offLineD, data: rpcHeaderSize + int(size), size: size}
}

// Name returns the segment name.
func (c *RPC) Name() string {
	return c.name
}

// Open maps the segment if it is ready.
func (c *RPC) Open() error {
	if c.seg != nil {
		return nil
	}
	seg, err := openSegment(c.dir, c.name, KindRPC)
	if err != nil {
		return err
	}
	c.attach(seg)
	return nil
}

// IsOpen reports whether the segment is mapped.
func (c *RPC) IsOpen() bool {
	return c.seg != nil
}

// Close unmaps the segment. No Call or Serve may be running.
func (c *RPC) Close() error {
	if c.seg == nil {
		return nil
	}
	err := c.seg.Close()
	c.seg = nil
	c.req = queueView{}
	c.rsp = queueView{}
	return err
}

// Call sends payload and waits for the matching response until ctx is done.
// Responses to earlier calls that timed out are discarded. Calls are
// serialised.
func (c *RPC) Call(ctx context.Context, payload []byte) ([]byte, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.seg == nil {
		return nil, ErrClosed
	}

	c.nextID++
	id := c.nextID
	env := make([]byte, callIDSize+len(payload))
	binary.LittleEndian.PutUint64(env, id)
	copy(env[callIDSize:], payload)
	if !c.req.push(env) {
		return nil, ErrFull
	}

	backoff := rpcMinBackoff
	for {
		for {
			rec, ok, err := c.rsp.pop()
			if err != nil {
				continue
			}
			if !ok {
				break
			}
			if len(rec) < callIDSize {
				continue
			}
			if binary.LittleEndian.Uint64(rec) == id {
				return rec[callIDSize:], nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < rpcMaxBackoff {
			backoff *= 2
		}
	}
}

// ServeOnce answers every pending request with h and returns how many were
// handled. A panicking handler is answered with an empty response. If the
// response queue is full the response is dropped with a rate-limited
// warning and the caller times out.
func (c *RPC) ServeOnce(h Handler) int {
	if c.seg == nil {
		return 0
	}
	n := 0
	for {
		rec, ok, err := c.req.pop()
		if err != nil {
			continue
		}
		if !ok {
			return n
		}
		if len(rec) < callIDSize {
			continue
		}

		out := invoke(h, rec[callIDSize:])
		env := make([]byte, callIDSize+len(out))
		copy(env, rec[:callIDSize])
		copy(env[callIDSize:], out)
		if !c.rsp.push(env) {
			d := c.dropped.Add(1)
			if c.dropWarn.Allow() {
				c.log.Warnf("rpc %s: response queue full, %d responses dropped so far", c.name, d)
			}
		}
		n++
	}
}

// Serve calls ServeOnce until ctx is done, backing off while idle.
func (c *RPC) Serve(ctx context.Context, h Handler) {
	backoff := rpcMinBackoff
	for {
		if c.ServeOnce(h) > 0 {
			backoff = rpcMinBackoff
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < rpcMaxBackoff {
			backoff *= 2
		}
	}
}

func invoke(h Handler, payload []byte) (out []byte) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return h(payload)
}
