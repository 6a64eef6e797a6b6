// Package session runs the emulator subprocess lifecycle: launch on a
// background goroutine, opportunistic opening of the shared-memory
// primitives, promotion to Running on the subprocess's rom-loaded call,
// restart on unexpected exit and ordered teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user-none/emubridge/audio"
	"github.com/user-none/emubridge/config"
	"github.com/user-none/emubridge/control"
	"github.com/user-none/emubridge/input"
	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/shm"
	"github.com/user-none/emubridge/texture"
	"github.com/user-none/emubridge/wire"
)

var (
	// ErrNotStarted is returned by commands issued without a running core.
	ErrNotStarted = errors.New("session: core not started")

	// ErrNotDelivered means the command queue was closed or full.
	ErrNotDelivered = errors.New("session: command not delivered")
)

const openWarnInterval = 10 * time.Second

// Options are the collaborators of a Controller. Zero fields get defaults.
type Options struct {
	Launcher Launcher
	Registry *control.Registry
	Audio    *audio.Stream
	Logger   *logging.Logger
}

// session is one subprocess and its primitives.
type session struct {
	id     uint32
	gen    uint64
	launch config.LaunchConfig
	dir    string
	cancel context.CancelFunc
	proc   Process
	logOut *os.File

	texSub    int
	tex       *shm.PixelArray
	texReader *texture.Reader
	cmd       *shm.Queue
	client    *control.Client
	in        *shm.Queue
	writer    *input.Writer
	rpc       *shm.RPC
	ring      *shm.Ring

	dispatcher *control.Dispatcher
	rpcCancel  context.CancelFunc
	rpcDone    chan struct{}
	audioOn    bool
	paused     bool
}

func (s *session) endpoints() []shm.Endpoint {
	return []shm.Endpoint{s.tex, s.cmd, s.in, s.rpc, s.ring}
}

func (s *session) output() io.Writer {
	if s.logOut == nil {
		return io.Discard
	}
	return s.logOut
}

// Controller owns at most one session. All methods must be called from the
// host's main thread; background work reaches it through Tick.
type Controller struct {
	cfg      config.Config
	launcher Launcher
	reg      *control.Registry
	stream   *audio.Stream
	log      *logging.Logger

	actions actionQueue
	gen     uint64
	spawns  sync.WaitGroup

	wanted    bool
	status    Status
	sess      *session
	lastID    uint32
	system    string
	listeners []func(StatusEvent)
	openWarn  *logging.Limiter

	frame   texture.Image
	frameOK bool
}

// New creates an inactive controller.
func New(cfg *config.Config, opts Options) *Controller {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{}
	}
	if opts.Registry == nil {
		opts.Registry = control.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Audio == nil {
		opts.Audio = audio.NewStream(48000, 2, opts.Logger)
	}
	c := &Controller{
		cfg:      *cfg,
		launcher: opts.Launcher,
		reg:      opts.Registry,
		stream:   opts.Audio,
		log:      opts.Logger,
		openWarn: logging.NewLimiter(openWarnInterval),
	}
	c.log.SetVerbose(cfg.Log.Verbose)
	c.stream.SetVolume(cfg.Audio.Volume)
	return c
}

func (c *Controller) Status() Status              { return c.status }
func (c *Controller) Registry() *control.Registry { return c.reg }
func (c *Controller) Stream() *audio.Stream       { return c.stream }
func (c *Controller) Config() config.Config       { return c.cfg }

// System returns the content type reported by the last rom-loaded call.
func (c *Controller) System() string { return c.system }

// SessionID returns the id of the current or most recent session.
func (c *Controller) SessionID() uint32 { return c.lastID }

// TextureIndex returns the texture segment sub-index of the current session.
func (c *Controller) TextureIndex() int {
	if c.sess == nil {
		return 0
	}
	return c.sess.texSub
}

// OnStatus registers fn to be called on every status transition.
func (c *Controller) OnStatus(fn func(StatusEvent)) {
	c.listeners = append(c.listeners, fn)
}

// Frame returns the latest copied frame. The image is reused by Tick.
func (c *Controller) Frame() (*texture.Image, bool) {
	return &c.frame, c.frameOK
}

func (c *Controller) setStatus(to Status, reason string) {
	from := c.status
	if from == to {
		return
	}
	c.status = to
	c.log.Debugf("session %d: %s -> %s (%s)", c.lastID, from, to, reason)
	ev := StatusEvent{SessionID: c.lastID, From: from, To: to, Reason: reason, Time: time.Now()}
	for _, fn := range c.listeners {
		fn(ev)
	}
}

func (c *Controller) generation() uint64 {
	return c.gen
}

func (c *Controller) shouldRun() bool {
	return c.wanted && c.cfg.Session.Active
}

// Activate starts a session if none is running.
func (c *Controller) Activate() {
	c.wanted = true
	if c.sess != nil {
		return
	}
	if !c.cfg.Session.Active {
		c.log.Printf("session disabled by configuration")
		return
	}
	c.start("activate")
}

// Deactivate tears the session down. It is idempotent.
func (c *Controller) Deactivate() {
	c.wanted = false
	c.teardown("deactivate")
}

// Close deactivates and waits for in-flight launches, stopping any process
// they produced.
func (c *Controller) Close() {
	c.Deactivate()
	c.spawns.Wait()
	c.actions.drain(c.generation)
}

func (c *Controller) start(reason string) {
	lc := c.cfg.Launch()
	dir := segmentDir(lc)
	if err := prepareDirs(dir, c.cfg.Session.LogDir); err != nil {
		c.log.Errorf("session not started: %v", err)
		return
	}

	id := nextSessionID()
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{id: id, gen: c.gen, launch: lc, dir: dir, cancel: cancel}
	s.logOut = c.openCoreLog(id)
	spec := LaunchSpec{
		Path:   lc.CorePath,
		Args:   buildArgs(lc, id, 0, os.Getpid()),
		Output: s.output(),
	}

	c.sess = s
	c.lastID = id
	c.system = ""
	c.setStatus(Starting, reason)

	gen := c.gen
	c.spawns.Add(1)
	go func() {
		defer c.spawns.Done()
		proc, err := spawn(ctx, c.launcher, spec)
		c.actions.post(gen,
			func() { c.onSpawned(s, proc, err) },
			func() {
				if proc != nil {
					proc.Stop(c.cfg.Session.StopTimeout)
					removeSegments(s.dir, s.id, s.texSub)
				}
			})
	}()
}

// spawn launches the process unless ctx is already cancelled, and stops it
// again if ctx was cancelled while launching.
func spawn(ctx context.Context, l Launcher, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := l.Launch(spec)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		proc.Stop(time.Second)
		return nil, err
	}
	return proc, nil
}

func (c *Controller) openCoreLog(id uint32) *os.File {
	dir := c.cfg.Session.LogDir
	if dir == "" {
		return nil
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("core-%d.log", id)))
	if err != nil {
		c.log.Warnf("core log: %v", err)
		return nil
	}
	return f
}

func (c *Controller) onSpawned(s *session, proc Process, err error) {
	if err != nil {
		c.log.Errorf("core %d failed to start: %v", s.id, err)
		c.teardown("launch failed")
		return
	}

	s.proc = proc
	s.tex = shm.NewPixelArray(s.dir, textureName(s.id, s.texSub))
	s.cmd = shm.NewQueue(s.dir, segmentName(roleCommand, s.id))
	s.client = control.NewClient(s.cmd, c.log)
	s.in = shm.NewQueue(s.dir, segmentName(roleInput, s.id))
	s.writer = input.NewWriter(s.in, c.log)
	s.rpc = shm.NewRPC(s.dir, segmentName(roleRPC, s.id))
	s.rpc.SetLogger(c.log)
	s.ring = shm.NewRing(s.dir, segmentName(roleAudio, s.id))

	gen := s.gen
	post := func(fn func()) { c.actions.post(gen, fn, nil) }
	s.dispatcher = control.NewDispatcher(c.reg, c.log, post, c.onROMLoaded)

	c.log.Printf("core %d started (pid %d)", s.id, proc.PID())
	c.setStatus(Started, "spawned")
}

func (c *Controller) onROMLoaded(system string) {
	if c.sess == nil || c.status != Started {
		return
	}
	c.system = system
	c.log.Printf("core %d loaded %s content", c.sess.id, system)
	c.setStatus(Running, "rom loaded")
}

// Tick runs one main-thread iteration: posted actions, exit detection,
// primitive opening and the texture copy.
func (c *Controller) Tick() {
	c.actions.drain(c.generation)

	s := c.sess
	if s == nil || s.proc == nil {
		return
	}
	if s.proc.Exited() {
		if err := exitErr(s.proc); err != nil {
			c.log.Warnf("core %d exited unexpectedly: %v", s.id, err)
		} else {
			c.log.Warnf("core %d exited unexpectedly", s.id)
		}
		c.teardown("core exited")
		if c.shouldRun() && c.cfg.Session.RestartOnExit {
			c.start("restart after exit")
		}
		return
	}

	c.openPrimitives(s)
	if s.texReader != nil && s.texReader.CopyPixelsInto(&c.frame) {
		c.frameOK = true
	}
}

func (c *Controller) openPrimitives(s *session) {
	for _, e := range s.endpoints() {
		if e.IsOpen() {
			continue
		}
		if err := e.Open(); err != nil {
			if !errors.Is(err, shm.ErrNotReady) && c.openWarn.Allow() {
				c.log.Warnf("open %s: %v", e.Name(), err)
			}
			continue
		}
		c.log.Debugf("opened %s", e.Name())
		c.onOpened(s, e)
	}
}

func (c *Controller) onOpened(s *session, e shm.Endpoint) {
	switch e {
	case s.tex:
		s.texReader = texture.NewReader(s.tex)
	case s.rpc:
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		s.rpcCancel, s.rpcDone = cancel, done
		go func(rpc *shm.RPC, h shm.Handler) {
			defer close(done)
			rpc.Serve(ctx, h)
		}(s.rpc, s.dispatcher.Handle)
	case s.ring:
		// Samples produced before the host got here are already late.
		s.ring.Discard()
		c.stream.Attach(s.ring, c.audioConfig(s.ring))
		s.audioOn = true
	case s.cmd:
		for _, w := range c.reg.Watches() {
			s.client.AddWatch(w)
		}
	}
}

func (c *Controller) audioConfig(r *shm.Ring) audio.Config {
	a := c.cfg.Audio
	return audio.Config{
		NativeRate:          r.SampleRate(),
		Channels:            r.Channels(),
		WindowSize:          a.WindowSize,
		PressureFactor:      a.PressureFactor,
		IdealBufferSize:     a.IdealBufferSize,
		MaxEmptyTicks:       a.MaxEmptyTicks,
		StarvationThreshold: a.StarvationThreshold,
	}
}

// teardown stops the current session: startup cancellation, RPC goroutine,
// audio, process, primitives and their files, core log, then status
// Inactive.
func (c *Controller) teardown(reason string) {
	s := c.sess
	if s == nil {
		c.setStatus(Inactive, reason)
		return
	}
	c.sess = nil
	c.gen++

	s.cancel()
	if s.rpcCancel != nil {
		s.rpcCancel()
		<-s.rpcDone
	}
	if s.audioOn {
		c.stream.Detach()
	}
	if s.proc != nil {
		if !s.proc.Exited() {
			if err := s.proc.Stop(c.cfg.Session.StopTimeout); err != nil {
				c.log.Warnf("core %d: %v", s.id, err)
			}
		}
		for _, e := range s.endpoints() {
			if e.IsOpen() {
				e.Close()
			}
		}
		if err := removeSegments(s.dir, s.id, s.texSub); err != nil {
			c.log.Warnf("core %d segments: %v", s.id, err)
		}
	}
	if s.logOut != nil {
		s.logOut.Sync()
		s.logOut.Close()
	}
	c.frameOK = false
	c.setStatus(Inactive, reason)
}

// ApplyConfig switches to cfg. Launch-affecting differences restart the
// core; everything else is applied in place.
func (c *Controller) ApplyConfig(cfg *config.Config) {
	prev := c.cfg
	c.cfg = *cfg
	c.log.SetVerbose(cfg.Log.Verbose)
	c.stream.SetVolume(cfg.Audio.Volume)

	tuning := cfg.Audio
	tuning.Volume = prev.Audio.Volume
	if s := c.sess; s != nil && s.audioOn && tuning != prev.Audio {
		c.stream.Attach(s.ring, c.audioConfig(s.ring))
	}

	if !cfg.Session.Active {
		if c.sess != nil {
			c.teardown("disabled by configuration")
		}
		return
	}
	if c.sess != nil && cfg.Launch() != c.sess.launch {
		c.log.Printf("launch configuration changed, restarting core")
		c.teardown("launch configuration changed")
		c.start("launch configuration changed")
		return
	}
	if c.sess == nil && c.wanted {
		c.start("enabled by configuration")
	}
}

func (c *Controller) client() (*control.Client, error) {
	if c.sess == nil || c.sess.proc == nil {
		return nil, ErrNotStarted
	}
	return c.sess.client, nil
}

func delivered(ok bool) error {
	if !ok {
		return ErrNotDelivered
	}
	return nil
}

// LoadROM switches content. The texture segment moves to the next
// sub-index and the status drops to Started until the core reports the new
// content.
func (c *Controller) LoadROM(path string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	path = absPath(path)
	if !cl.LoadROM(path) {
		return fmt.Errorf("load rom %s: %w", path, ErrNotDelivered)
	}

	s := c.sess
	if s.tex.IsOpen() {
		s.tex.Close()
	}
	s.texSub++
	s.tex = shm.NewPixelArray(s.dir, textureName(s.id, s.texSub))
	s.texReader = nil

	// A restart after this point should bring the new content back.
	s.launch.Core.ROMPath, s.launch.Core.StatePath = path, ""
	c.cfg.Core.ROMPath, c.cfg.Core.StatePath = path, ""

	if c.status == Running {
		c.setStatus(Started, "loading rom")
	}
	return nil
}

// Pause asks the core to stop running frames.
func (c *Controller) Pause() error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := delivered(cl.Pause()); err != nil {
		return err
	}
	c.sess.paused = true
	return nil
}

// Unpause resumes a paused core.
func (c *Controller) Unpause() error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := delivered(cl.Unpause()); err != nil {
		return err
	}
	c.sess.paused = false
	return nil
}

// Paused reports whether the current core was paused through Pause. A new
// core always starts running.
func (c *Controller) Paused() bool {
	return c.sess != nil && c.sess.paused
}

// FrameAdvance runs a single frame on a paused core.
func (c *Controller) FrameAdvance() error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	return delivered(cl.FrameAdvance())
}

// SetVolume sets the core's own output volume.
func (c *Controller) SetVolume(v float64) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	return delivered(cl.SetVolume(v))
}

// SaveState asks the core to write its state to path.
func (c *Controller) SaveState(path string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	return delivered(cl.SaveState(absPath(path)))
}

// LoadState asks the core to restore the state in path.
func (c *Controller) LoadState(path string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	return delivered(cl.LoadState(absPath(path)))
}

// SendInput writes events in order and returns how many were queued.
func (c *Controller) SendInput(events ...wire.InputEvent) int {
	if c.sess == nil || c.sess.writer == nil {
		return 0
	}
	return c.sess.writer.WriteAll(events)
}

// AddWatch registers fn for w. The subscription is sent now if the core is
// reachable and replayed whenever a new session opens its command queue.
func (c *Controller) AddWatch(w wire.Watch, fn control.WatchFunc) (uint64, error) {
	key, err := c.reg.Watch(w, fn)
	if err != nil {
		return 0, err
	}
	if cl, err := c.client(); err == nil && c.sess.cmd.IsOpen() {
		cl.AddWatch(w)
	}
	return key, nil
}

// RemoveWatch unregisters the watch with key.
func (c *Controller) RemoveWatch(key uint64) bool {
	w, ok := c.reg.Unwatch(key)
	if !ok {
		return false
	}
	if cl, err := c.client(); err == nil && c.sess.cmd.IsOpen() {
		cl.RemoveWatch(w)
	}
	return true
}
