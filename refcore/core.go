// Package refcore is a small emulator stand-in that speaks the bridge
// protocol from the subprocess side. It creates every segment, renders a
// test pattern, plays a PSG tone, and answers commands and input like a
// real core would. The host's integration tests drive it through Step.
package refcore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/user-none/go-chip-sn76489"

	"github.com/user-none/emubridge/input"
	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/shm"
	"github.com/user-none/emubridge/wire"
)

const (
	queueCapacity = 64 << 10
	rpcCapacity   = 64 << 10
	audioChannels = 2
	controllers   = 4
	ramSize       = 0x10000
)

// RAM layout visible to watches and scripts.
const (
	RAMInput  = 0x0000 // u16 LE button mask per controller
	RAMFrame  = 0x0010 // u32 LE frame counter
	RAMCursor = 0x0020 // u16 LE x, u16 LE y
	RAMVolume = 0x0024 // u8 volume percent
)

// rpcWarnInterval bounds how often failed calls to the host are reported.
const rpcWarnInterval = 5 * time.Second

// State files hold the magic, the u64 frame counter, RAM and the PSG.
var stateMagic = [4]byte{'R', 'C', 'S', 'T'}

var stateSize = len(stateMagic) + 8 + ramSize + sn76489.SerializeSize

type watchState struct {
	w    wire.Watch
	last string
	sent bool
}

// Core is one running reference core. It is not safe for concurrent use;
// Run drives it from a single goroutine.
type Core struct {
	opts Options
	log  *logging.Logger

	cmd   *shm.Queue
	input *shm.Queue
	rpc   *shm.RPC
	ring  *shm.Ring
	tex   *shm.PixelArray

	texName string
	romPath string
	system  string
	width   int
	height  int
	pixels  []uint32

	psg     *sn76489.SN76489
	samples []int16
	rpcWarn *logging.Limiter

	frame   uint64
	paused  bool
	advance int
	volume  float64
	ram     []byte

	watches       map[uint64]*watchState
	pendingLoaded bool

	script *script
}

// New creates every segment named in opts, loads the content and optional
// script, and returns a core ready to Step.
func New(opts Options, lg *logging.Logger) (_ *Core, err error) {
	if lg == nil {
		lg = logging.Default()
	}
	dir := opts.SegmentDir
	if dir == "" {
		dir = shm.DefaultDir()
		opts.SegmentDir = dir
	}

	c := &Core{
		opts:    opts,
		log:     lg,
		volume:  1,
		ram:     make([]byte, ramSize),
		watches: make(map[uint64]*watchState),
		psg:     newPSG(opts),
		rpcWarn: logging.NewLimiter(rpcWarnInterval),
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.cmd, err = shm.CreateQueue(dir, opts.CommandBuffer, queueCapacity); err != nil {
		return nil, fmt.Errorf("command queue: %w", err)
	}
	if c.input, err = shm.CreateQueue(dir, opts.InputBuffer, queueCapacity); err != nil {
		return nil, fmt.Errorf("input queue: %w", err)
	}
	if c.rpc, err = shm.CreateRPC(dir, opts.RPCBuffer, rpcCapacity); err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}
	frames := opts.SampleRate / 5
	if c.ring, err = shm.CreateRing(dir, opts.AudioBuffer, frames, opts.SampleRate, audioChannels); err != nil {
		return nil, fmt.Errorf("audio ring: %w", err)
	}

	if opts.Mute {
		c.volume = 0
	}
	c.ram[RAMVolume] = byte(c.volume * 100)
	c.programTone()

	c.texName = opts.TextureBuffer
	if err = c.loadROM(opts.ROMPath); err != nil {
		return nil, err
	}
	if opts.StatePath != "" {
		if err := c.loadState(opts.StatePath); err != nil {
			lg.Warnf("initial state not loaded: %v", err)
		}
	}
	if opts.ScriptPath != "" {
		if c.script, err = loadScript(c, opts.ScriptPath); err != nil {
			return nil, err
		}
	}

	lg.Printf("core ready: system=%s %dx%d rate=%d headless=%v popups-suppressed=%v background-input=%v",
		c.system, c.width, c.height, opts.SampleRate, opts.Headless, opts.SuppressPopups, opts.AcceptBackgroundInput)
	return c, nil
}

// Close releases every segment. The segment files are removed.
func (c *Core) Close() error {
	if c.script != nil {
		c.script.close()
		c.script = nil
	}
	var errs []error
	if c.tex != nil {
		errs = append(errs, c.tex.Close())
	}
	if c.cmd != nil {
		errs = append(errs, c.cmd.Close())
	}
	if c.input != nil {
		errs = append(errs, c.input.Close())
	}
	if c.rpc != nil {
		errs = append(errs, c.rpc.Close())
	}
	if c.ring != nil {
		errs = append(errs, c.ring.Close())
	}
	return errors.Join(errs...)
}

func (c *Core) Frame() uint64       { return c.frame }
func (c *Core) Paused() bool        { return c.paused }
func (c *Core) Volume() float64     { return c.volume }
func (c *Core) System() string      { return c.system }
func (c *Core) TextureName() string { return c.texName }

// Buttons returns the current button mask for a controller.
func (c *Core) Buttons(controller int) uint16 {
	if controller < 0 || controller >= controllers {
		return 0
	}
	return binary.LittleEndian.Uint16(c.ram[RAMInput+2*controller:])
}

// ReadRAM returns one byte of core memory.
func (c *Core) ReadRAM(addr int) byte {
	return c.ram[addr&(ramSize-1)]
}

// Watching reports whether a watch is active.
func (c *Core) Watching(w wire.Watch) bool {
	_, ok := c.watches[w.Key()]
	return ok
}

// geometry picks a screen size from the content extension.
func geometry(path string) (system string, w, h int) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".gen", ".bin":
		return "genesis", 320, 224
	case ".sms":
		return "sms", 256, 192
	case ".gb", ".gbc":
		return "gb", 160, 144
	case "":
		return "none", 256, 224
	default:
		return "generic", 256, 224
	}
}

// NextTextureName returns the texture segment name with its trailing
// sub-index incremented: texture-7-0 becomes texture-7-1.
func NextTextureName(name string) string {
	i := strings.LastIndexByte(name, '-')
	if i < 0 {
		return name + "-1"
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return name + "-1"
	}
	return name[:i+1] + strconv.Itoa(n+1)
}

// loadROM switches content. The texture is recreated for the new geometry
// under c.texName, which the caller has already advanced if needed. The
// host is told only when the content actually loaded.
func (c *Core) loadROM(path string) error {
	var loadErr error
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			loadErr = fmt.Errorf("content %s: %w", path, err)
			path = ""
		}
	}
	system, w, h := geometry(path)

	if c.tex != nil {
		c.tex.Close()
		c.tex = nil
	}
	tex, err := shm.CreatePixelArray(c.opts.SegmentDir, c.texName, w*h)
	if err != nil {
		return fmt.Errorf("texture: %w", err)
	}
	c.tex = tex
	c.width, c.height = w, h
	c.pixels = make([]uint32, w*h)
	c.system = system
	c.romPath = path
	c.frame = 0
	clear(c.ram)
	c.ram[RAMVolume] = byte(c.volume * 100)
	c.pendingLoaded = path != ""

	if loadErr != nil {
		c.log.Warnf("%v", loadErr)
	}
	return nil
}

// Step runs one iteration: commands, input, one frame unless paused, watch
// pushes, and the pending rom-loaded notification.
func (c *Core) Step() {
	c.drainCommands()
	c.drainInput()
	if !c.paused {
		c.runFrame()
	} else if c.advance > 0 {
		c.advance--
		c.runFrame()
	}
	c.pushWatches()
	c.notifyLoaded()
}

func (c *Core) drainCommands() {
	for {
		rec, ok, err := c.cmd.Read()
		if err != nil {
			c.log.Warnf("command queue: %v", err)
			continue
		}
		if !ok {
			return
		}
		call, err := wire.DecodeMethodCall(rec)
		if err != nil {
			c.log.Warnf("discarding command: %v", err)
			continue
		}
		c.command(call)
	}
}

func (c *Core) command(call wire.MethodCall) {
	switch call.Name {
	case wire.CmdPause:
		c.paused = true
	case wire.CmdUnpause:
		c.paused = false
		c.advance = 0
	case wire.CmdFrameAdvance:
		c.advance++
	case wire.CmdSetVolume:
		v, err := strconv.ParseFloat(call.Arg, 64)
		if err != nil || v < 0 || v > 1 {
			c.log.Warnf("bad volume %q", call.Arg)
			return
		}
		if !c.opts.Mute {
			c.volume = v
			c.ram[RAMVolume] = byte(v * 100)
			c.setAttenuation()
		}
	case wire.CmdSaveState:
		if err := c.saveState(call.Arg); err != nil {
			c.log.Warnf("save state: %v", err)
		}
	case wire.CmdLoadState:
		if err := c.loadState(call.Arg); err != nil {
			c.log.Warnf("load state: %v", err)
		}
	case wire.CmdLoadROM:
		c.texName = NextTextureName(c.texName)
		if err := c.loadROM(call.Arg); err != nil {
			c.log.Errorf("load rom: %v", err)
		}
	case wire.CmdAddWatch:
		w, err := wire.ParseWatch(call.Arg)
		if err != nil {
			c.log.Warnf("add watch: %v", err)
			return
		}
		if _, ok := c.watches[w.Key()]; !ok {
			c.watches[w.Key()] = &watchState{w: w}
		}
	case wire.CmdRemoveWatch:
		w, err := wire.ParseWatch(call.Arg)
		if err != nil {
			c.log.Warnf("remove watch: %v", err)
			return
		}
		delete(c.watches, w.Key())
	default:
		c.log.Warnf("unknown command %q", call.Name)
	}
}

func (c *Core) drainInput() {
	for {
		rec, ok, err := c.input.Read()
		if err != nil {
			c.log.Warnf("input queue: %v", err)
			continue
		}
		if !ok {
			return
		}
		ev, err := wire.DecodeInputEvent(rec)
		if err != nil {
			c.log.Warnf("discarding input: %v", err)
			continue
		}
		c.applyInput(ev)
	}
}

func (c *Core) applyInput(ev wire.InputEvent) {
	if ev.Controller < 0 || ev.Controller >= controllers || ev.Analog {
		return
	}
	bit, ok := input.ButtonBit(ev.Name)
	if !ok {
		return
	}
	off := RAMInput + 2*int(ev.Controller)
	mask := binary.LittleEndian.Uint16(c.ram[off:])
	if ev.Value != 0 {
		mask |= 1 << bit
	} else {
		mask &^= 1 << bit
	}
	binary.LittleEndian.PutUint16(c.ram[off:], mask)
}

func (c *Core) runFrame() {
	c.frame++
	binary.LittleEndian.PutUint32(c.ram[RAMFrame:], uint32(c.frame))
	c.moveCursor()
	c.render()
	if err := c.tex.WriteFrame(c.pixels, c.width, c.height); err != nil {
		c.log.Warnf("texture: %v", err)
	}
	c.produceAudio()
	if c.script != nil {
		if err := c.script.frame(); err != nil {
			c.log.Errorf("script disabled: %v", err)
			c.script.close()
			c.script = nil
		}
	}
}

func (c *Core) moveCursor() {
	mask := c.Buttons(0)
	x := int(binary.LittleEndian.Uint16(c.ram[RAMCursor:]))
	y := int(binary.LittleEndian.Uint16(c.ram[RAMCursor+2:]))
	if mask&(1<<input.BitLeft) != 0 && x > 0 {
		x--
	}
	if mask&(1<<input.BitRight) != 0 && x < c.width-16 {
		x++
	}
	if mask&(1<<input.BitUp) != 0 && y > 0 {
		y--
	}
	if mask&(1<<input.BitDown) != 0 && y < c.height-16 {
		y++
	}
	binary.LittleEndian.PutUint16(c.ram[RAMCursor:], uint16(x))
	binary.LittleEndian.PutUint16(c.ram[RAMCursor+2:], uint16(y))
}

var bars = [8]uint32{
	0xFFFFFFFF, 0xFFFFFF00, 0xFF00FFFF, 0xFF00FF00,
	0xFFFF00FF, 0xFFFF0000, 0xFF0000FF, 0xFF000000,
}

// render draws scrolling colour bars with a 16x16 cursor.
func (c *Core) render() {
	w, h := c.width, c.height
	cx := int(binary.LittleEndian.Uint16(c.ram[RAMCursor:]))
	cy := int(binary.LittleEndian.Uint16(c.ram[RAMCursor+2:]))
	shift := int(c.frame)
	for y := 0; y < h; y++ {
		row := c.pixels[y*w : (y+1)*w]
		for x := range row {
			if x >= cx && x < cx+16 && y >= cy && y < cy+16 {
				row[x] = 0xFF808080
				continue
			}
			row[x] = bars[((x+shift)*len(bars)/w)%len(bars)]
		}
	}
}

// readWatch formats the current value for w, or reports false if the
// address range is outside RAM.
func (c *Core) readWatch(w wire.Watch) (string, bool) {
	if w.Address+uint64(w.Size) > ramSize {
		return "", false
	}
	b := c.ram[w.Address : w.Address+uint64(w.Size)]
	var u uint64
	if w.BigEndian {
		for _, x := range b {
			u = u<<8 | uint64(x)
		}
	} else {
		for i := len(b) - 1; i >= 0; i-- {
			u = u<<8 | uint64(b[i])
		}
	}
	switch w.Type {
	case wire.Signed:
		shift := 64 - 8*uint(w.Size)
		return strconv.FormatInt(int64(u<<shift)>>shift, 10), true
	case wire.Float:
		if w.Size == 4 {
			return strconv.FormatFloat(float64(math.Float32frombits(uint32(u))), 'g', -1, 32), true
		}
		return strconv.FormatFloat(math.Float64frombits(u), 'g', -1, 64), true
	default:
		return strconv.FormatUint(u, 10), true
	}
}

func (c *Core) pushWatches() {
	for _, st := range c.watches {
		v, ok := c.readWatch(st.w)
		if !ok || (st.sent && v == st.last) {
			continue
		}
		arg := wire.FormatWatchValue(wire.WatchValue{Watch: st.w, Value: v})
		if _, err := c.callHost(wire.MethodWatchValue, arg); err != nil {
			if c.rpcWarn.Allow() {
				c.log.Warnf("watch push %s: %v", st.w, err)
			}
			return
		}
		st.last, st.sent = v, true
	}
}

// notifyLoaded retries until the host answers. A duplicate notification is
// harmless on the host side.
func (c *Core) notifyLoaded() {
	if !c.pendingLoaded {
		return
	}
	if _, err := c.callHost(wire.MethodROMLoaded, c.system); err != nil {
		if c.rpcWarn.Allow() {
			c.log.Warnf("rom-loaded not delivered: %v", err)
		}
		return
	}
	c.pendingLoaded = false
}

// callHost makes one RPC to the host with the configured timeout.
func (c *Core) callHost(name, arg string) (wire.Return, error) {
	p, err := wire.EncodeMethodCall(wire.MethodCall{Name: name, Arg: arg})
	if err != nil {
		return wire.Return{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RPCTimeout)
	defer cancel()
	out, err := c.rpc.Call(ctx, p)
	if err != nil {
		return wire.Return{}, err
	}
	return wire.DecodeReturn(out)
}

func (c *Core) saveState(path string) error {
	buf := make([]byte, stateSize)
	copy(buf, stateMagic[:])
	binary.LittleEndian.PutUint64(buf[4:], c.frame)
	copy(buf[12:], c.ram)
	if err := c.psg.Serialize(buf[12+ramSize:]); err != nil {
		return fmt.Errorf("psg: %w", err)
	}
	return os.WriteFile(path, buf, 0644)
}

func (c *Core) loadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) != stateSize || [4]byte(data[:4]) != stateMagic {
		return fmt.Errorf("%s: not a state file", path)
	}
	if err := c.psg.Deserialize(data[12+ramSize:]); err != nil {
		return fmt.Errorf("psg: %w", err)
	}
	c.frame = binary.LittleEndian.Uint64(data[4:])
	copy(c.ram, data[12:12+ramSize])
	if !c.opts.Mute {
		c.volume = float64(c.ram[RAMVolume]) / 100
	}
	c.setAttenuation()
	return nil
}
