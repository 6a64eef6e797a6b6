// Package wire encodes the small fixed-shape records exchanged with the
// emulator subprocess: method calls, call returns, input events and memory
// watch pushes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned when a payload cannot be decoded.
var ErrMalformed = errors.New("wire: malformed payload")

// Reserved inbound method names. The subprocess sends these; they cannot be
// registered as user callbacks.
const (
	MethodROMLoaded  = "rom-loaded"
	MethodWatchValue = "watch-value"
)

// Outbound command names.
const (
	CmdPause        = "pause"
	CmdUnpause      = "unpause"
	CmdSetVolume    = "set-volume"
	CmdLoadState    = "load-state"
	CmdSaveState    = "save-state"
	CmdLoadROM      = "load-rom"
	CmdFrameAdvance = "frame-advance"
	CmdAddWatch     = "add-watch"
	CmdRemoveWatch  = "remove-watch"
)

// MethodCall is a named call with a single string argument.
type MethodCall struct {
	Name string
	Arg  string
}

// Return is the optional string result of a call.
type Return struct {
	Value string
	OK    bool
}

// InputEvent is one button or axis change for a controller slot.
type InputEvent struct {
	Name       string
	Value      int32
	Controller int32
	Analog     bool
}

// decoder walks a payload, remembering the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, len(d.buf))
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) str16() string {
	n := int(d.u16())
	return string(d.take(n))
}

func (d *decoder) str32() string {
	n := d.u32()
	if n > math.MaxInt32 {
		d.err = fmt.Errorf("%w: length %d", ErrMalformed, n)
		return ""
	}
	return string(d.take(int(n)))
}

// finish reports the first error or trailing garbage.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf))
	}
	return nil
}

func appendStr16(b []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return b, fmt.Errorf("name too long (%d bytes)", len(s))
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...), nil
}

func appendStr32(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// EncodeMethodCall encodes c as [u16 nameLen][name][u32 argLen][arg].
func EncodeMethodCall(c MethodCall) ([]byte, error) {
	b := make([]byte, 0, 6+len(c.Name)+len(c.Arg))
	b, err := appendStr16(b, c.Name)
	if err != nil {
		return nil, err
	}
	return appendStr32(b, c.Arg), nil
}

// DecodeMethodCall decodes a payload produced by EncodeMethodCall.
func DecodeMethodCall(p []byte) (MethodCall, error) {
	d := decoder{buf: p}
	c := MethodCall{Name: d.str16(), Arg: d.str32()}
	if err := d.finish(); err != nil {
		return MethodCall{}, err
	}
	if c.Name == "" {
		return MethodCall{}, fmt.Errorf("%w: empty method name", ErrMalformed)
	}
	return c, nil
}

// EncodeReturn encodes r as [u8 ok][u32 len][value]. A missing return is a
// single zero byte.
func EncodeReturn(r Return) []byte {
	if !r.OK {
		return []byte{0}
	}
	b := make([]byte, 0, 5+len(r.Value))
	b = append(b, 1)
	return appendStr32(b, r.Value)
}

// DecodeReturn decodes a payload produced by EncodeReturn. An empty payload
// decodes as no return.
func DecodeReturn(p []byte) (Return, error) {
	if len(p) == 0 {
		return Return{}, nil
	}
	d := decoder{buf: p}
	ok := d.u8()
	if ok == 0 {
		if err := d.finish(); err != nil {
			return Return{}, err
		}
		return Return{}, nil
	}
	r := Return{Value: d.str32(), OK: true}
	if err := d.finish(); err != nil {
		return Return{}, err
	}
	return r, nil
}

// EncodeInputEvent encodes e as
// [u16 nameLen][name][i32 value][i32 controller][u8 analog].
func EncodeInputEvent(e InputEvent) ([]byte, error) {
	b := make([]byte, 0, 11+len(e.Name))
	b, err := appendStr16(b, e.Name)
	if err != nil {
		return nil, err
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(e.Value))
	b = binary.LittleEndian.AppendUint32(b, uint32(e.Controller))
	if e.Analog {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b, nil
}

// DecodeInputEvent decodes a payload produced by EncodeInputEvent.
func DecodeInputEvent(p []byte) (InputEvent, error) {
	d := decoder{buf: p}
	e := InputEvent{
		Name:       d.str16(),
		Value:      int32(d.u32()),
		Controller: int32(d.u32()),
	}
	analog := d.u8()
	if err := d.finish(); err != nil {
		return InputEvent{}, err
	}
	if analog > 1 {
		return InputEvent{}, fmt.Errorf("%w: analog flag %d", ErrMalformed, analog)
	}
	e.Analog = analog == 1
	return e, nil
}
