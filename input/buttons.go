package input

import "github.com/user-none/emubridge/wire"

// Button bit positions in a controller mask. Bits 0-3 are the d-pad.
const (
	BitUp = iota
	BitDown
	BitLeft
	BitRight
	BitA
	BitB
	BitC
	BitStart
	BitX
	BitY
	BitZ
	BitMode
)

// ButtonNames maps a mask bit to the event name the core understands.
var ButtonNames = [...]string{
	BitUp: "Up", BitDown: "Down", BitLeft: "Left", BitRight: "Right",
	BitA: "A", BitB: "B", BitC: "C", BitStart: "Start",
	BitX: "X", BitY: "Y", BitZ: "Z", BitMode: "Mode",
}

// ButtonBit returns the mask bit for a named button.
func ButtonBit(name string) (uint, bool) {
	for i, n := range ButtonNames {
		if n == name {
			return uint(i), true
		}
	}
	return 0, false
}

// Diff appends one event per button whose state differs between prev and
// next. Pressed buttons get value 1, released ones 0. Bits without a name
// are ignored.
func Diff(dst []wire.InputEvent, prev, next uint32, controller int) []wire.InputEvent {
	changed := prev ^ next
	for i, name := range ButtonNames {
		bit := uint32(1) << i
		if changed&bit == 0 {
			continue
		}
		var v int32
		if next&bit != 0 {
			v = 1
		}
		dst = append(dst, wire.InputEvent{Name: name, Value: v, Controller: int32(controller)})
	}
	return dst
}
