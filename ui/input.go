package ui

import (
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/user-none/emubridge/input"
)

// keyMap binds keyboard keys to controller bits: WASD and arrows move,
// JKL are A/B/C, UIO are X/Y/Z, Enter is Start and P is Mode.
var keyMap = []struct {
	bit  int
	keys []ebiten.Key
}{
	{input.BitUp, []ebiten.Key{ebiten.KeyW, ebiten.KeyArrowUp}},
	{input.BitDown, []ebiten.Key{ebiten.KeyS, ebiten.KeyArrowDown}},
	{input.BitLeft, []ebiten.Key{ebiten.KeyA, ebiten.KeyArrowLeft}},
	{input.BitRight, []ebiten.Key{ebiten.KeyD, ebiten.KeyArrowRight}},
	{input.BitA, []ebiten.Key{ebiten.KeyJ}},
	{input.BitB, []ebiten.Key{ebiten.KeyK}},
	{input.BitC, []ebiten.Key{ebiten.KeyL}},
	{input.BitStart, []ebiten.Key{ebiten.KeyEnter}},
	{input.BitX, []ebiten.Key{ebiten.KeyU}},
	{input.BitY, []ebiten.Key{ebiten.KeyI}},
	{input.BitZ, []ebiten.Key{ebiten.KeyO}},
	{input.BitMode, []ebiten.Key{ebiten.KeyP}},
}

// padMap binds standard gamepad buttons: A/Cross=A, B/Circle=B,
// X/Square=C, LB=X, RB=Y, Y/Triangle=Z, Select/Back=Mode.
var padMap = []struct {
	bit    int
	button ebiten.StandardGamepadButton
}{
	{input.BitUp, ebiten.StandardGamepadButtonLeftTop},
	{input.BitDown, ebiten.StandardGamepadButtonLeftBottom},
	{input.BitLeft, ebiten.StandardGamepadButtonLeftLeft},
	{input.BitRight, ebiten.StandardGamepadButtonLeftRight},
	{input.BitA, ebiten.StandardGamepadButtonRightBottom},
	{input.BitB, ebiten.StandardGamepadButtonRightRight},
	{input.BitC, ebiten.StandardGamepadButtonRightLeft},
	{input.BitStart, ebiten.StandardGamepadButtonCenterRight},
	{input.BitX, ebiten.StandardGamepadButtonFrontTopLeft},
	{input.BitY, ebiten.StandardGamepadButtonFrontTopRight},
	{input.BitZ, ebiten.StandardGamepadButtonRightTop},
	{input.BitMode, ebiten.StandardGamepadButtonCenterLeft},
}

const stickDeadzone = 0.5

// PollButtons reads the keyboard and every standard-layout gamepad into one
// controller mask.
func PollButtons() uint32 {
	var mask uint32
	for _, m := range keyMap {
		for _, k := range m.keys {
			if ebiten.IsKeyPressed(k) {
				mask |= 1 << m.bit
				break
			}
		}
	}

	for _, id := range ebiten.AppendGamepadIDs(nil) {
		if !ebiten.IsStandardGamepadLayoutAvailable(id) {
			continue
		}
		for _, m := range padMap {
			if ebiten.IsStandardGamepadButtonPressed(id, m.button) {
				mask |= 1 << m.bit
			}
		}

		axisX := ebiten.StandardGamepadAxisValue(id, ebiten.StandardGamepadAxisLeftStickHorizontal)
		axisY := ebiten.StandardGamepadAxisValue(id, ebiten.StandardGamepadAxisLeftStickVertical)
		if axisX < -stickDeadzone {
			mask |= 1 << input.BitLeft
		}
		if axisX > stickDeadzone {
			mask |= 1 << input.BitRight
		}
		if axisY < -stickDeadzone {
			mask |= 1 << input.BitUp
		}
		if axisY > stickDeadzone {
			mask |= 1 << input.BitDown
		}
	}
	return mask
}
