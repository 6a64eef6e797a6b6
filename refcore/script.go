package refcore

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/user-none/emubridge/wire"
)

// script is an auxiliary Lua program. It can call back into the host and
// poke core memory. A global on_frame function runs after every frame.
type script struct {
	L       *lua.LState
	onFrame lua.LValue
}

func loadScript(c *Core, path string) (*script, error) {
	L := lua.NewState()

	host := L.NewTable()
	L.SetField(host, "call", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		arg := L.OptString(2, "")
		if name == wire.MethodROMLoaded || name == wire.MethodWatchValue {
			L.ArgError(1, "reserved method name "+name)
			return 0
		}
		ret, err := c.callHost(name, arg)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if !ret.OK {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(ret.Value))
		return 1
	}))
	L.SetGlobal("host", host)

	emu := L.NewTable()
	L.SetField(emu, "framecount", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(c.frame))
		return 1
	}))
	L.SetField(emu, "system", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(c.system))
		return 1
	}))
	L.SetGlobal("emu", emu)

	memory := L.NewTable()
	L.SetField(memory, "read_u8", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(c.ReadRAM(L.CheckInt(1))))
		return 1
	}))
	L.SetField(memory, "write_u8", L.NewFunction(func(L *lua.LState) int {
		addr := L.CheckInt(1)
		c.ram[addr&(ramSize-1)] = byte(L.CheckInt(2))
		return 0
	}))
	L.SetGlobal("memory", memory)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("lua %s: %w", path, err)
	}
	return &script{L: L, onFrame: L.GetGlobal("on_frame")}, nil
}

func (s *script) frame() error {
	if s.onFrame.Type() != lua.LTFunction {
		return nil
	}
	return s.L.CallByParam(lua.P{Fn: s.onFrame, NRet: 0, Protect: true})
}

func (s *script) close() {
	s.L.Close()
}
