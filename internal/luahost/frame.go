/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package luahost

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/microsoft/breakeval/internal/trace"
)

type slotKind int

const (
	slotLocal slotKind = iota
	slotUpvalue
)

type slot struct {
	kind     slotKind
	index    int
	original lua.LValue
}

// luaFrame exposes a paused Lua call frame to the tracer.
// Locals and upvalues of the frame are snapshotted into the scope on first use;
// commit writes changed values back into the frame.
type luaFrame struct {
	L        *lua.LState
	dbg      *lua.Debug
	fn       *lua.LFunction
	line     int
	function string

	scope *trace.Scope
	slots map[string]slot
}

var _ trace.Frame = (*luaFrame)(nil)

func newLuaFrame(L *lua.LState, dbg *lua.Debug, line int, function string) *luaFrame {
	return &luaFrame{
		L:        L,
		dbg:      dbg,
		line:     line,
		function: function,
	}
}

func (f *luaFrame) File() string {
	return f.dbg.Source
}

func (f *luaFrame) Line() int {
	return f.line
}

func (f *luaFrame) Function() string {
	return f.function
}

func (f *luaFrame) Scope() *trace.Scope {
	if f.scope == nil {
		f.snapshot()
	}
	return f.scope
}

func (f *luaFrame) snapshot() {
	f.scope = trace.NewScope()
	f.slots = map[string]slot{}

	// Upvalues first: a local of the same name declared in this function shadows them.
	if fv, err := f.L.GetInfo("f", f.dbg, lua.LNil); err == nil {
		if fn, isFn := fv.(*lua.LFunction); isFn && !fn.IsG {
			f.fn = fn
			for i := 1; i <= len(fn.Upvalues); i++ {
				name, value := f.L.GetUpvalue(fn, i)
				if !isVisibleName(name) {
					continue
				}
				f.scope.Locals.Set(name, value)
				f.slots[name] = slot{kind: slotUpvalue, index: i, original: value}
			}
		}
	}

	for i := 1; ; i++ {
		name, value := f.L.GetLocal(f.dbg, i)
		if name == "" {
			break
		}
		if !isVisibleName(name) {
			continue
		}
		f.scope.Locals.Set(name, value)
		f.slots[name] = slot{kind: slotLocal, index: i, original: value}
	}

	globals := f.L.G.Global
	globals.ForEach(func(k, v lua.LValue) {
		if name, isString := k.(lua.LString); isString && isVisibleName(string(name)) {
			f.scope.Globals.Set(string(name), v)
		}
	})
}

// commit writes locals changed through the scope back into the live frame.
func (f *luaFrame) commit() error {
	if f.scope == nil {
		return nil
	}

	var errs []error
	f.scope.Locals.Each(func(name string, value any) bool {
		s, isSlot := f.slots[name]
		if !isSlot {
			// Names introduced by the command stay in the scope only.
			return true
		}
		lv, isLuaValue := value.(lua.LValue)
		if !isLuaValue {
			errs = append(errs, fmt.Errorf("value of '%s' is not a Lua value: %T", name, value))
			return true
		}
		if lv == s.original {
			return true
		}

		switch s.kind {
		case slotLocal:
			if f.L.SetLocal(f.dbg, s.index, lv) == "" {
				errs = append(errs, fmt.Errorf("local '%s' is no longer active", name))
			}
		case slotUpvalue:
			if f.fn == nil || f.L.SetUpvalue(f.fn, s.index, lv) == "" {
				errs = append(errs, fmt.Errorf("upvalue '%s' could not be updated", name))
			}
		}
		return true
	})
	return errors.Join(errs...)
}

// Internal locals such as "(for index)" and the host builtins are not visible to commands.
func isVisibleName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "(") && !strings.HasPrefix(name, "__breakeval_")
}
