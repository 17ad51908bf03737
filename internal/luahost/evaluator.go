/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package luahost

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/microsoft/breakeval/internal/trace"
)

const commandChunkName = "<command>"

// Evaluator runs breakpoint commands inside the host interpreter.
//
// A command is first tried as an expression; if it does not compile or raises an error,
// it is run as a statement. Output printed by the command is captured and never reaches
// the program's own output.
type Evaluator struct {
	host *Host
}

var _ trace.Evaluator = (*Evaluator)(nil)

func NewEvaluator(h *Host) *Evaluator {
	return &Evaluator{host: h}
}

func (e *Evaluator) Evaluate(command string, scope *trace.Scope) trace.Outcome {
	var buf bytes.Buffer
	restore := e.host.redirectOutput(&buf)
	defer restore()

	env, declared := e.newEnvironment(scope)

	values, exprErr := e.run("return "+command, env)
	if exprErr == nil {
		outcome := trace.Outcome{}
		if formatted, hasValue := e.format(values); hasValue {
			fmt.Fprintln(&buf, formatted)
			outcome.Value = formatted
			outcome.HasValue = true
		}
		e.syncScope(env, declared, scope)
		outcome.Output = buf.String()
		return outcome
	}

	// Output from a failed expression attempt is dropped before the statement attempt.
	buf.Reset()
	if _, err := e.run(command, env); err != nil {
		// An expression that compiled but failed at run time is the better report
		// when the command is not a valid statement either.
		var syntaxErr *SyntaxError
		var runtimeErr *ScriptError
		if errors.As(err, &syntaxErr) && errors.As(exprErr, &runtimeErr) {
			err = runtimeErr
		}
		fmt.Fprintf(&buf, "ERROR: %s\n", err.Error())
		e.syncScope(env, declared, scope)
		return trace.Outcome{Output: buf.String(), Err: err}
	}

	e.syncScope(env, declared, scope)
	return trace.Outcome{Output: buf.String()}
}

func (e *Evaluator) run(source string, env *lua.LTable) ([]lua.LValue, error) {
	fn, err := e.host.LoadSource([]byte(source), commandChunkName, false)
	if err != nil {
		return nil, err
	}
	e.host.L.SetFEnv(fn, env)
	return e.host.Call(fn, lua.MultRet)
}

// newEnvironment builds the table commands run in: scope locals are bound directly, every
// other name resolves to the live global table. Assigning to an existing global updates it;
// assigning to a new name binds it in the environment only.
// Locals holding nil are absent from the table, so the metatable keeps them from
// resolving to a global of the same name.
func (e *Evaluator) newEnvironment(scope *trace.Scope) (*lua.LTable, map[string]bool) {
	L := e.host.L
	env := L.NewTable()
	declared := map[string]bool{}
	scope.Locals.Each(func(name string, value any) bool {
		if lv, isLuaValue := value.(lua.LValue); isLuaValue {
			env.RawSetString(name, lv)
			declared[name] = true
		}
		return true
	})

	isDeclared := func(key lua.LValue) bool {
		name, isString := key.(lua.LString)
		return isString && declared[string(name)]
	}

	globals := L.G.Global
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		if isDeclared(key) {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(L.GetTable(globals, key))
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		key := L.Get(2)
		value := L.Get(3)
		if !isDeclared(key) && globals.RawGet(key) != lua.LNil {
			globals.RawSet(key, value)
		} else {
			t.RawSet(key, value)
		}
		return 0
	}))
	L.SetMetatable(env, mt)
	return env, declared
}

// syncScope copies bindings made by the command back into the scope.
// Declared locals are copied even when the command set them to nil.
func (e *Evaluator) syncScope(env *lua.LTable, declared map[string]bool, scope *trace.Scope) {
	for name := range declared {
		scope.Locals.Set(name, env.RawGetString(name))
	}
	env.ForEach(func(k, v lua.LValue) {
		name, isString := k.(lua.LString)
		if !isString || declared[string(name)] {
			return
		}
		scope.Locals.Set(string(name), v)
	})
	e.host.L.G.Global.ForEach(func(k, v lua.LValue) {
		if name, isString := k.(lua.LString); isString && scope.Globals.Has(string(name)) {
			scope.Globals.Set(string(name), v)
		}
	})
}

// format renders expression results the way print() would. A lone nil result is not shown.
func (e *Evaluator) format(values []lua.LValue) (string, bool) {
	if len(values) == 0 || (len(values) == 1 && values[0] == lua.LNil) {
		return "", false
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, e.host.L.ToStringMeta(v).String())
	}
	return strings.Join(parts, "\t"), true
}
