/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package luahost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Entry files that make a module directory runnable, in order of preference.
var moduleEntryFiles = []string{"__main__.lua", "main.lua"}

var ErrModuleNotRunnable = errors.New("module is not runnable")

// RunFile runs a Lua source file as the main program.
// The program sees its arguments in the global "arg" table (arg[0] is the program name)
// and as the varargs of the main chunk. Modules next to the program can be required.
func (h *Host) RunFile(path string, programName string, args []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("could not resolve path '%s': %w", path, err)
	}
	if programName == "" {
		programName = abs
	}

	h.prependPackagePath(filepath.Dir(abs))
	h.setProgramGlobals(abs, programName, args)

	fn, err := h.LoadFile(abs)
	if err != nil {
		return err
	}

	luaArgs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		luaArgs = append(luaArgs, lua.LString(a))
	}
	_, err = h.Call(fn, 0, luaArgs...)
	return err
}

// RunModule resolves a dotted module name against the search roots and runs it as the main program.
func (h *Host) RunModule(module string, roots []string, args []string) (string, error) {
	file, root, err := ResolveModule(module, roots)
	if err != nil {
		return "", err
	}
	h.prependPackagePath(root)
	return file, h.RunFile(file, module, args)
}

// ResolveModule maps a dotted module name ("app.cli") to the source file that runs it.
// A module that names a directory runs its entry file (__main__.lua, then main.lua).
// Returns the file and the search root it was found under.
func ResolveModule(module string, roots []string) (string, string, error) {
	if module == "" || strings.HasPrefix(module, ".") || strings.HasSuffix(module, ".") {
		return "", "", fmt.Errorf("%w: invalid module name '%s'", ErrModuleNotFound, module)
	}
	rel := filepath.Join(strings.Split(module, ".")...)

	for _, root := range roots {
		candidate := filepath.Join(root, rel)

		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			for _, entry := range moduleEntryFiles {
				entryPath := filepath.Join(candidate, entry)
				if fileExists(entryPath) {
					return entryPath, root, nil
				}
			}
			return "", "", fmt.Errorf("%w: %s (no %s)", ErrModuleNotRunnable, module, strings.Join(moduleEntryFiles, " or "))
		}

		if fileExists(candidate + ".lua") {
			return candidate + ".lua", root, nil
		}
	}

	return "", "", fmt.Errorf("%w: %s", ErrModuleNotFound, module)
}

func (h *Host) prependPackagePath(dir string) {
	pkg, isTable := h.L.GetGlobal("package").(*lua.LTable)
	if !isTable {
		return
	}
	current := lua.LVAsString(pkg.RawGetString("path"))
	entries := []string{
		filepath.Join(dir, "?.lua"),
		filepath.Join(dir, "?", "init.lua"),
	}
	if strings.HasPrefix(current, entries[0]+";") {
		return
	}
	pkg.RawSetString("path", lua.LString(strings.Join(append(entries, current), ";")))
}

func (h *Host) setProgramGlobals(file string, programName string, args []string) {
	L := h.L
	argTable := L.NewTable()
	argTable.RawSetInt(0, lua.LString(programName))
	for i, a := range args {
		argTable.RawSetInt(i+1, lua.LString(a))
	}
	L.SetGlobal("arg", argTable)
	L.SetGlobal("__FILE__", lua.LString(file))
	L.SetGlobal("__NAME__", lua.LString("__main__"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
