/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package luahost

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/microsoft/breakeval/internal/trace"
)

// Exit codes reported by the test runner.
const (
	TestsPassed   = 0
	TestsFailed   = 1
	TestsErrored  = 2
	TestsNotFound = 5
)

type TestResult struct {
	Name   string
	Passed bool
	Err    error
}

type TestReport struct {
	Results []TestResult

	// Set when the run was stopped before all tests completed (breakpoint, exit, cancellation).
	Stopped error
}

func (r TestReport) Failed() int {
	failed := 0
	for _, res := range r.Results {
		if !res.Passed {
			failed++
		}
	}
	return failed
}

func (r TestReport) ExitCode() int {
	switch {
	case len(r.Results) == 0:
		return TestsNotFound
	case r.Failed() > 0:
		return TestsFailed
	default:
		return TestsPassed
	}
}

type testCase struct {
	name string
	line int
	fn   *lua.LFunction
}

// RunTests loads a Lua test file and runs the test functions it defines.
// Test functions are global functions, or functions in a table returned by the file,
// whose names start with "test_" or "Test". They run in the order they are defined.
// A progress transcript is written to out.
func (h *Host) RunTests(path string, filter *regexp.Regexp, out io.Writer) (TestReport, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return TestReport{}, fmt.Errorf("could not resolve path '%s': %w", path, err)
	}

	h.prependPackagePath(filepath.Dir(abs))
	h.setProgramGlobals(abs, abs, nil)

	chunk, err := h.LoadFile(abs)
	if err != nil {
		return TestReport{}, err
	}

	returned, err := h.Call(chunk, 1)
	if err != nil {
		if stopped := h.Stopped(); stopped != nil {
			return TestReport{Stopped: stopped}, nil
		}
		return TestReport{}, fmt.Errorf("could not load tests from '%s': %w", abs, err)
	}

	tests := h.discoverTests(abs, returned)
	if filter != nil {
		selected := tests[:0]
		for _, tc := range tests {
			if filter.MatchString(tc.name) {
				selected = append(selected, tc)
			}
		}
		tests = selected
	}

	fmt.Fprintf(out, "collected %d items\n", len(tests))

	report := TestReport{}
	for _, tc := range tests {
		if stopped := h.Stopped(); stopped != nil {
			report.Stopped = stopped
			break
		}

		_, callErr := h.Call(tc.fn, 0)
		if stopped := h.Stopped(); stopped != nil {
			report.Stopped = stopped
			break
		}

		result := TestResult{Name: tc.name, Passed: callErr == nil, Err: callErr}
		report.Results = append(report.Results, result)
		if result.Passed {
			fmt.Fprintf(out, "%s::%s PASSED\n", filepath.Base(abs), tc.name)
		} else {
			fmt.Fprintf(out, "%s::%s FAILED\n", filepath.Base(abs), tc.name)
			fmt.Fprintf(out, "    %v\n", callErr)
		}
	}

	if report.Stopped == nil {
		fmt.Fprintf(out, "%d passed, %d failed\n", len(report.Results)-report.Failed(), report.Failed())
	}
	return report, nil
}

func (h *Host) discoverTests(file string, returned []lua.LValue) []testCase {
	seen := map[*lua.LFunction]bool{}
	var tests []testCase

	collect := func(tbl *lua.LTable) {
		tbl.ForEach(func(k, v lua.LValue) {
			name, isString := k.(lua.LString)
			fn, isFn := v.(*lua.LFunction)
			if !isString || !isFn || fn.IsG || seen[fn] {
				return
			}
			if !trace.IsTestShaped(string(name)) || fn.Proto.SourceName != file {
				return
			}
			seen[fn] = true
			tests = append(tests, testCase{name: string(name), line: fn.Proto.LineDefined, fn: fn})
		})
	}

	if len(returned) > 0 {
		if tbl, isTable := returned[0].(*lua.LTable); isTable {
			collect(tbl)
		}
	}
	collect(h.L.G.Global)

	sort.SliceStable(tests, func(i, j int) bool {
		if tests[i].line != tests[j].line {
			return tests[i].line < tests[j].line
		}
		return tests[i].name < tests[j].name
	})
	return tests
}
