/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package luahost runs Lua programs in-process and connects them to the breakpoint tracer.

Source files are parsed and their syntax tree is instrumented before compilation: every
statement is preceded by a call to a line hook, and function bodies report when they start
and return. The hooks read the calling frame through the interpreter's debug interface and
hand it to the attached trace.Tracer. Files the tracer is not interested in are compiled
without instrumentation.

The Evaluator runs breakpoint commands against a frame's scope. A command is tried as an
expression first and as a statement second; whatever it prints is captured separately from
the program's own output.

A program is stopped (by the breakpoint or by os.exit) by cancelling the context of the
interpreter with a cause; the cause is reported by Host.Stopped.
*/
package luahost
