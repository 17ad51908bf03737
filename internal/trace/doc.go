/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package trace implements the breakpoint interceptor used for in-process debugging.

A Tracer is armed with a single breakpoint target (canonical file path and line) and a
command. The interpreter host reports call, return and line events to the tracer. When a
line event matches the target for the first time, the tracer runs the command against the
scope of the reporting frame through an Evaluator, records the captured output and disarms
itself. Every later event is ignored.

# Verdicts

OnLine returns one of three verdicts:

  - NotMatched: execution continues untouched.
  - MatchedContinue: the breakpoint fired and the program should run to completion
    (standalone programs).
  - MatchedStop: the breakpoint fired and the host should stop the program. The
    Termination value of the session state tells the controller how: by unwinding the
    current test with a signal, or by exiting the process right away.

Failures inside the tracing machinery itself are reported on the diagnostic writer and turn
tracing off; they never surface as errors of the traced program.
*/
package trace
