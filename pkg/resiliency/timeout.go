/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"time"
)

// Runs a function and returns when the function returns or when the specified timeout is reached.
// Returns true if the function returned before the timeout, and false if the timeout was reached.
// The function keeps running in the background if the timeout is reached.
func RunWithTimeout(op func(), timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		op()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
