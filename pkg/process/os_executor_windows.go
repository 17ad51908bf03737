//go:build windows

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"errors"
	"os"
)

// Console processes cannot be signalled on Windows without sharing their console, so they are killed right away.
func terminate(proc *os.Process) error {
	return errors.New("graceful termination is not supported")
}
