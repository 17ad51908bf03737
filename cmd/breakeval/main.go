/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/microsoft/breakeval/internal/commands"
	"github.com/microsoft/breakeval/pkg/logger"
)

const (
	errCommand = 1
	errSetup   = 2
)

func main() {
	log := logger.New("breakeval")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root, err := commands.NewRootCommand(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		log.Flush()
		os.Exit(errSetup)
	}

	err = root.ExecuteContext(ctx)
	stop()
	log.Flush()

	var exitCodeErr *commands.ExitCodeError
	switch {
	case err == nil:
	case errors.As(err, &exitCodeErr):
		os.Exit(exitCodeErr.Code)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errCommand)
	}
}
