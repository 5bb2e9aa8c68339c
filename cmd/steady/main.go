// File: cmd/steady/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/steady/cmd"
	"github.com/xkilldash9x/steady/internal/engine"
)

// Exit codes. Scripts tell a failed scenario apart from a broken setup.
const (
	exitOK          = 0
	exitError       = 1
	exitStepFailed  = 2
	exitInterrupted = 130
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	osExit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, engine.ErrNoCandidate),
		errors.Is(err, engine.ErrContextNotFound),
		errors.Is(err, engine.ErrStabilityTimeout),
		errors.Is(err, engine.ErrUnhandledDialog),
		errors.Is(err, engine.ErrAuthenticationRejected):
		return exitStepFailed
	}
	return exitError
}
