// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// The stateward command reconciles a declarative host configuration
// against the live system: check reports drift, apply converges the
// machine, save writes the instructions that would reproduce the
// current state into the staging file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/stateward/stateward/lib/apply"
	"github.com/stateward/stateward/lib/state"
	"github.com/stateward/stateward/lib/version"
)

// Exit codes: 0 success, 1 reconciliation succeeded with
// user-visible issues, 2 invalid configuration, 3 backend failure,
// 130 cancelled.
const (
	exitOK            = 0
	exitIssues        = 1
	exitInvalidConfig = 2
	exitBackend       = 3
	exitCancelled     = 130
)

// issuesFound marks a run that completed but observed drift.
var issuesFound = errors.New("issues found")

func main() {
	os.Exit(run())
}

func run() int {
	for _, argument := range os.Args[1:] {
		if argument == "--version" {
			fmt.Printf("stateward %s\n", version.Info())
			return exitOK
		}
	}

	initLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &command{
		name:    "stateward",
		summary: "Personal configuration manager for Arch and Debian family hosts.",
		subcommands: []*command{
			newCheckCommand(ctx),
			newApplyCommand(ctx),
			newSaveCommand(ctx),
			newOriginalCommand(ctx),
		},
	}

	err := root.execute(os.Args[1:])
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, issuesFound):
		return exitIssues
	case errors.Is(err, context.Canceled), errors.Is(err, apply.ErrAborted):
		fmt.Fprintln(os.Stderr, "cancelled")
		return exitCancelled
	case isConfigError(err):
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitInvalidConfig
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitBackend
	}
}

// isConfigError classifies failures the operator fixes by editing
// configuration rather than investigating the system.
func isConfigError(err error) bool {
	var unowned *state.UnownedRestoreError
	var conflict *state.ConflictError
	var usage *usageError
	return errors.As(err, &unowned) || errors.As(err, &conflict) || errors.As(err, &usage)
}

// usageError marks bad command-line or config-file input.
type usageError struct{ message string }

func (e *usageError) Error() string { return e.message }

// initLogging configures slog: text on a terminal, JSON otherwise,
// level from STATEWARD_LOG.
func initLogging() {
	level := slog.LevelInfo
	switch os.Getenv("STATEWARD_LOG") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	slog.SetDefault(slog.New(handler))
}
