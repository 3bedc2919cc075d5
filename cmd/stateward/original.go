// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/spf13/pflag"
)

// newOriginalCommand prints the as-shipped bytes of one file from
// its package archive, through the disk cache.
func newOriginalCommand(ctx context.Context) *command {
	var configPath string

	return &command{
		name:    "original",
		summary: "Print a file's original content from its package.",
		usage:   "stateward original <package> <path>",
		flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("original", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "configuration file path")
			return flags
		},
		run: func(args []string) error {
			if len(args) != 2 {
				return &usageError{message: "original takes exactly <package> <path>"}
			}
			session, err := newSession(ctx, configPath)
			if err != nil {
				return err
			}
			defer session.Close()

			content, err := session.managers.OriginalFileContents(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}
}
