// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"
)

// newCheckCommand reports drift between the package databases and
// the live filesystem without consulting the configuration's desired
// state.
func newCheckCommand(ctx context.Context) *command {
	var configPath string
	var trustMtime bool

	return &command{
		name:    "check",
		summary: "Report files that differ from what their packages installed.",
		flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "configuration file path")
			flags.BoolVar(&trustMtime, "trust-mtime", false, "assume files with matching mtime are unmodified")
			return flags
		},
		run: func(args []string) error {
			if len(args) != 0 {
				return &usageError{message: "check takes no positional arguments"}
			}
			session, err := newSession(ctx, configPath)
			if err != nil {
				return err
			}
			defer session.Close()
			if trustMtime {
				session.config.Scan.TrustMtime = true
			}

			if err := session.loadExpected(ctx); err != nil {
				return err
			}
			ignores, err := session.ignoreSet(nil)
			if err != nil {
				return err
			}
			issues, err := session.scanAndCompare(ctx, ignores)
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				return nil
			}

			sort.Slice(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
			for _, issue := range issues {
				owner := ""
				if issue.Package != 0 {
					owner = " (" + issue.Package.String(session.interner) + ")"
				}
				fmt.Fprintf(os.Stdout, "%s: %s%s\n", issue.Path, issue.Kinds.String(), owner)
			}
			return issuesFound
		},
	}
}
