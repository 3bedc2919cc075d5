// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/stateward/stateward/lib/state"
)

// newSaveCommand writes the instructions that would reproduce the
// current machine, minus what the configuration already declares,
// into the unsorted staging file for the operator to curate.
func newSaveCommand(ctx context.Context) *command {
	var configPath string

	return &command{
		name:    "save",
		summary: "Write unmanaged system state into the unsorted staging file.",
		flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("save", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "configuration file path")
			return flags
		},
		run: func(args []string) error {
			if len(args) != 0 {
				return &usageError{message: "save takes no positional arguments"}
			}
			session, err := newSession(ctx, configPath)
			if err != nil {
				return err
			}
			defer session.Close()
			return runSave(ctx, session)
		},
	}
}

func runSave(ctx context.Context, session *session) error {
	if err := session.loadExpected(ctx); err != nil {
		return err
	}
	desired, err := session.desiredState()
	if err != nil {
		return err
	}
	ignores, err := session.ignoreSet(desired)
	if err != nil {
		return err
	}
	issues, err := session.scanAndCompare(ctx, ignores)
	if err != nil {
		return err
	}
	observed, err := session.observedState(issues)
	if err != nil {
		return err
	}

	// Save direction: from the configured state towards the machine.
	instructions, err := state.Diff(desired, observed, state.DiffOptions{
		Goal:     state.GoalSave,
		Expected: session.expected,
	})
	if err != nil {
		return err
	}
	for _, packages := range session.registry.EnabledPackages() {
		id := packages.ID()
		installed, err := session.installedPackages(ctx, id)
		if err != nil {
			return err
		}
		instructions = append(instructions,
			state.DiffPackages(desired.Packages(id), installed, state.GoalSave, id)...)
	}

	sort.SliceStable(instructions, func(i, j int) bool {
		if instructions[i].Path != instructions[j].Path {
			return instructions[i].Path < instructions[j].Path
		}
		return instructions[i].Op < instructions[j].Op
	})

	sensitiveGlobs := append(session.settings.SensitiveGlobs(), desired.SensitiveGlobs()...)
	stagingPath := filepath.Join(session.config.Paths.ConfigDir, "unsorted")
	staging, err := os.Create(stagingPath)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	defer staging.Close()

	err = state.Save(staging, instructions, state.SaveOptions{
		Prefix:         session.settings.SavePrefix(),
		SensitiveGlobs: sensitiveGlobs,
		Interner:       session.interner,
		FileDataSaver:  session.saveFileData,
	})
	if err != nil {
		return err
	}
	return staging.Close()
}

// saveFileData stores drifted file content under files/ in the
// config directory.
func (s *session) saveFileData(path string, contents *state.FileContents) error {
	if contents == nil || contents.Data == nil {
		// Copy-from-config content already lives in the config tree.
		return nil
	}
	target := filepath.Join(s.config.Paths.ConfigDir, "files", strings.TrimPrefix(path, "/"))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating files tree: %w", err)
	}
	return os.WriteFile(target, contents.Data, 0o644)
}
