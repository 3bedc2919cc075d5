// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/stateward/stateward/lib/apply"
	"github.com/stateward/stateward/lib/state"
)

// newApplyCommand converges the machine on the configured state.
func newApplyCommand(ctx context.Context) *command {
	var configPath string
	var dryRun bool
	var assumeYes bool

	return &command{
		name:    "apply",
		summary: "Apply the configuration: install packages, fix files, restore drift.",
		flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("apply", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "configuration file path")
			flags.BoolVarP(&dryRun, "dry-run", "n", false, "print the plan without changing anything")
			flags.BoolVarP(&assumeYes, "yes", "y", false, "apply without interactive confirmation")
			return flags
		},
		run: func(args []string) error {
			if len(args) != 0 {
				return &usageError{message: "apply takes no positional arguments"}
			}
			session, err := newSession(ctx, configPath)
			if err != nil {
				return err
			}
			defer session.Close()

			plan, err := buildApplyPlan(ctx, session)
			if err != nil {
				return err
			}

			var applicator apply.Applicator
			inProcess := &apply.InProcess{
				Registry:  session.registry,
				Packages:  session.ownerPackageMap(),
				Interner:  session.interner,
				Resolver:  hostResolver{},
				ConfigDir: session.config.Paths.ConfigDir,
			}
			switch {
			case dryRun:
				applicator = apply.DryRun{}
			case assumeYes:
				applicator = inProcess
			default:
				applicator = &apply.Interactive{
					Inner:        inProcess,
					DiffCommand:  session.settings.DiffCommand(),
					PagerCommand: session.settings.PagerCommand(),
				}
			}
			return apply.Run(ctx, plan, applicator)
		},
	}
}

// buildApplyPlan runs the full reconciliation pipeline: desired
// state from the config scripts, observed state from the scan, diff,
// then phase partitioning.
func buildApplyPlan(ctx context.Context, session *session) (*apply.Plan, error) {
	if err := session.loadExpected(ctx); err != nil {
		return nil, err
	}
	desired, err := session.desiredState()
	if err != nil {
		return nil, err
	}

	ignores, err := session.ignoreSet(desired)
	if err != nil {
		return nil, err
	}
	issues, err := session.scanAndCompare(ctx, ignores)
	if err != nil {
		return nil, err
	}
	observed, err := session.observedState(issues)
	if err != nil {
		return nil, err
	}

	instructions, err := state.Diff(observed, desired, state.DiffOptions{
		Goal:     state.GoalApply,
		Expected: session.expected,
	})
	if err != nil {
		return nil, err
	}

	for _, packages := range session.registry.EnabledPackages() {
		id := packages.ID()
		installed, err := session.installedPackages(ctx, id)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions,
			state.DiffPackages(desired.Packages(id), installed, state.GoalApply, id)...)
	}

	earlyGlobs := append(session.settings.EarlyGlobs(), desired.EarlyGlobs()...)
	return apply.BuildPlan(instructions, earlyGlobs), nil
}

// hostResolver resolves user and group names through the host
// databases, with numeric fallback.
type hostResolver struct{}

func (hostResolver) UserID(name string) (uint32, error) {
	if id, err := (apply.NumericResolver{}).UserID(name); err == nil {
		return id, nil
	}
	return lookupUser(name)
}

func (hostResolver) GroupID(name string) (uint32, error) {
	if id, err := (apply.NumericResolver{}).GroupID(name); err == nil {
		return id, nil
	}
	return lookupGroup(name)
}
