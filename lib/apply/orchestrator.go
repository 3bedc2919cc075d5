// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package apply

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stateward/stateward/lib/state"
)

// Run executes a plan phase by phase. Phases are totally ordered and
// each drains before the next starts. A failing phase aborts the
// run; earlier phases stay applied (reconciliation is idempotent, a
// re-run continues where this one stopped).
func Run(ctx context.Context, plan *Plan, applicator Applicator) error {
	if plan.Empty() {
		slog.Info("nothing to do, system matches configuration")
		return nil
	}

	phases := []struct {
		name string
		run  func() error
	}{
		{"early restore", func() error {
			return applyFilePhase(ctx, applicator, plan.EarlyRestores)
		}},
		{"package transactions", func() error {
			for _, batch := range plan.packageBatches() {
				if err := applicator.ApplyPackages(ctx, batch.backend, batch.install, batch.markExplicit, batch.uninstall); err != nil {
					return err
				}
			}
			return nil
		}},
		{"file removals", func() error {
			return applyFilePhase(ctx, applicator, plan.Removals)
		}},
		{"restores", func() error {
			return applyFilePhase(ctx, applicator, plan.Restores)
		}},
		{"directory creation", func() error {
			return applyFilePhase(ctx, applicator, plan.DirCreations)
		}},
		{"file writes", func() error {
			return applyFilePhase(ctx, applicator, plan.Writes)
		}},
		{"permission fixes", func() error {
			return applyFilePhase(ctx, applicator, plan.Permissions)
		}},
	}

	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := phase.run(); err != nil {
			return fmt.Errorf("%s phase: %w", phase.name, err)
		}
	}
	return nil
}

func applyFilePhase(ctx context.Context, applicator Applicator, instructions []state.Instruction) error {
	if len(instructions) == 0 {
		return nil
	}
	return applicator.ApplyFiles(ctx, instructions)
}
