// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
	"github.com/stateward/stateward/lib/state"
)

// IDResolver maps user and group names to numeric IDs. The passwd
// collaborator implements it; NumericResolver parses plain numbers
// for hosts without one.
type IDResolver interface {
	UserID(name string) (uint32, error)
	GroupID(name string) (uint32, error)
}

// NumericResolver resolves only numeric names.
type NumericResolver struct{}

func (NumericResolver) UserID(name string) (uint32, error)  { return parseID("user", name) }
func (NumericResolver) GroupID(name string) (uint32, error) { return parseID("group", name) }

func parseID(kind, name string) (uint32, error) {
	id, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("cannot resolve %s %q without a passwd database: %w", kind, name, err)
	}
	return uint32(id), nil
}

// Applicator performs the side effects of a plan. Implementations
// layer privilege separation, confirmation, or dry-run behaviour
// over the in-process one.
type Applicator interface {
	// ApplyPackages executes one backend's package batch.
	ApplyPackages(ctx context.Context, id backend.ID, install, markExplicit, uninstall []string) error

	// ApplyFiles executes file instructions in the given order.
	ApplyFiles(ctx context.Context, instructions []state.Instruction) error
}

// InProcess applies changes directly with no confirmation. The
// filesystem is mutated only from here, single-threaded, after the
// plan is frozen.
type InProcess struct {
	// Registry supplies package backends and the filesystem owner
	// used for restores.
	Registry *backend.Registry

	// Packages is the package map of the filesystem owner, for
	// original-file queries.
	Packages schema.PackageMap

	Interner *intern.Interner
	Resolver IDResolver

	// ConfigDir resolves FileCopyFromConfig sources.
	ConfigDir string
}

// ApplyPackages drives one backend: install, mark explicit, then
// mark the unwanted as dependencies and remove unused; backends
// without marking fall back to direct removal.
func (a *InProcess) ApplyPackages(ctx context.Context, id backend.ID, install, markExplicit, uninstall []string) error {
	packages, err := a.Registry.Packages(id)
	if err != nil {
		return err
	}
	if len(install) > 0 {
		slog.Info("installing packages", "backend", id.String(), "count", len(install))
		if err := packages.Transact(ctx, install, nil); err != nil {
			return fmt.Errorf("installing with %s: %w", id, err)
		}
	}
	if len(markExplicit) > 0 {
		slog.Info("marking packages explicit", "backend", id.String(), "count", len(markExplicit))
		if err := packages.Mark(ctx, nil, markExplicit); err != nil {
			return fmt.Errorf("marking explicit with %s: %w", id, err)
		}
	}
	if len(uninstall) > 0 {
		err := packages.Mark(ctx, uninstall, nil)
		switch {
		case err == nil:
			slog.Info("removing unused packages", "backend", id.String())
			if err := packages.RemoveUnused(ctx); err != nil {
				return fmt.Errorf("removing unused with %s: %w", id, err)
			}
		case errors.Is(err, backend.ErrUnsupportedOperation):
			slog.Info("backend cannot mark dependencies, uninstalling directly", "backend", id.String())
			if err := packages.Transact(ctx, nil, uninstall); err != nil {
				return fmt.Errorf("uninstalling with %s: %w", id, err)
			}
		default:
			return fmt.Errorf("marking unwanted as dependencies with %s: %w", id, err)
		}
	}
	return nil
}

// ApplyFiles executes file instructions in order. A failing item is
// retried once for transient filesystem conditions; a second failure
// aborts the batch.
func (a *InProcess) ApplyFiles(ctx context.Context, instructions []state.Instruction) error {
	for i := range instructions {
		instruction := &instructions[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Info("applying", "path", instruction.Path, "op", instruction.Op.String())
		err := a.applyOne(ctx, instruction)
		if err != nil && transient(err) {
			slog.Warn("retrying after transient error", "path", instruction.Path, "error", err)
			err = a.applyOne(ctx, instruction)
		}
		if err != nil {
			return fmt.Errorf("applying %s to %s: %w", instruction.Op, instruction.Path, err)
		}
	}
	return nil
}

// transient reports errors worth one retry: interrupted syscalls and
// racing directory creation.
func transient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, os.ErrExist)
}

func (a *InProcess) applyOne(ctx context.Context, instruction *state.Instruction) error {
	// Everything except removal and comments needs its parent to
	// exist.
	switch instruction.Op {
	case state.OpFileRemove, state.OpComment:
	default:
		if parent := filepath.Dir(instruction.Path); parent != "" {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}
		}
	}

	switch instruction.Op {
	case state.OpFileRemove:
		return removePath(instruction.Path)

	case state.OpMkdir:
		return os.MkdirAll(instruction.Path, 0o755)

	case state.OpFileWrite, state.OpFileCopyFromConfig:
		return a.writeFile(instruction)

	case state.OpSymlink:
		err := os.Symlink(instruction.Target, instruction.Path)
		if errors.Is(err, os.ErrExist) {
			if err := os.Remove(instruction.Path); err != nil {
				return fmt.Errorf("removing old file before symlink: %w", err)
			}
			err = os.Symlink(instruction.Target, instruction.Path)
		}
		return err

	case state.OpMkFifo:
		// Mode is set by a later permission instruction.
		return unix.Mkfifo(instruction.Path, 0)

	case state.OpMkDevice:
		deviceType := uint32(unix.S_IFCHR)
		if instruction.DeviceKind == schema.KindBlockDevice {
			deviceType = unix.S_IFBLK
		}
		device := unix.Mkdev(uint32(instruction.Major), uint32(instruction.Minor))
		return unix.Mknod(instruction.Path, deviceType, int(device))

	case state.OpChmod:
		return os.Chmod(instruction.Path, os.FileMode(instruction.Mode))

	case state.OpChown:
		uid, err := a.Resolver.UserID(instruction.Owner)
		if err != nil {
			return err
		}
		return unix.Lchown(instruction.Path, int(uid), -1)

	case state.OpChgrp:
		gid, err := a.Resolver.GroupID(instruction.Group)
		if err != nil {
			return err
		}
		return unix.Lchown(instruction.Path, -1, int(gid))

	case state.OpFileRestoreFromPkg:
		return a.restore(ctx, instruction.Path)

	case state.OpComment:
		return nil

	default:
		return fmt.Errorf("instruction %v is not a file operation", instruction.Op)
	}
}

// removePath deletes a file or an empty directory. A non-empty
// directory is an error the operator must resolve: it may hold
// ignored files this tool must not destroy.
func removePath(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, unix.ENOTEMPTY) {
				return fmt.Errorf("directory not empty (it may contain ignored files; resolve manually): %w", err)
			}
			return err
		}
		return nil
	}
	return os.Remove(path)
}

// writeFile writes literal content or copies from the config
// directory, with default permissions until a later instruction sets
// them.
func (a *InProcess) writeFile(instruction *state.Instruction) error {
	if instruction.Contents == nil {
		return fmt.Errorf("file write without contents")
	}
	if instruction.Contents.Data != nil {
		return os.WriteFile(instruction.Path, instruction.Contents.Data, 0o644)
	}

	source := instruction.Contents.SourcePath
	if !filepath.IsAbs(source) {
		source = filepath.Join(a.ConfigDir, source)
	}
	sourceFile, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening config source: %w", err)
	}
	defer sourceFile.Close()

	// os.WriteFile-style open so ownership and mode do not copy from
	// the config checkout.
	targetFile, err := os.OpenFile(instruction.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening target: %w", err)
	}
	if _, err := io.Copy(targetFile, sourceFile); err != nil {
		targetFile.Close()
		return fmt.Errorf("copying content: %w", err)
	}
	return targetFile.Close()
}

// restore writes a path's package-manager content back.
func (a *InProcess) restore(ctx context.Context, path string) error {
	files, err := a.Registry.FilesystemOwner()
	if err != nil {
		return err
	}
	owners, err := files.OwningPackages(ctx, []string{path}, a.Interner)
	if err != nil {
		return fmt.Errorf("finding owner: %w", err)
	}
	owner, owned := owners[path]
	if !owned || owner == 0 {
		return fmt.Errorf("no package owns %s", path)
	}
	content, err := files.OriginalFile(ctx, backend.OriginalFileQuery{
		Package: owner.String(a.Interner),
		Path:    path,
	}, a.Packages, a.Interner)
	if err != nil {
		return fmt.Errorf("fetching original content: %w", err)
	}
	return os.WriteFile(path, content, 0o644)
}

// DryRun logs what would change and mutates nothing. It
// short-circuits before any mutating syscall.
type DryRun struct{}

func (DryRun) ApplyPackages(_ context.Context, id backend.ID, install, markExplicit, uninstall []string) error {
	slog.Info("would apply package changes", "backend", id.String(),
		"install", len(install), "mark_explicit", len(markExplicit), "uninstall", len(uninstall))
	for _, pkg := range install {
		slog.Info(" + " + pkg)
	}
	for _, pkg := range markExplicit {
		slog.Info("   " + pkg + " (mark explicit)")
	}
	for _, pkg := range uninstall {
		slog.Info(" - " + pkg)
	}
	return nil
}

func (DryRun) ApplyFiles(_ context.Context, instructions []state.Instruction) error {
	slog.Info("would apply file changes", "count", len(instructions))
	for i := range instructions {
		slog.Info(" " + instructions[i].Path + ": " + instructions[i].Op.String())
	}
	return nil
}
