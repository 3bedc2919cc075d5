// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/stateward/stateward/lib/archlinux"
	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/config"
	"github.com/stateward/stateward/lib/debian"
	"github.com/stateward/stateward/lib/filecache"
	"github.com/stateward/stateward/lib/hostapi"
	"github.com/stateward/stateward/lib/integrity"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/scanner"
	"github.com/stateward/stateward/lib/schema"
	"github.com/stateward/stateward/lib/state"
	"github.com/stateward/stateward/lib/work"
)

// session holds everything one run needs. The interner and the disk
// cache are constructed first, backends after, mirroring their
// lifetime requirements.
type session struct {
	config   *config.Config
	interner *intern.Interner
	pool     *work.Pool

	settings *hostapi.Settings
	commands *hostapi.Commands

	registry    *backend.Registry
	packageMaps map[backend.ID]schema.PackageMap
	managers    *hostapi.PackageManagers

	// expected is the merged package-manager view of the filesystem.
	expected map[string]schema.FileEntry
}

// newSession loads configuration, replays the config scripts, and
// constructs the enabled backends behind their disk caches.
func newSession(ctx context.Context, configPath string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &usageError{message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{message: err.Error()}
	}

	s := &session{
		config:   cfg,
		interner: intern.New(),
		pool:     work.NewPool(0),
		settings: hostapi.NewSettings(),
		commands: hostapi.NewCommands(cfg.Paths.ConfigDir),
	}

	if err := s.loadScripts(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.buildBackends(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the worker pool.
func (s *session) Close() {
	s.pool.Close()
}

// loadScripts replays the main module and the unsorted staging file.
func (s *session) loadScripts() error {
	for _, name := range []string{"main", "unsorted"} {
		path := filepath.Join(s.config.Paths.ConfigDir, name)
		file, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("opening config module %s: %w", path, err)
		}
		err = hostapi.LoadScript(file, s.commands, s.settings)
		file.Close()
		if err != nil {
			return &usageError{message: fmt.Sprintf("config module %s: %v", name, err)}
		}
	}
	return nil
}

// buildBackends constructs the enabled backends, wrapping each Files
// view in the disk cache. Backends are auto-detected when the config
// scripts enabled none.
func (s *session) buildBackends(ctx context.Context) error {
	s.registry = backend.NewRegistry()
	s.packageMaps = make(map[backend.ID]schema.PackageMap)

	pacmanPresent := s.settings.PkgBackendEnabled(backend.Pacman)
	aptPresent := s.settings.PkgBackendEnabled(backend.Apt)
	if !pacmanPresent && !aptPresent {
		if _, err := os.Stat("/var/lib/pacman/local"); err == nil {
			pacmanPresent = true
		}
		if _, err := os.Stat("/var/lib/dpkg/status"); err == nil {
			aptPresent = true
		}
	}
	if !pacmanPresent && !aptPresent {
		return &usageError{message: "no package backend enabled and none detected on this host"}
	}

	if pacmanPresent {
		pacmanConfPath := s.config.Backends.PacmanConf
		if pacmanConfPath == "" {
			pacmanConfPath = "/etc/pacman.conf"
		}
		pacmanConf, err := archlinux.LoadConfig(pacmanConfPath)
		if err != nil {
			return err
		}
		if err := s.register(ctx, archlinux.New(pacmanConf)); err != nil {
			return err
		}
	}
	if aptPresent {
		paths := debian.DefaultPaths()
		if s.config.Backends.DpkgDir != "" {
			paths.DpkgDir = s.config.Backends.DpkgDir
		}
		if s.config.Backends.AptArchives != "" {
			paths.ArchiveDirs = []string{s.config.Backends.AptArchives}
		}
		primaryArch, err := debian.DetectPrimaryArch(ctx)
		if err != nil {
			return fmt.Errorf("detecting dpkg architecture: %w", err)
		}
		if err := s.register(ctx, debian.New(paths, primaryArch)); err != nil {
			return err
		}
	}

	// The filesystem owner defaults to the single enabled backend.
	if id, set := s.settings.FileBackend(); set {
		if err := s.registry.SetFilesystemOwner(id); err != nil {
			return &usageError{message: err.Error()}
		}
	} else if pacmanPresent != aptPresent {
		owner := backend.Pacman
		if aptPresent {
			owner = backend.Apt
		}
		if err := s.registry.SetFilesystemOwner(owner); err != nil {
			return err
		}
	} else {
		return &usageError{message: "both backends present: set_file_backend is required"}
	}

	s.managers = hostapi.NewPackageManagers(s.registry, s.interner, s.packageMaps)
	return nil
}

// register wires one backend behind its disk cache and loads its
// package map.
func (s *session) register(ctx context.Context, fsOwner backend.FilesystemOwner) error {
	cache, err := filecache.New(
		filepath.Join(s.config.Paths.CacheDir, fsOwner.Name()),
		s.config.Cache.MaxBytes,
	)
	if err != nil {
		return fmt.Errorf("opening disk cache for %s: %w", fsOwner.Name(), err)
	}
	cached := filecache.Wrap(fsOwner, cache)
	s.registry.AddFiles(cached)
	s.registry.AddPackages(fsOwner)

	packages, err := fsOwner.Packages(ctx, s.interner)
	if err != nil {
		return fmt.Errorf("loading %s package database: %w", fsOwner.Name(), err)
	}
	s.packageMaps[fsOwner.ID()] = schema.BuildPackageMap(packages)
	slog.Debug("loaded package database", "backend", fsOwner.Name(), "packages", len(packages))
	return nil
}

// loadExpected merges the filesystem owner's file entries.
func (s *session) loadExpected(ctx context.Context) error {
	files, err := s.registry.FilesystemOwner()
	if err != nil {
		return err
	}
	entries, err := files.Files(ctx, s.interner)
	if err != nil {
		return fmt.Errorf("listing %s files: %w", files.Name(), err)
	}
	s.expected, err = state.BuildExpected(entries, s.interner)
	return err
}

// ignoreSet combines built-in, config-file, and script ignores.
func (s *session) ignoreSet(desired *state.State) (*scanner.IgnoreSet, error) {
	globs := scanner.DefaultIgnores()
	globs = append(globs, s.config.Scan.ExtraIgnores...)
	if desired != nil {
		globs = append(globs, desired.Ignores()...)
	}
	// The cache and config directories would otherwise show up as
	// unexpected files.
	globs = append(globs, s.config.Paths.CacheDir+"/**", s.config.Paths.ConfigDir+"/**")
	set, err := scanner.NewIgnoreSet(globs...)
	if err != nil {
		return nil, &usageError{message: err.Error()}
	}
	return set, nil
}

// scanAndCompare walks the filesystem and diffs it against the
// expected entries.
func (s *session) scanAndCompare(ctx context.Context, ignores *scanner.IgnoreSet) ([]schema.Issue, error) {
	entries, scanResult := scanner.Scan(ctx, scanner.Options{
		Root:    "/",
		Ignores: ignores,
		Workers: s.config.Scan.Workers,
	})
	issues, err := integrity.Compare(ctx, s.expected, entries, integrity.Options{
		TrustMtime: s.config.Scan.TrustMtime,
		Ignores:    ignores,
		Pool:       s.pool,
	})
	if err != nil {
		return nil, err
	}
	for _, scanErr := range scanResult.Errors {
		slog.Warn("scan error", "error", scanErr)
	}
	return issues, nil
}

// ownerPackageMap returns the package map of the filesystem owner.
func (s *session) ownerPackageMap() schema.PackageMap {
	if id, set := s.registry.FilesystemOwnerID(); set {
		return s.packageMaps[id]
	}
	return nil
}

// installedPackages projects a backend's database into the package
// diff's input shape.
func (s *session) installedPackages(ctx context.Context, id backend.ID) ([]state.InstalledPackage, error) {
	packages, err := s.registry.Packages(id)
	if err != nil {
		return nil, err
	}
	all, err := packages.Packages(ctx, s.interner)
	if err != nil {
		return nil, err
	}
	result := make([]state.InstalledPackage, 0, len(all))
	for _, pkg := range all {
		if pkg.Status != schema.StatusInstalled {
			continue
		}
		result = append(result, state.InstalledPackage{
			Name:   pkg.Name.String(s.interner),
			Reason: pkg.Reason,
		})
	}
	return result, nil
}

// lookupUser and lookupGroup resolve symbolic names through the
// host's user database.
func lookupUser(name string) (uint32, error) {
	record, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("resolving user %q: %w", name, err)
	}
	id, err := strconv.ParseUint(record.Uid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("non-numeric uid for %q: %w", name, err)
	}
	return uint32(id), nil
}

func lookupGroup(name string) (uint32, error) {
	record, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("resolving group %q: %w", name, err)
	}
	id, err := strconv.ParseUint(record.Gid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("non-numeric gid for %q: %w", name, err)
	}
	return uint32(id), nil
}

// nameLookup resolves IDs through the host's user database.
func nameLookup() integrity.NameLookup {
	return integrity.NameLookup{
		User: func(id uint32) (string, bool) {
			record, err := user.LookupId(strconv.FormatUint(uint64(id), 10))
			if err != nil {
				return "", false
			}
			return record.Username, true
		},
		Group: func(id uint32) (string, bool) {
			record, err := user.LookupGroupId(strconv.FormatUint(uint64(id), 10))
			if err != nil {
				return "", false
			}
			return record.Name, true
		},
	}
}

// desiredState folds the loaded instruction stream.
func (s *session) desiredState() (*state.State, error) {
	return state.Fold(s.commands.Instructions(), state.FoldOptions{
		Owned: func(path string) bool {
			_, owned := s.expected[path]
			return owned
		},
	})
}

// observedState folds the comparator's issues into the observed
// drift state.
func (s *session) observedState(issues []schema.Issue) (*state.State, error) {
	instructions, err := integrity.ObservedInstructions(issues, nameLookup())
	if err != nil {
		return nil, err
	}
	return state.Fold(instructions, state.FoldOptions{
		Owned: func(path string) bool {
			_, owned := s.expected[path]
			return owned
		},
	})
}
