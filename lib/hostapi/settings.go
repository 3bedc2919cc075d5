// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package hostapi

import (
	"fmt"
	"sync"

	"github.com/stateward/stateward/lib/apply"
	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/state"
)

// Settings collects run configuration the scripts set before the
// reconciliation phases start. Safe for concurrent access because
// script tasks may interleave on the cooperative runtime.
type Settings struct {
	mu sync.Mutex

	fileBackend       backend.ID
	fileBackendSet    bool
	enabledPkgBackend map[backend.ID]bool

	earlyGlobs     []string
	sensitiveGlobs []string
	savePrefix     string
	diffCommand    []string
	pagerCommand   []string
}

// NewSettings returns settings with the built-in defaults: passwd
// family early, shadow family sensitive, "less" as pager.
func NewSettings() *Settings {
	return &Settings{
		enabledPkgBackend: make(map[backend.ID]bool),
		earlyGlobs:        apply.DefaultEarlyGlobs(),
		sensitiveGlobs:    state.DefaultSensitiveGlobs(),
		savePrefix:        "ctx.cmds",
		diffCommand:       []string{"diff", "-u"},
		pagerCommand:      []string{"less"},
	}
}

// EnablePkgBackend turns on a package backend by name.
func (s *Settings) EnablePkgBackend(name string) error {
	id, err := backend.ParseID(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabledPkgBackend[id] = true
	return nil
}

// SetFileBackend declares which backend owns the filesystem.
func (s *Settings) SetFileBackend(name string) error {
	id, err := backend.ParseID(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fileBackendSet && s.fileBackend != id {
		return fmt.Errorf("file backend already set to %s", s.fileBackend)
	}
	s.fileBackend, s.fileBackendSet = id, true
	return nil
}

// FileBackend returns the declared filesystem owner.
func (s *Settings) FileBackend() (backend.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileBackend, s.fileBackendSet
}

// PkgBackendEnabled reports whether a backend is enabled.
func (s *Settings) PkgBackendEnabled(id backend.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabledPkgBackend[id]
}

// EarlyConfig adds a glob restored before package transactions.
func (s *Settings) EarlyConfig(glob string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earlyGlobs = append(s.earlyGlobs, glob)
}

// SensitiveFile adds a glob save will never write.
func (s *Settings) SensitiveFile(glob string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensitiveGlobs = append(s.sensitiveGlobs, glob)
}

// SetSavePrefix configures the identifier save lines start with.
func (s *Settings) SetSavePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savePrefix = prefix
}

// SetDiff configures the external diff argv.
func (s *Settings) SetDiff(argv []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diffCommand = append([]string(nil), argv...)
}

// SetPager configures the external pager argv.
func (s *Settings) SetPager(argv []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pagerCommand = append([]string(nil), argv...)
}

// EarlyGlobs returns the early-restore globs.
func (s *Settings) EarlyGlobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.earlyGlobs...)
}

// SensitiveGlobs returns the sensitive globs.
func (s *Settings) SensitiveGlobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sensitiveGlobs...)
}

// SavePrefix returns the save-line identifier.
func (s *Settings) SavePrefix() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePrefix
}

// DiffCommand returns the diff argv.
func (s *Settings) DiffCommand() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.diffCommand...)
}

// PagerCommand returns the pager argv.
func (s *Settings) PagerCommand() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pagerCommand...)
}
