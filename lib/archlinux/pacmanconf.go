// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archlinux

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Config is the subset of pacman.conf this backend needs.
type Config struct {
	// DBPath is the local database root, default /var/lib/pacman.
	DBPath string

	// CacheDirs are the package cache directories searched for
	// archives, default /var/cache/pacman/pkg.
	CacheDirs []string

	// Architecture is the configured architecture; "auto" is left
	// for the caller to resolve via uname.
	Architecture string
}

// DefaultConfig returns pacman's built-in paths.
func DefaultConfig() Config {
	return Config{
		DBPath:    "/var/lib/pacman",
		CacheDirs: []string{"/var/cache/pacman/pkg"},
	}
}

// LoadConfig reads /etc/pacman.conf, falling back to defaults for
// unset options. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("opening pacman.conf: %w", err)
	}
	defer file.Close()
	return ParseConfig(file)
}

// ParseConfig parses pacman.conf's ini-like format. Only options in
// the [options] section matter here.
func ParseConfig(r io.Reader) (Config, error) {
	config := DefaultConfig()
	explicitCacheDirs := false

	section := ""
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}
		if section != "options" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "DBPath":
			config.DBPath = strings.TrimSuffix(value, "/")
		case "CacheDir":
			if !explicitCacheDirs {
				config.CacheDirs = nil
				explicitCacheDirs = true
			}
			config.CacheDirs = append(config.CacheDirs, strings.TrimSuffix(value, "/"))
		case "Architecture":
			config.Architecture = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("reading pacman.conf: %w", err)
	}
	return config, nil
}
