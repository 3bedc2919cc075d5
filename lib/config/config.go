// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Stateward.
//
// Configuration is loaded from a single file specified by:
//   - STATEWARD_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery beyond the default
// path. This keeps configuration deterministic and auditable.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Backends configures the package manager backends.
	Backends BackendsConfig `yaml:"backends"`

	// Scan configures the filesystem scan.
	Scan ScanConfig `yaml:"scan"`

	// Cache configures the disk cache.
	Cache CacheConfig `yaml:"cache"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// ConfigDir holds the operator's configuration: the main module,
	// the unsorted staging file, and the files/ tree.
	ConfigDir string `yaml:"config_dir"`

	// CacheDir is the per-user disk cache root. Safe to delete.
	CacheDir string `yaml:"cache_dir"`
}

// BackendsConfig configures the package backends.
type BackendsConfig struct {
	// PacmanConf overrides /etc/pacman.conf.
	PacmanConf string `yaml:"pacman_conf"`

	// DpkgDir overrides /var/lib/dpkg.
	DpkgDir string `yaml:"dpkg_dir"`

	// AptArchives overrides /var/cache/apt/archives.
	AptArchives string `yaml:"apt_archives"`
}

// ScanConfig configures the filesystem scan.
type ScanConfig struct {
	// TrustMtime skips hashing files whose mtime matches the
	// package database.
	TrustMtime bool `yaml:"trust_mtime"`

	// ExtraIgnores adds ignore globs on top of the built-in set.
	ExtraIgnores []string `yaml:"extra_ignores"`

	// Workers overrides the parallel walk width.
	Workers int `yaml:"workers"`
}

// CacheConfig configures the disk cache.
type CacheConfig struct {
	// MaxBytes is the soft size cap per backend. Zero means 256 MB.
	MaxBytes int64 `yaml:"max_bytes"`
}

// DefaultCacheBytes is the per-backend cache cap when unconfigured.
const DefaultCacheBytes = 256 * 1024 * 1024

// Load reads the config file at path. An empty path consults
// STATEWARD_CONFIG, then the default location under the user config
// directory. A missing file yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("STATEWARD_CONFIG")
	}
	if path == "" {
		userConfig, err := os.UserConfigDir()
		if err == nil {
			path = filepath.Join(userConfig, "stateward", "stateward.yaml")
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.ConfigDir == "" {
		if userConfig, err := os.UserConfigDir(); err == nil {
			c.Paths.ConfigDir = filepath.Join(userConfig, "stateward")
		}
	}
	if c.Paths.CacheDir == "" {
		if userCache, err := os.UserCacheDir(); err == nil {
			c.Paths.CacheDir = filepath.Join(userCache, "stateward")
		}
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = DefaultCacheBytes
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Paths.ConfigDir == "" {
		return fmt.Errorf("config_dir is not set and no user config directory exists")
	}
	if c.Paths.CacheDir == "" {
		return fmt.Errorf("cache_dir is not set and no user cache directory exists")
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache max_bytes is negative")
	}
	if c.Scan.Workers < 0 {
		return fmt.Errorf("scan workers is negative")
	}
	return nil
}
