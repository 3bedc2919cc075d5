// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries the build identification stamped into the
// stateward binary.
//
// Release builds inject the variables below with -ldflags -X, for
// example:
//
//	go build -ldflags "-X github.com/stateward/stateward/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// A plain `go build` leaves the development defaults in place, which
// is how a locally built binary identifies itself in bug reports.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version, set manually for releases.
	Version = "0.1.0-dev"

	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Info renders the single --version line: semantic version, commit
// (with a -dirty marker for builds from a modified tree), build
// timestamp, and the Go runtime and platform that produced the
// binary. Reconciliation behaviour can differ per platform, so the
// platform is part of the identification.
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s, %s %s/%s)",
		Version, commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
