// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import "fmt"

// NeedDownloadError reports that a package archive is not present in
// the local package cache and must be fetched before the query can be
// answered.
type NeedDownloadError struct {
	Package string
	Version string
}

func (e *NeedDownloadError) Error() string {
	return fmt.Sprintf("archive for %s %s not cached locally, download required", e.Package, e.Version)
}

// CorruptError reports that an archive could not be decoded.
type CorruptError struct {
	Package string
	Path    string
	Err     error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("archive %s for package %s is corrupt: %v", e.Path, e.Package, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// NotFoundError reports that a path does not exist inside an archive.
type NotFoundError struct {
	Package string
	Path    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %s does not contain %s", e.Package, e.Path)
}
