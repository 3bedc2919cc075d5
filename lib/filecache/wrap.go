// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package filecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stateward/stateward/lib/archive"
	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/schema"
)

// CachedFiles wraps a Files backend with the disk cache. Original
// file queries and batched package-file reads are memoised; every
// other method delegates.
type CachedFiles struct {
	inner backend.Files
	cache *Cache
}

// Wrap builds the caching decorator.
func Wrap(inner backend.Files, cache *Cache) *CachedFiles {
	return &CachedFiles{inner: inner, cache: cache}
}

func (c *CachedFiles) Name() string         { return c.inner.Name() }
func (c *CachedFiles) ID() backend.ID       { return c.inner.ID() }
func (c *CachedFiles) CacheVersion() uint16 { return c.inner.CacheVersion() }

func (c *CachedFiles) PreferArchiveFiles() bool { return c.inner.PreferArchiveFiles() }

func (c *CachedFiles) Files(ctx context.Context, interner *intern.Interner) ([]schema.FileEntry, error) {
	return c.inner.Files(ctx, interner)
}

func (c *CachedFiles) OwningPackages(ctx context.Context, paths []string, interner *intern.Interner) (map[string]intern.PackageRef, error) {
	return c.inner.OwningPackages(ctx, paths, interner)
}

// key builds the cache key for a package, with an optional path for
// original-file records.
func (c *CachedFiles) key(pkg *schema.Package, interner *intern.Interner, path string) Key {
	return Key{
		Backend:      c.inner.Name(),
		CacheVersion: c.inner.CacheVersion(),
		Package:      pkg.Name.String(interner),
		Version:      pkg.Version,
		Path:         path,
	}
}

// OriginalFile serves as-shipped bytes, consulting the cache first.
// Concurrent queries for the same key collapse to one upstream read.
func (c *CachedFiles) OriginalFile(ctx context.Context, query backend.OriginalFileQuery, packages schema.PackageMap, interner *intern.Interner) ([]byte, error) {
	ref, known := interner.Lookup(query.Package)
	var pkg *schema.Package
	if known {
		pkg = packages[intern.PackageRef(ref)]
	}
	if pkg == nil {
		// Unknown package: the inner backend produces the error.
		return c.inner.OriginalFile(ctx, query, packages, interner)
	}

	key := c.key(pkg, interner, query.Path)
	if entry, ok := c.cache.getRecord(key); ok {
		if entry.MissingArchive {
			return nil, &archive.NeedDownloadError{Package: query.Package, Version: pkg.Version}
		}
		if content, err := c.cache.readBlob(entry.Blob); err == nil {
			return content, nil
		}
		slog.Warn("cache blob vanished, refetching", "key", key.String())
	}

	result, err, _ := c.cache.group.Do(key.String(), func() (any, error) {
		content, err := c.inner.OriginalFile(ctx, query, packages, interner)
		if err != nil {
			var needDownload *archive.NeedDownloadError
			if errors.As(err, &needDownload) {
				// Negative-cache the missing archive; refreshed when
				// the package version changes the key.
				c.cache.putRecord(key, &record{MissingArchive: true}, nil)
			}
			return nil, err
		}
		c.cache.putRecord(key, &record{}, content)
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	content, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected cache result type %T", result)
	}
	return content, nil
}

// PackageFiles serves full per-package file metadata, reading each
// package's archive at most once per version.
func (c *CachedFiles) PackageFiles(ctx context.Context, refs []intern.PackageRef, packages schema.PackageMap, interner *intern.Interner) ([]backend.PackageFileSet, error) {
	results := make([]backend.PackageFileSet, 0, len(refs))
	var uncached []intern.PackageRef

	for _, ref := range refs {
		pkg := packages[ref]
		if pkg == nil {
			return nil, fmt.Errorf("package %s not in package map", ref.String(interner))
		}
		entry, ok := c.cache.getRecord(c.key(pkg, interner, ""))
		if !ok {
			uncached = append(uncached, ref)
			continue
		}
		if entry.MissingArchive {
			return nil, &archive.NeedDownloadError{Package: pkg.Name.String(interner), Version: pkg.Version}
		}
		results = append(results, backend.PackageFileSet{
			Package: ref,
			Entries: entriesFromSummary(entry.Entries, ref),
		})
	}

	if len(uncached) > 0 {
		fetched, err := c.inner.PackageFiles(ctx, uncached, packages, interner)
		if err != nil {
			return nil, err
		}
		for _, set := range fetched {
			pkg := packages[set.Package]
			c.cache.putRecord(c.key(pkg, interner, ""), &record{
				Entries: summaryFromEntries(set.Entries),
			}, nil)
			results = append(results, set)
		}
	}
	return results, nil
}
