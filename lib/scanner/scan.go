// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/stateward/stateward/lib/schema"
)

// Options configures a scan.
type Options struct {
	// Root is the directory to walk, normally "/".
	Root string

	// Ignores prunes matching paths and subtrees.
	Ignores *IgnoreSet

	// Workers is the parallel walk width. Non-positive defaults to
	// GOMAXPROCS.
	Workers int

	// ChannelDepth bounds the output channel. Non-positive defaults
	// to 1024.
	ChannelDepth int
}

// Result is the outcome of a completed scan: scan-time errors are
// collected, never fatal.
type Result struct {
	// Errors holds per-path scan failures (permission, races with
	// concurrent deletion surface here).
	Errors []error
}

// Scan walks the tree and sends observed entries on the returned
// channel. The channel closes when the walk completes; the Result is
// valid only after that. Entry order is unspecified.
func Scan(ctx context.Context, options Options) (<-chan schema.FileEntry, *Result) {
	workers := options.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := options.ChannelDepth
	if depth <= 0 {
		depth = 1024
	}
	root := options.Root
	if root == "" {
		root = "/"
	}

	entries := make(chan schema.FileEntry, depth)
	result := &Result{}

	var resultMu sync.Mutex
	collect := func(err error) {
		resultMu.Lock()
		result.Errors = append(result.Errors, err)
		resultMu.Unlock()
	}

	// Directory work queue. pending counts directories queued but
	// not finished; the queue closes when it reaches zero.
	type dirItem struct{ path string }
	queue := make(chan dirItem, 4096)
	var pending sync.WaitGroup

	enqueue := func(path string) {
		pending.Add(1)
		select {
		case queue <- dirItem{path}:
		default:
			// Queue full: hand the send to a goroutine rather than
			// deadlocking the worker on our own queue.
			go func() {
				queue <- dirItem{path}
			}()
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	walkDir := func(dir string) {
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			collect(fmt.Errorf("reading directory %s: %w", dir, err))
			return
		}
		sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })
		for _, dirEntry := range dirEntries {
			path := filepath.Join(dir, dirEntry.Name())
			if options.Ignores.Match(path) {
				continue
			}
			entry, err := statEntry(path)
			if err != nil {
				collect(err)
				continue
			}
			select {
			case entries <- entry:
			case <-groupCtx.Done():
				return
			}
			if entry.Properties.Kind == schema.KindDirectory && !options.Ignores.PruneDir(path) {
				enqueue(path)
			}
		}
	}

	for range workers {
		group.Go(func() error {
			for item := range queue {
				if groupCtx.Err() == nil {
					walkDir(item.path)
				}
				pending.Done()
			}
			return nil
		})
	}

	go func() {
		if !options.Ignores.Match(root) {
			enqueue(root)
		}
		pending.Wait()
		close(queue)
		group.Wait()
		close(entries)
	}()

	return entries, result
}

// statEntry lstat's a path into an observed FileEntry. Symlink
// targets are read verbatim and never followed.
func statEntry(path string) (schema.FileEntry, error) {
	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		return schema.FileEntry{}, fmt.Errorf("lstat %s: %w", path, err)
	}

	properties := schema.Properties{
		Mode:      stat.Mode & 0o7777,
		HasMode:   true,
		UID:       stat.Uid,
		GID:       stat.Gid,
		HasOwner:  true,
		MtimeSec:  stat.Mtim.Sec,
		MtimeNano: stat.Mtim.Nsec,
		HasMtime:  true,
	}

	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		properties.Kind = schema.KindRegularFile
		properties.Size = uint64(stat.Size)
		properties.HasSize = true
	case unix.S_IFDIR:
		properties.Kind = schema.KindDirectory
	case unix.S_IFLNK:
		properties.Kind = schema.KindSymlink
		target, err := os.Readlink(path)
		if err != nil {
			return schema.FileEntry{}, fmt.Errorf("readlink %s: %w", path, err)
		}
		properties.LinkTarget = target
	case unix.S_IFCHR:
		properties.Kind = schema.KindCharDevice
		properties.Major = uint64(unix.Major(uint64(stat.Rdev)))
		properties.Minor = uint64(unix.Minor(uint64(stat.Rdev)))
	case unix.S_IFBLK:
		properties.Kind = schema.KindBlockDevice
		properties.Major = uint64(unix.Major(uint64(stat.Rdev)))
		properties.Minor = uint64(unix.Minor(uint64(stat.Rdev)))
	case unix.S_IFIFO:
		properties.Kind = schema.KindFifo
	case unix.S_IFSOCK:
		properties.Kind = schema.KindSocket
	default:
		properties.Kind = schema.KindUnknown
	}

	return schema.FileEntry{
		Path:       path,
		Properties: properties,
		Source:     schema.SourceScanner,
	}, nil
}
