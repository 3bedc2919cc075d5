// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package filecache

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

// maxTrackedRecords bounds the in-memory LRU index. Far above any
// realistic record count; eviction is driven by the byte cap, the
// entry bound is a backstop.
const maxTrackedRecords = 1 << 18

// Cache is a size-capped on-disk cache of backend query results.
// Safe for concurrent use. One Cache instance serves one backend.
type Cache struct {
	root     string
	maxBytes int64

	mu sync.Mutex
	// index orders records least-recently-used first and tracks
	// per-record size for eviction.
	index *lru.Cache[string, int64]
	// blobRefs counts records referencing each blob; a blob is
	// deleted when its last referencing record is evicted.
	blobRefs  map[string]int
	usedBytes int64

	group singleflight.Group
}

// New opens (creating if needed) a cache rooted at the given
// directory with a soft byte cap. Existing records are indexed so
// eviction order survives restarts approximately (by directory walk
// order; the cap is soft).
func New(root string, maxBytes int64) (*Cache, error) {
	for _, dir := range []string{root, filepath.Join(root, "blobs"), filepath.Join(root, "records"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
	}
	cache := &Cache{
		root:     root,
		maxBytes: maxBytes,
		blobRefs: make(map[string]int),
	}
	index, err := lru.NewWithEvict(maxTrackedRecords, cache.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating cache index: %w", err)
	}
	cache.index = index
	if err := cache.load(); err != nil {
		return nil, err
	}
	return cache, nil
}

// load walks the record directory and rebuilds the index and blob
// reference counts.
func (c *Cache) load() error {
	recordsDir := filepath.Join(c.root, "records")
	return filepath.Walk(recordsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable entry, ignore
		}
		decoded, err := unmarshalRecord(data)
		if err != nil {
			// Stale encoding; drop it.
			os.Remove(path)
			return nil
		}
		size := info.Size()
		if decoded.Blob != "" {
			c.blobRefs[decoded.Blob]++
			if blobInfo, err := os.Stat(c.blobPath(decoded.Blob)); err == nil {
				size += blobInfo.Size()
			}
		}
		c.index.Add(path, size)
		c.usedBytes += size
		return nil
	})
}

// keyPath returns the record file for a key: records/<backend>/<hash>.
func (c *Cache) keyPath(key Key) string {
	digest := blake3.Sum256([]byte(key.String()))
	return filepath.Join(c.root, "records", key.Backend, hex.EncodeToString(digest[:])+".cbor")
}

func (c *Cache) blobPath(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(c.root, "blobs", hash)
	}
	return filepath.Join(c.root, "blobs", hash[:2], hash[2:4], hash)
}

// onEvict removes an evicted record and any blob it solely
// referenced. Called with c.mu held (all index mutations happen
// under the mutex).
func (c *Cache) onEvict(recordPath string, size int64) {
	data, err := os.ReadFile(recordPath)
	os.Remove(recordPath)
	c.usedBytes -= size
	if err != nil {
		return
	}
	decoded, err := unmarshalRecord(data)
	if err != nil || decoded.Blob == "" {
		return
	}
	c.blobRefs[decoded.Blob]--
	if c.blobRefs[decoded.Blob] <= 0 {
		delete(c.blobRefs, decoded.Blob)
		os.Remove(c.blobPath(decoded.Blob))
	}
}

// evictOverCap drops least-recently-used records until under the
// byte cap. Caller holds c.mu.
func (c *Cache) evictOverCap() {
	for c.maxBytes > 0 && c.usedBytes > c.maxBytes && c.index.Len() > 0 {
		c.index.RemoveOldest()
	}
}

// getRecord loads a record, refreshing its LRU position.
func (c *Cache) getRecord(key Key) (*record, bool) {
	path := c.keyPath(key)
	c.mu.Lock()
	_, tracked := c.index.Get(path)
	c.mu.Unlock()
	if !tracked {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	decoded, err := unmarshalRecord(data)
	if err != nil {
		slog.Warn("dropping unreadable cache record", "key", key.String(), "error", err)
		c.mu.Lock()
		c.index.Remove(path)
		c.mu.Unlock()
		return nil, false
	}
	return decoded, true
}

// putRecord writes a record (and optional blob) atomically and
// accounts it in the index. Write failures are logged and abandoned;
// the cache never blocks the caller's real work.
func (c *Cache) putRecord(key Key, entry *record, blobContent []byte) {
	entry.RecordVersion = recordVersion

	var totalSize int64
	if blobContent != nil {
		digest := blake3.Sum256(blobContent)
		entry.Blob = hex.EncodeToString(digest[:])
		written, err := c.writeBlob(entry.Blob, blobContent)
		if err != nil {
			slog.Warn("abandoning cache write", "key", key.String(), "error", err)
			return
		}
		totalSize += written
	}

	data, err := marshalRecord(entry)
	if err != nil {
		slog.Warn("abandoning cache write", "key", key.String(), "error", err)
		return
	}
	path := c.keyPath(key)
	if err := c.writeAtomic(path, data); err != nil {
		slog.Warn("abandoning cache write", "key", key.String(), "error", err)
		return
	}
	totalSize += int64(len(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	if previousSize, existed := c.index.Peek(path); existed {
		c.usedBytes -= previousSize
	}
	if entry.Blob != "" {
		c.blobRefs[entry.Blob]++
	}
	c.index.Add(path, totalSize)
	c.usedBytes += totalSize
	c.evictOverCap()
}

// writeBlob stores content under its hash unless already present.
func (c *Cache) writeBlob(hash string, content []byte) (int64, error) {
	path := c.blobPath(hash)
	if info, err := os.Stat(path); err == nil {
		return info.Size(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating blob shard: %w", err)
	}
	if err := c.writeAtomic(path, content); err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

// writeAtomic writes through a temp file and rename.
func (c *Cache) writeAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmpFile, err := os.CreateTemp(filepath.Join(c.root, "tmp"), "write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true
	return nil
}

// readBlob fetches blob content by hash.
func (c *Cache) readBlob(hash string) ([]byte, error) {
	content, err := os.ReadFile(c.blobPath(hash))
	if err != nil {
		return nil, fmt.Errorf("reading cache blob %s: %w", hash, err)
	}
	return content, nil
}

// UsedBytes reports the accounted cache size.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
