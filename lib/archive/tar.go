// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"crypto/md5"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/stateward/stateward/lib/schema"
)

// Entry is one archive member with normalized path and metadata.
type Entry struct {
	Path       string
	Properties schema.Properties
}

// normalizePath maps archive member names ("./usr/bin/ls",
// "usr/bin/ls", "usr/bin/") to absolute slash-rooted paths.
func normalizePath(name string) string {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimSuffix(name, "/")
	if name == "" || name == "." {
		return "/"
	}
	return "/" + name
}

// isMetadataMember reports pacman's in-archive metadata members; they
// do not install to the filesystem.
func isMetadataMember(name string) bool {
	base := strings.TrimPrefix(name, "./")
	return strings.HasPrefix(base, ".") &&
		(base == ".PKGINFO" || base == ".MTREE" || base == ".BUILDINFO" ||
			base == ".INSTALL" || base == ".CHANGELOG")
}

// ChecksumAlgo selects which digest batched extraction computes for
// regular files.
type ChecksumAlgo uint8

const (
	AlgoMD5 ChecksumAlgo = iota
	AlgoSHA256
)

// headerProperties converts a tar header into expected Properties.
func headerProperties(header *tar.Header) schema.Properties {
	properties := schema.Properties{
		Mode:     uint32(header.Mode) & 0o7777,
		HasMode:  true,
		UID:      uint32(header.Uid),
		GID:      uint32(header.Gid),
		HasOwner: true,
	}
	if !header.ModTime.IsZero() {
		properties.MtimeSec = header.ModTime.Unix()
		properties.MtimeNano = int64(header.ModTime.Nanosecond())
		properties.HasMtime = true
	}
	switch header.Typeflag {
	case tar.TypeReg:
		properties.Kind = schema.KindRegularFile
		properties.Size = uint64(header.Size)
		properties.HasSize = true
	case tar.TypeDir:
		properties.Kind = schema.KindDirectory
	case tar.TypeSymlink:
		properties.Kind = schema.KindSymlink
		properties.LinkTarget = header.Linkname
	case tar.TypeChar:
		properties.Kind = schema.KindCharDevice
		properties.Major = uint64(header.Devmajor)
		properties.Minor = uint64(header.Devminor)
	case tar.TypeBlock:
		properties.Kind = schema.KindBlockDevice
		properties.Major = uint64(header.Devmajor)
		properties.Minor = uint64(header.Devminor)
	case tar.TypeFifo:
		properties.Kind = schema.KindFifo
	default:
		properties.Kind = schema.KindUnknown
	}
	return properties
}

// FindPath reads the tar stream sequentially and returns the content
// of the first member matching path. A stream cannot seek backwards,
// so a hard link to an earlier member returns a NotFoundError naming
// the link target; the caller re-queries with that path.
func FindPath(r io.Reader, pkg, path string) ([]byte, error) {
	reader := tar.NewReader(r)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, &NotFoundError{Package: pkg, Path: path}
		}
		if err != nil {
			return nil, &CorruptError{Package: pkg, Path: path, Err: err}
		}
		if normalizePath(header.Name) != path {
			continue
		}
		if header.Typeflag == tar.TypeLink {
			return nil, &NotFoundError{Package: pkg, Path: normalizePath(header.Linkname)}
		}
		if header.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("%s in %s is a %v, not a regular file", path, pkg, header.Typeflag)
		}
		content, err := io.ReadAll(reader)
		if err != nil {
			return nil, &CorruptError{Package: pkg, Path: path, Err: err}
		}
		return content, nil
	}
}

// WalkAll decodes every member, computing the selected checksum for
// regular files, and returns the entry list. This is the batched path
// that feeds the summary cache.
func WalkAll(r io.Reader, pkg string, algo ChecksumAlgo) ([]Entry, error) {
	reader := tar.NewReader(r)
	var entries []Entry
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, &CorruptError{Package: pkg, Err: err}
		}
		if isMetadataMember(header.Name) {
			// Drain so the next header read is positioned correctly.
			if _, err := io.Copy(io.Discard, reader); err != nil {
				return nil, &CorruptError{Package: pkg, Path: header.Name, Err: err}
			}
			continue
		}
		properties := headerProperties(header)
		if header.Typeflag == tar.TypeReg {
			checksum, err := hashContent(reader, algo)
			if err != nil {
				return nil, &CorruptError{Package: pkg, Path: header.Name, Err: err}
			}
			properties.Checksum = checksum
		}
		entries = append(entries, Entry{
			Path:       normalizePath(header.Name),
			Properties: properties,
		})
	}
}

func hashContent(r io.Reader, algo ChecksumAlgo) (schema.Checksum, error) {
	switch algo {
	case AlgoMD5:
		hasher := md5.New()
		if _, err := io.Copy(hasher, r); err != nil {
			return schema.Checksum{}, err
		}
		var digest [16]byte
		copy(digest[:], hasher.Sum(nil))
		return schema.NewMD5(digest), nil
	case AlgoSHA256:
		hasher := sha256.New()
		if _, err := io.Copy(hasher, r); err != nil {
			return schema.Checksum{}, err
		}
		var digest [32]byte
		copy(digest[:], hasher.Sum(nil))
		return schema.NewSHA256(digest), nil
	default:
		return schema.Checksum{}, fmt.Errorf("unknown checksum algorithm %d", algo)
	}
}
