// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// arMagic is the global header of a Unix ar archive.
const arMagic = "!<arch>\n"

// arHeaderSize is the fixed per-member header length.
const arHeaderSize = 60

// arMember is one member of an ar archive.
type arMember struct {
	name string
	size int64
}

// arReader walks the members of an ar archive sequentially.
type arReader struct {
	r       io.Reader
	current int64 // unread bytes of the current member
	pad     int64 // padding byte after the current member, 0 or 1
}

func newArReader(r io.Reader) (*arReader, error) {
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("reading ar magic: %w", err)
	}
	if string(magic) != arMagic {
		return nil, fmt.Errorf("not an ar archive (magic %q)", magic)
	}
	return &arReader{r: r}, nil
}

// next advances to the following member header.
func (ar *arReader) next() (*arMember, error) {
	// Skip whatever remains of the previous member.
	if ar.current+ar.pad > 0 {
		if _, err := io.CopyN(io.Discard, ar.r, ar.current+ar.pad); err != nil {
			return nil, fmt.Errorf("skipping ar member: %w", err)
		}
		ar.current, ar.pad = 0, 0
	}

	header := make([]byte, arHeaderSize)
	if _, err := io.ReadFull(ar.r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading ar member header: %w", err)
	}
	if !bytes.Equal(header[58:60], []byte("`\n")) {
		return nil, fmt.Errorf("bad ar member terminator %q", header[58:60])
	}
	name := strings.TrimRight(string(header[0:16]), " ")
	name = strings.TrimSuffix(name, "/")
	size, err := strconv.ParseInt(strings.TrimSpace(string(header[48:58])), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing ar member size: %w", err)
	}
	ar.current = size
	ar.pad = size % 2
	return &arMember{name: name, size: size}, nil
}

// read consumes up to len(p) bytes of the current member.
func (ar *arReader) read(p []byte) (int, error) {
	if ar.current == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > ar.current {
		p = p[:ar.current]
	}
	n, err := ar.r.Read(p)
	ar.current -= int64(n)
	return n, err
}

type arMemberReader struct{ ar *arReader }

func (r arMemberReader) Read(p []byte) (int, error) { return r.ar.read(p) }

// OpenDebData positions the reader at the decompressed data tarball
// inside a .deb archive. The returned close function must be called
// after the tar stream has been consumed.
func OpenDebData(r io.Reader, pkg string) (io.Reader, func(), error) {
	ar, err := newArReader(r)
	if err != nil {
		return nil, nil, &CorruptError{Package: pkg, Err: err}
	}
	for {
		member, err := ar.next()
		if err == io.EOF {
			return nil, nil, &CorruptError{Package: pkg, Err: fmt.Errorf("no data.tar member")}
		}
		if err != nil {
			return nil, nil, &CorruptError{Package: pkg, Err: err}
		}
		if !strings.HasPrefix(member.name, "data.tar") {
			continue
		}
		plain, closeDecoder, err := Decompress(arMemberReader{ar}, member.name)
		if err != nil {
			return nil, nil, &CorruptError{Package: pkg, Path: member.name, Err: err}
		}
		return plain, closeDecoder, nil
	}
}
