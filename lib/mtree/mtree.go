// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package mtree

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/stateward/stateward/lib/schema"
)

// ParseError reports a malformed manifest record with its line number
// and the offending text.
type ParseError struct {
	Line    int
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mtree: line %d: %v (in %q)", e.Line, e.Err, e.Context)
}

func (e *ParseError) Unwrap() error { return e.Err }

// defaults are the sticky values established by /set lines.
type defaults struct {
	kind    schema.EntryKind
	hasKind bool
	mode    uint32
	hasMode bool
	uid     uint32
	hasUID  bool
	gid     uint32
	hasGID  bool
}

// Parse reads a gzip-compressed manifest and returns the file entries
// it describes. Entries carry no owning package; the caller attaches
// one.
func Parse(r io.Reader) ([]schema.FileEntry, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("mtree: opening gzip stream: %w", err)
	}
	defer gz.Close()
	return ParseDecompressed(gz)
}

// ParseDecompressed parses an already-decompressed manifest.
func ParseDecompressed(r io.Reader) ([]schema.FileEntry, error) {
	parser := &parser{warned: make(map[string]bool)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pending []byte
	for scanner.Scan() {
		parser.line++
		raw := scanner.Bytes()
		// Continuation: a trailing backslash joins the next line.
		if len(raw) > 0 && raw[len(raw)-1] == '\\' {
			pending = append(pending, raw[:len(raw)-1]...)
			pending = append(pending, ' ')
			continue
		}
		line := raw
		if len(pending) > 0 {
			pending = append(pending, raw...)
			line = pending
		}
		if err := parser.consume(line); err != nil {
			return nil, err
		}
		pending = pending[:0]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mtree: reading manifest: %w", err)
	}
	return parser.entries, nil
}

type parser struct {
	line    int
	cwd     []string
	set     defaults
	entries []schema.FileEntry
	warned  map[string]bool
}

func (p *parser) fail(context string, err error) error {
	return &ParseError{Line: p.line, Context: context, Err: err}
}

func (p *parser) consume(line []byte) error {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	first := fields[0]
	switch {
	case first[0] == '#':
		return nil
	case bytes.Equal(first, []byte("..")):
		// Ascend. Going above the root is silently capped.
		if len(p.cwd) > 0 {
			p.cwd = p.cwd[:len(p.cwd)-1]
		}
		return nil
	case first[0] == '/':
		return p.consumeSpecial(string(first), fields[1:], string(line))
	default:
		return p.consumeEntry(first, fields[1:], string(line))
	}
}

func (p *parser) consumeSpecial(command string, words [][]byte, context string) error {
	switch command {
	case "/set":
		for _, word := range words {
			if err := p.applyKeyword(&p.set, word, context); err != nil {
				return err
			}
		}
		return nil
	case "/unset":
		for _, word := range words {
			switch string(word) {
			case "type":
				p.set.hasKind = false
			case "mode":
				p.set.hasMode = false
			case "uid":
				p.set.hasUID = false
			case "gid":
				p.set.hasGID = false
			case "all":
				p.set = defaults{}
			}
		}
		return nil
	default:
		return p.fail(context, fmt.Errorf("unknown special command %q", command))
	}
}

// entryState accumulates one record: the sticky defaults plus the
// record's own keywords.
type entryState struct {
	defaults
	size      uint64
	hasSize   bool
	mtimeSec  int64
	mtimeNano int64
	hasMtime  bool
	checksum  schema.Checksum
	link      string
	major     uint64
	minor     uint64
}

func (p *parser) consumeEntry(name []byte, words [][]byte, context string) error {
	state := entryState{defaults: p.set}
	for _, word := range words {
		if err := p.applyEntryKeyword(&state, word, context); err != nil {
			return err
		}
	}

	decoded, err := unescapeName(name)
	if err != nil {
		return p.fail(context, err)
	}
	isRelative := !bytes.ContainsRune(decoded, '/')

	var components []string
	if isRelative {
		components = append(components, p.cwd...)
		components = append(components, string(decoded))
	} else {
		// Full path, relative to the manifest root regardless of the
		// current directory.
		for _, part := range strings.Split(string(decoded), "/") {
			switch part {
			case "", ".":
			case "..":
				if len(components) > 0 {
					components = components[:len(components)-1]
				}
			default:
				components = append(components, part)
			}
		}
	}
	path := "/" + strings.Join(components, "/")

	if !state.hasKind {
		return p.fail(context, fmt.Errorf("entry %q has no type", path))
	}

	properties := schema.Properties{
		Kind:       state.kind,
		Mode:       state.mode,
		HasMode:    state.hasMode,
		UID:        state.uid,
		GID:        state.gid,
		HasOwner:   state.hasUID && state.hasGID,
		Size:       state.size,
		HasSize:    state.hasSize,
		MtimeSec:   state.mtimeSec,
		MtimeNano:  state.mtimeNano,
		HasMtime:   state.hasMtime,
		Checksum:   state.checksum,
		LinkTarget: state.link,
		Major:      state.major,
		Minor:      state.minor,
	}
	p.entries = append(p.entries, schema.FileEntry{
		Path:       path,
		Properties: properties,
		Source:     schema.SourcePackageManager,
	})

	// A relative directory entry descends into that directory.
	if isRelative && state.kind == schema.KindDirectory {
		p.cwd = append(p.cwd, string(decoded))
	}
	return nil
}

// applyKeyword handles the keywords valid in /set lines.
func (p *parser) applyKeyword(d *defaults, word []byte, context string) error {
	key, value, _ := bytes.Cut(word, []byte("="))
	switch string(key) {
	case "type":
		kind, err := parseKind(string(value))
		if err != nil {
			return p.fail(context, err)
		}
		d.kind, d.hasKind = kind, true
	case "mode":
		mode, err := strconv.ParseUint(string(value), 8, 32)
		if err != nil {
			return p.fail(context, fmt.Errorf("parsing mode: %w", err))
		}
		d.mode, d.hasMode = uint32(mode), true
	case "uid":
		uid, err := strconv.ParseUint(string(value), 10, 32)
		if err != nil {
			return p.fail(context, fmt.Errorf("parsing uid: %w", err))
		}
		d.uid, d.hasUID = uint32(uid), true
	case "gid":
		gid, err := strconv.ParseUint(string(value), 10, 32)
		if err != nil {
			return p.fail(context, fmt.Errorf("parsing gid: %w", err))
		}
		d.gid, d.hasGID = uint32(gid), true
	default:
		p.warnUnknown(string(key))
	}
	return nil
}

// applyEntryKeyword handles all keywords valid on an entry line.
func (p *parser) applyEntryKeyword(state *entryState, word []byte, context string) error {
	key, value, _ := bytes.Cut(word, []byte("="))
	switch string(key) {
	case "type", "mode", "uid", "gid":
		return p.applyKeyword(&state.defaults, word, context)
	case "size":
		size, err := strconv.ParseUint(string(value), 10, 64)
		if err != nil {
			return p.fail(context, fmt.Errorf("parsing size: %w", err))
		}
		state.size, state.hasSize = size, true
	case "time":
		sec, nano, err := parseTime(string(value))
		if err != nil {
			return p.fail(context, err)
		}
		state.mtimeSec, state.mtimeNano, state.hasMtime = sec, nano, true
	case "sha256", "sha256digest":
		checksum, err := schema.ParseChecksumHex(schema.ChecksumSHA256, string(value))
		if err != nil {
			return p.fail(context, err)
		}
		state.checksum = checksum
	case "md5", "md5digest":
		checksum, err := schema.ParseChecksumHex(schema.ChecksumMD5, string(value))
		if err != nil {
			return p.fail(context, err)
		}
		// SHA-256 wins when both are present.
		if state.checksum.IsZero() {
			state.checksum = checksum
		}
	case "link":
		target, err := unescapeName(value)
		if err != nil {
			return p.fail(context, err)
		}
		state.link = string(target)
	case "device":
		major, minor, err := parseDevice(string(value))
		if err != nil {
			return p.fail(context, err)
		}
		state.major, state.minor = major, minor
	default:
		p.warnUnknown(string(key))
	}
	return nil
}

// parseTime splits a "seconds.nanoseconds" timestamp.
func parseTime(value string) (sec int64, nano int64, err error) {
	secText, nanoText, found := strings.Cut(value, ".")
	sec, err = strconv.ParseInt(secText, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing time seconds: %w", err)
	}
	if !found || nanoText == "" {
		return sec, 0, nil
	}
	nano, err = strconv.ParseInt(nanoText, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing time nanoseconds: %w", err)
	}
	return sec, nano, nil
}

// parseDevice decodes a "format,major,minor" device keyword.
func parseDevice(value string) (major, minor uint64, err error) {
	parts := strings.Split(value, ",")
	if len(parts) < 3 {
		return 0, 0, fmt.Errorf("device %q needs format,major,minor", value)
	}
	major, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing device major: %w", err)
	}
	minor, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing device minor: %w", err)
	}
	return major, minor, nil
}

func parseKind(value string) (schema.EntryKind, error) {
	switch value {
	case "file":
		return schema.KindRegularFile, nil
	case "dir":
		return schema.KindDirectory, nil
	case "link":
		return schema.KindSymlink, nil
	case "block":
		return schema.KindBlockDevice, nil
	case "char":
		return schema.KindCharDevice, nil
	case "fifo":
		return schema.KindFifo, nil
	case "socket":
		return schema.KindSocket, nil
	default:
		return 0, fmt.Errorf("unknown entry type %q", value)
	}
}

func (p *parser) warnUnknown(key string) {
	if p.warned[key] {
		return
	}
	p.warned[key] = true
	slog.Warn("skipping unrecognised manifest keyword", "keyword", key)
}
