// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package archlinux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stateward/stateward/lib/archive"
	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/intern"
	"github.com/stateward/stateward/lib/mtree"
	"github.com/stateward/stateward/lib/schema"
)

// cacheVersion invalidates filecache summary records when the entry
// encoding produced here changes.
const cacheVersion uint16 = 1

// Backend is the pacman implementation of the Files and Packages
// views.
type Backend struct {
	config Config

	// pacmanCommand allows tests to stub the CLI. Defaults to
	// "pacman".
	pacmanCommand string

	mu       sync.Mutex
	packages []*schema.Package
	owners   map[string]intern.PackageRef
}

// New constructs the backend from a pacman configuration.
func New(config Config) *Backend {
	return &Backend{config: config, pacmanCommand: "pacman"}
}

func (b *Backend) Name() string             { return "pacman" }
func (b *Backend) ID() backend.ID           { return backend.Pacman }
func (b *Backend) CacheVersion() uint16     { return cacheVersion }
func (b *Backend) PreferArchiveFiles() bool { return false }

func (b *Backend) localDir() string {
	return filepath.Join(b.config.DBPath, "local")
}

// Packages parses every desc in the local database.
func (b *Backend) Packages(ctx context.Context, interner *intern.Interner) ([]*schema.Package, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.packages != nil {
		return b.packages, nil
	}

	entries, err := os.ReadDir(b.localDir())
	if err != nil {
		return nil, fmt.Errorf("reading pacman local database: %w", err)
	}
	var packages []*schema.Package
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		descPath := filepath.Join(b.localDir(), entry.Name(), "desc")
		file, err := os.Open(descPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("opening %s: %w", descPath, err)
		}
		pkg, err := ParseDesc(file, interner)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", descPath, err)
		}
		packages = append(packages, pkg)
	}
	b.packages = packages
	return packages, nil
}

// Files parses every package's mtree manifest, flagging %BACKUP%
// entries as config files that may legitimately be missing or
// drifted.
func (b *Backend) Files(ctx context.Context, interner *intern.Interner) ([]schema.FileEntry, error) {
	packages, err := b.Packages(ctx, interner)
	if err != nil {
		return nil, err
	}

	var all []schema.FileEntry
	for _, pkg := range packages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := b.packageManifest(pkg, interner)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// packageManifest loads one package's mtree and backup list.
func (b *Backend) packageManifest(pkg *schema.Package, interner *intern.Interner) ([]schema.FileEntry, error) {
	dirName := fmt.Sprintf("%s-%s", pkg.Name.String(interner), pkg.Version)
	packageDir := filepath.Join(b.localDir(), dirName)

	mtreePath := filepath.Join(packageDir, "mtree")
	file, err := os.Open(mtreePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", mtreePath, err)
	}
	entries, err := mtree.Parse(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing manifest for %s: %w", dirName, err)
	}

	backups := make(map[string]bool)
	if filesFile, err := os.Open(filepath.Join(packageDir, "files")); err == nil {
		backupList, err := ParseBackupFiles(filesFile)
		filesFile.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing files list for %s: %w", dirName, err)
		}
		for _, path := range backupList {
			backups[path] = true
		}
	}

	for i := range entries {
		entries[i].Package = pkg.Name
		if backups[entries[i].Path] {
			entries[i].Flags |= schema.FlagConfig | schema.FlagOKIfMissing
		}
	}
	return entries, nil
}

// OwningPackages answers ownership from the parsed manifests.
func (b *Backend) OwningPackages(ctx context.Context, paths []string, interner *intern.Interner) (map[string]intern.PackageRef, error) {
	b.mu.Lock()
	owners := b.owners
	b.mu.Unlock()

	if owners == nil {
		entries, err := b.Files(ctx, interner)
		if err != nil {
			return nil, err
		}
		owners = make(map[string]intern.PackageRef, len(entries))
		for i := range entries {
			owners[entries[i].Path] = entries[i].Package
		}
		b.mu.Lock()
		b.owners = owners
		b.mu.Unlock()
	}

	result := make(map[string]intern.PackageRef, len(paths))
	for _, path := range paths {
		if owner, owned := owners[path]; owned {
			result[path] = owner
		}
	}
	return result, nil
}

// archivePath locates a package archive in the cache directories.
func (b *Backend) archivePath(pkg *schema.Package, interner *intern.Interner) (string, error) {
	arch := "any"
	if pkg.Arch != 0 {
		arch = pkg.Arch.String(interner)
	}
	stem := fmt.Sprintf("%s-%s-%s.pkg.tar", pkg.Name.String(interner), pkg.Version, arch)
	for _, cacheDir := range b.config.CacheDirs {
		for _, suffix := range []string{".zst", ".xz", ".gz", ".lz4", ""} {
			candidate := filepath.Join(cacheDir, stem+suffix)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", &archive.NeedDownloadError{Package: pkg.Name.String(interner), Version: pkg.Version}
}

// fetchArchive downloads a package into the cache (pacman -Sw) when
// it is not already present.
func (b *Backend) fetchArchive(ctx context.Context, pkg *schema.Package, interner *intern.Interner) (string, error) {
	path, err := b.archivePath(pkg, interner)
	if err == nil {
		return path, nil
	}
	name := pkg.Name.String(interner)
	download := exec.CommandContext(ctx, b.pacmanCommand, "-Sw", "--noconfirm", name)
	download.Stdout = os.Stderr
	download.Stderr = os.Stderr
	if runErr := download.Run(); runErr != nil {
		return "", &archive.NeedDownloadError{Package: name, Version: pkg.Version}
	}
	return b.archivePath(pkg, interner)
}

// OriginalFile streams the archive until the queried path appears.
func (b *Backend) OriginalFile(ctx context.Context, query backend.OriginalFileQuery, packages schema.PackageMap, interner *intern.Interner) ([]byte, error) {
	pkg, err := lookupPackage(packages, query.Package, interner)
	if err != nil {
		return nil, err
	}
	path, err := b.fetchArchive(ctx, pkg, interner)
	if err != nil {
		return nil, err
	}

	queryPath := query.Path
	// Hard links inside the archive redirect to their target; retry
	// from the top at most once per hop.
	for hop := 0; hop < 4; hop++ {
		content, err := readArchiveMember(path, query.Package, queryPath)
		if redirect, ok := err.(*archive.NotFoundError); ok && redirect.Path != queryPath {
			queryPath = redirect.Path
			continue
		}
		return content, err
	}
	return nil, &archive.NotFoundError{Package: query.Package, Path: query.Path}
}

func readArchiveMember(archivePath, pkg, memberPath string) ([]byte, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()
	stream, closeDecoder, err := archive.Decompress(file, archivePath)
	if err != nil {
		return nil, &archive.CorruptError{Package: pkg, Path: archivePath, Err: err}
	}
	defer closeDecoder()
	return archive.FindPath(stream, pkg, memberPath)
}

// PackageFiles extracts every entry of the given packages' archives.
// The pacman manifests already carry full metadata, so this is only
// exercised when the operator forces archive-based checking.
func (b *Backend) PackageFiles(ctx context.Context, refs []intern.PackageRef, packages schema.PackageMap, interner *intern.Interner) ([]backend.PackageFileSet, error) {
	var results []backend.PackageFileSet
	for _, ref := range refs {
		pkg := packages[ref]
		if pkg == nil {
			return nil, fmt.Errorf("package %s not in package map", ref.String(interner))
		}
		path, err := b.fetchArchive(ctx, pkg, interner)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		stream, closeDecoder, err := archive.Decompress(file, path)
		if err != nil {
			file.Close()
			return nil, &archive.CorruptError{Package: pkg.Name.String(interner), Path: path, Err: err}
		}
		entries, err := archive.WalkAll(stream, pkg.Name.String(interner), archive.AlgoSHA256)
		closeDecoder()
		file.Close()
		if err != nil {
			return nil, err
		}
		fileEntries := make([]schema.FileEntry, 0, len(entries))
		for _, entry := range entries {
			fileEntries = append(fileEntries, schema.FileEntry{
				Path:       entry.Path,
				Package:    ref,
				Properties: entry.Properties,
				Source:     schema.SourcePackageManager,
			})
		}
		results = append(results, backend.PackageFileSet{Package: ref, Entries: fileEntries})
	}
	return results, nil
}

// Transact installs and removes packages with pacman.
func (b *Backend) Transact(ctx context.Context, install []string, remove []string) error {
	if len(install) > 0 {
		if err := b.run(ctx, append([]string{"-S", "--noconfirm", "--needed"}, install...)); err != nil {
			return err
		}
	}
	if len(remove) > 0 {
		if err := b.run(ctx, append([]string{"-Rs", "--noconfirm"}, remove...)); err != nil {
			return err
		}
	}
	return nil
}

// Mark flips install reasons with pacman -D.
func (b *Backend) Mark(ctx context.Context, asDependency []string, asExplicit []string) error {
	if len(asDependency) > 0 {
		if err := b.run(ctx, append([]string{"-D", "--asdeps"}, asDependency...)); err != nil {
			return err
		}
	}
	if len(asExplicit) > 0 {
		if err := b.run(ctx, append([]string{"-D", "--asexplicit"}, asExplicit...)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveUnused removes orphans (pacman -Qdtq list, then -Rs).
func (b *Backend) RemoveUnused(ctx context.Context) error {
	list := exec.CommandContext(ctx, b.pacmanCommand, "-Qdtq")
	output, err := list.Output()
	if err != nil {
		// Exit status 1 with empty output means no orphans.
		if len(strings.TrimSpace(string(output))) == 0 {
			return nil
		}
		return fmt.Errorf("listing orphans: %w", err)
	}
	orphans := strings.Fields(string(output))
	if len(orphans) == 0 {
		return nil
	}
	return b.run(ctx, append([]string{"-Rs", "--noconfirm"}, orphans...))
}

func (b *Backend) run(ctx context.Context, args []string) error {
	command := exec.CommandContext(ctx, b.pacmanCommand, args...)
	command.Stdout = os.Stderr
	command.Stderr = os.Stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("pacman %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func lookupPackage(packages schema.PackageMap, name string, interner *intern.Interner) (*schema.Package, error) {
	ref, known := interner.Lookup(name)
	if known {
		if pkg := packages[intern.PackageRef(ref)]; pkg != nil {
			return pkg, nil
		}
	}
	return nil, fmt.Errorf("package %s is not installed", name)
}
