// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package debian

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
	"github.com/stateward/stateward/lib/schema"
)

const cacheVersion uint16 = 1

// Paths locates the dpkg and apt state this backend reads.
type Paths struct {
	// DpkgDir is /var/lib/dpkg.
	DpkgDir string

	// ExtendedStates is apt's auto-installed markers file.
	ExtendedStates string

	// ArchiveDirs are searched for .deb files, normally
	// /var/cache/apt/archives.
	ArchiveDirs []string
}

// DefaultPaths returns the standard locations.
func DefaultPaths() Paths {
	return Paths{
		DpkgDir:        "/var/lib/dpkg",
		ExtendedStates: "/var/lib/apt/extended_states",
		ArchiveDirs:    []string{"/var/cache/apt/archives"},
	}
}

// Backend is the dpkg/apt implementation of the Files and Packages
// views.
type Backend struct {
	paths Paths

	// primaryArch is dpkg's primary architecture name.
	primaryArch string

	aptCommand     string
	aptMarkCommand string

	mu         sync.Mutex
	packages   []*schema.Package
	diversions Diversions
	triggers   TriggerInterests
	owners     map[string]intern.PackageRef
}

// New constructs the backend. primaryArch comes from dpkg
// --print-architecture; pass it in so tests need no dpkg binary.
func New(paths Paths, primaryArch string) *Backend {
	return &Backend{
		paths:          paths,
		primaryArch:    primaryArch,
		aptCommand:     "apt-get",
		aptMarkCommand: "apt-mark",
	}
}

// DetectPrimaryArch asks dpkg for the host architecture.
func DetectPrimaryArch(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, "dpkg", "--print-architecture").Output()
	if err != nil {
		return "", fmt.Errorf("dpkg --print-architecture: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (b *Backend) Name() string         { return "apt" }
func (b *Backend) ID() backend.ID       { return backend.Apt }
func (b *Backend) CacheVersion() uint16 { return cacheVersion }

// PreferArchiveFiles is true: the dpkg database has no modes or
// types, only md5sums; full metadata requires the archives.
func (b *Backend) PreferArchiveFiles() bool { return true }

// loadStatus parses the status file once.
func (b *Backend) loadStatus(interner *intern.Interner) (*StatusResult, error) {
	statusPath := filepath.Join(b.paths.DpkgDir, "status")
	file, err := os.Open(statusPath)
	if err != nil {
		return nil, fmt.Errorf("opening dpkg status: %w", err)
	}
	defer file.Close()
	return ParseStatus(interner, file, intern.InternArch(interner, b.primaryArch))
}

// Packages lists the dpkg database with install reasons merged from
// apt's extended_states.
func (b *Backend) Packages(ctx context.Context, interner *intern.Interner) ([]*schema.Package, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.packages != nil {
		return b.packages, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status, err := b.loadStatus(interner)
	if err != nil {
		return nil, err
	}

	reasons := make(map[PkgArch]schema.InstallReason)
	if file, err := os.Open(b.paths.ExtendedStates); err == nil {
		reasons, err = ParseExtendedStates(interner, file)
		file.Close()
		if err != nil {
			return nil, err
		}
	}

	for _, pkg := range status.Packages {
		if reason, recorded := reasons[PkgArch{pkg.Name, pkg.Arch}]; recorded {
			pkg.Reason = reason
		}
	}
	b.packages = status.Packages
	return b.packages, nil
}

// Files merges conffile entries from status with md5sums and file
// lists from the info sidecars, applying diversions before
// deduplication.
func (b *Backend) Files(ctx context.Context, interner *intern.Interner) ([]schema.FileEntry, error) {
	status, err := b.loadStatus(interner)
	if err != nil {
		return nil, err
	}
	diversions, err := b.loadDiversions(interner)
	if err != nil {
		return nil, err
	}
	triggers, err := b.loadTriggers()
	if err != nil {
		return nil, err
	}

	infoDir := filepath.Join(b.paths.DpkgDir, "info")
	var all []schema.FileEntry

	// Conffile paths are tracked in the status file with current
	// checksums; they win over the as-shipped md5sums entries.
	conffile := make(map[string]bool)
	for _, entry := range status.ConfFiles {
		conffile[entry.Path] = true
		all = append(all, entry)
	}

	for _, pkg := range status.Packages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pkg.Status == schema.StatusNotInstalled {
			continue
		}
		name := pkg.Name.String(interner)
		sidecarStem := b.sidecarStem(infoDir, name, pkg.Arch, interner)

		checksums := make(map[string]schema.Checksum)
		if file, err := os.Open(sidecarStem + ".md5sums"); err == nil {
			entries, err := ParseMD5Sums(pkg.Name, file)
			file.Close()
			if err != nil {
				return nil, fmt.Errorf("md5sums for %s: %w", name, err)
			}
			for _, entry := range entries {
				checksums[entry.Path] = entry.Properties.Checksum
			}
		}

		file, err := os.Open(sidecarStem + ".list")
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("file list for %s: %w", name, err)
		}
		listed, err := ParseFileList(pkg.Name, file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("file list for %s: %w", name, err)
		}

		for _, entry := range listed {
			// The md5sums sidecar is keyed by the as-shipped path;
			// the installed location may be diverted.
			checksum, hasChecksum := checksums[entry.Path]
			effectivePath := diversions.Apply(entry.Path, pkg.Name)
			if conffile[effectivePath] {
				continue
			}
			entry.Path = effectivePath
			if hasChecksum {
				entry.Properties = schema.Properties{
					Kind:     schema.KindRegularFile,
					Checksum: checksum,
				}
			}
			// Trigger-covered files are regenerated after installs;
			// their content drifting from the archive is expected.
			if triggers.Covers(entry.Path) {
				entry.Flags |= schema.FlagConfig | schema.FlagOKIfMissing
			}
			all = append(all, entry)
		}
	}
	return all, nil
}

// sidecarStem resolves the info/ file stem: "name:arch" for
// multi-arch-same packages, plain "name" otherwise.
func (b *Backend) sidecarStem(infoDir, name string, arch intern.ArchRef, interner *intern.Interner) string {
	if arch != 0 {
		qualified := filepath.Join(infoDir, name+":"+arch.String(interner))
		if _, err := os.Stat(qualified + ".list"); err == nil {
			return qualified
		}
	}
	return filepath.Join(infoDir, name)
}

func (b *Backend) loadDiversions(interner *intern.Interner) (Diversions, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.diversions != nil {
		return b.diversions, nil
	}
	path := filepath.Join(b.paths.DpkgDir, "diversions")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			b.diversions = make(Diversions)
			return b.diversions, nil
		}
		return nil, fmt.Errorf("opening diversions: %w", err)
	}
	defer file.Close()
	diversions, err := ParseDiversions(interner, file)
	if err != nil {
		return nil, err
	}
	b.diversions = diversions
	return diversions, nil
}

func (b *Backend) loadTriggers() (TriggerInterests, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.triggers != nil {
		return b.triggers, nil
	}
	path := filepath.Join(b.paths.DpkgDir, "triggers", "File")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			b.triggers = make(TriggerInterests)
			return b.triggers, nil
		}
		return nil, fmt.Errorf("opening triggers table: %w", err)
	}
	defer file.Close()
	triggers, err := ParseTriggers(file)
	if err != nil {
		return nil, err
	}
	b.triggers = triggers
	return triggers, nil
}

// OwningPackages answers ownership from the file lists.
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

// archivePath locates a .deb in the archive directories. Debian
// escapes ':' in versions as %3a in archive filenames.
func (b *Backend) archivePath(pkg *schema.Package, interner *intern.Interner) (string, error) {
	name := pkg.Name.String(interner)
	// dpkg escapes the epoch colon in archive filenames.
	version := strings.ReplaceAll(pkg.Version, ":", "%3a")
	arch := "all"
	if pkg.Arch != 0 {
		arch = pkg.Arch.String(interner)
	}
	filename := fmt.Sprintf("%s_%s_%s.deb", name, version, arch)
	for _, dir := range b.paths.ArchiveDirs {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &archive.NeedDownloadError{Package: name, Version: pkg.Version}
}

// fetchArchive downloads the .deb (apt-get download) into the first
// archive directory when missing.
func (b *Backend) fetchArchive(ctx context.Context, pkg *schema.Package, interner *intern.Interner) (string, error) {
	path, err := b.archivePath(pkg, interner)
	if err == nil {
		return path, nil
	}
	name := pkg.Name.String(interner)
	download := exec.CommandContext(ctx, b.aptCommand, "download", fmt.Sprintf("%s=%s", name, pkg.Version))
	download.Dir = b.paths.ArchiveDirs[0]
	download.Stdout = os.Stderr
	download.Stderr = os.Stderr
	if runErr := download.Run(); runErr != nil {
		return "", &archive.NeedDownloadError{Package: name, Version: pkg.Version}
	}
	return b.archivePath(pkg, interner)
}

// OriginalFile streams the .deb's data tarball until the queried
// path appears.
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
	for hop := 0; hop < 4; hop++ {
		content, err := b.readDebMember(path, query.Package, queryPath)
		if redirect, ok := err.(*archive.NotFoundError); ok && redirect.Path != queryPath {
			queryPath = redirect.Path
			continue
		}
		return content, err
	}
	return nil, &archive.NotFoundError{Package: query.Package, Path: query.Path}
}

func (b *Backend) readDebMember(debPath, pkg, memberPath string) ([]byte, error) {
	file, err := os.Open(debPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()
	stream, closeDecoder, err := archive.OpenDebData(file, pkg)
	if err != nil {
		return nil, err
	}
	defer closeDecoder()
	return archive.FindPath(stream, pkg, memberPath)
}

// PackageFiles extracts full metadata for the given packages by
// decoding their archives. This is the slow path the disk cache
// memoises.
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
		name := pkg.Name.String(interner)
		stream, closeDecoder, err := archive.OpenDebData(file, name)
		if err != nil {
			file.Close()
			return nil, err
		}
		entries, err := archive.WalkAll(stream, name, archive.AlgoMD5)
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

// Transact installs and removes packages with apt-get.
func (b *Backend) Transact(ctx context.Context, install []string, remove []string) error {
	if len(install) > 0 {
		if err := b.runApt(ctx, append([]string{"install", "--yes"}, install...)); err != nil {
			return err
		}
	}
	if len(remove) > 0 {
		if err := b.runApt(ctx, append([]string{"remove", "--yes"}, remove...)); err != nil {
			return err
		}
	}
	return nil
}

// Mark flips auto-installed markers with apt-mark.
func (b *Backend) Mark(ctx context.Context, asDependency []string, asExplicit []string) error {
	if len(asDependency) > 0 {
		if err := b.runCommand(ctx, b.aptMarkCommand, append([]string{"auto"}, asDependency...)); err != nil {
			return err
		}
	}
	if len(asExplicit) > 0 {
		if err := b.runCommand(ctx, b.aptMarkCommand, append([]string{"manual"}, asExplicit...)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveUnused autoremoves packages no longer needed.
func (b *Backend) RemoveUnused(ctx context.Context) error {
	return b.runApt(ctx, []string{"autoremove", "--yes"})
}

func (b *Backend) runApt(ctx context.Context, args []string) error {
	return b.runCommand(ctx, b.aptCommand, args)
}

func (b *Backend) runCommand(ctx context.Context, name string, args []string) error {
	command := exec.CommandContext(ctx, name, args...)
	command.Stdout = os.Stderr
	command.Stderr = os.Stderr
	command.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	if err := command.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
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
