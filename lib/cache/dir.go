// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

const (
	unitsDirectory     = "cache"
	manifestsDirectory = "manifests"
	recordFileName     = "cache_record.json"
	lockFileName       = ".lock"

	// partialSuffix marks in-progress downloads. ClearUnused removes
	// them along with stale units.
	partialSuffix = ".part"
)

// Dir is a sandbox root.
type Dir struct {
	root string
}

// NewDir creates the sandbox layout under root if it does not exist.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("cache: sandbox root is empty")
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cache: resolving sandbox root: %w", err)
	}
	for _, directory := range []string{
		absolute,
		filepath.Join(absolute, unitsDirectory),
		filepath.Join(absolute, manifestsDirectory),
	} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("cache: creating %s: %w", directory, err)
		}
	}
	return &Dir{root: absolute}, nil
}

// Root returns the absolute sandbox root.
func (d *Dir) Root() string { return d.root }

// PackageDir returns the directory holding a package's unit files.
func (d *Dir) PackageDir(packageName string) string {
	return filepath.Join(d.root, unitsDirectory, packageName)
}

// UnitPath returns where unit's cached file lives.
func (d *Dir) UnitPath(packageName string, unit manifest.ContentUnit) string {
	return filepath.Join(d.PackageDir(packageName), unit.CacheName())
}

// ManifestPath returns where the package's persisted manifest lives.
func (d *Dir) ManifestPath(packageName string) string {
	return filepath.Join(d.root, manifestsDirectory, manifest.FileName(packageName))
}

// RecordPath returns the cache generation record path. It sits
// outside the units directory so clearing the cache keeps it.
func (d *Dir) RecordPath() string {
	return filepath.Join(d.root, recordFileName)
}

// ReadManifest returns the raw bytes of the persisted manifest. The
// error wraps os.ErrNotExist when nothing has been persisted.
func (d *Dir) ReadManifest(packageName string) ([]byte, error) {
	return os.ReadFile(d.ManifestPath(packageName))
}

// WriteManifest atomically replaces the persisted manifest.
func (d *Dir) WriteManifest(packageName string, data []byte) error {
	return WriteFileAtomic(d.ManifestPath(packageName), data)
}

// ClearAll deletes every cached unit file of every package. Persisted
// manifests and the generation record are kept.
func (d *Dir) ClearAll() error {
	units := filepath.Join(d.root, unitsDirectory)
	if err := os.RemoveAll(units); err != nil {
		return fmt.Errorf("cache: clearing %s: %w", units, err)
	}
	if err := os.MkdirAll(units, 0o755); err != nil {
		return fmt.Errorf("cache: recreating %s: %w", units, err)
	}
	return nil
}

// ClearPackage deletes every cached unit file of one package.
func (d *Dir) ClearPackage(packageName string) error {
	directory := d.PackageDir(packageName)
	if err := os.RemoveAll(directory); err != nil {
		return fmt.Errorf("cache: clearing %s: %w", directory, err)
	}
	return nil
}

// ClearUnused deletes every file in the package directory that the
// manifest does not reference, including abandoned partial downloads.
// It returns the names removed.
func (d *Dir) ClearUnused(packageName string, current *manifest.Manifest) ([]string, error) {
	directory := d.PackageDir(packageName)
	listing, err := os.ReadDir(directory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: listing %s: %w", directory, err)
	}

	wanted := make(map[string]struct{}, current.UnitCount())
	for _, unit := range current.Units() {
		wanted[unit.CacheName()] = struct{}{}
	}

	var removed []string
	for _, item := range listing {
		if item.IsDir() {
			continue
		}
		name := item.Name()
		if _, keep := wanted[name]; keep && !strings.HasSuffix(name, partialSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(directory, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("cache: removing %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// WriteFileAtomic writes data to a temporary file beside path, syncs
// it, and renames it into place, so readers see either the old file
// or the complete new one.
func WriteFileAtomic(path string, data []byte) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}

	file, err := os.CreateTemp(directory, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}

	if parent, err := os.Open(directory); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
