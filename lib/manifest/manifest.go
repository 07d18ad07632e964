// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrMalformed reports bytes that do not decode as a manifest.
	ErrMalformed = errors.New("malformed manifest")

	// ErrDuplicateAddress reports two entries sharing an address.
	ErrDuplicateAddress = errors.New("duplicate resource address")

	// ErrDuplicateSourcePath reports two entries sharing a source path.
	ErrDuplicateSourcePath = errors.New("duplicate resource source path")

	// ErrDuplicateUnit reports two content units sharing an id.
	ErrDuplicateUnit = errors.New("duplicate content unit id")

	// ErrUnknownUnit reports a reference to a content unit the
	// manifest does not declare.
	ErrUnknownUnit = errors.New("unknown content unit")

	// ErrNotFound reports a lookup for an address or source path that
	// is not in the manifest.
	ErrNotFound = errors.New("resource not found")
)

// crossPackageSeparator joins a package name and a unit id in a
// cross-package dependency id.
const crossPackageSeparator = "@"

// ContentUnit is one downloadable file. Its identity within a package
// is ID; Hash changes whenever the content changes.
type ContentUnit struct {
	ID          string
	Hash        string
	Checksum    string
	Size        int64
	Tags        []string
	IsBuiltin   bool
	IsEncrypted bool
	IsRawFile   bool

	// Compression names the codec applied to the stored bytes: "",
	// "none", "lz4", or "zstd".
	Compression string
}

// CacheName is the file name of the unit in caches, built-in roots,
// and remote hosts. The hash suffix keeps a changed unit from ever
// colliding with a stale copy of the same id.
func (u ContentUnit) CacheName() string {
	return u.ID + "_" + u.Hash
}

// HasTag reports whether the unit carries any of tags.
func (u ContentUnit) HasTag(tags ...string) bool {
	return hasAny(u.Tags, tags)
}

// ResourceEntry is one loadable object.
type ResourceEntry struct {
	// Address is the caller-facing lookup key. Empty when the package
	// does not use addressing.
	Address string

	// SourcePath is the canonical identity of the resource.
	SourcePath string

	Tags              []string
	OwnerUnitID       string
	DependencyUnitIDs []string
}

// HasTag reports whether the entry carries any of tags.
func (e ResourceEntry) HasTag(tags ...string) bool {
	return hasAny(e.Tags, tags)
}

// Manifest is an immutable, indexed catalog of one package version.
type Manifest struct {
	version     int
	packageName string
	builtinTags []string
	units       []ContentUnit
	entries     []ResourceEntry

	unitIndex    map[string]int
	addressIndex map[string]string
	sourceIndex  map[string]int
}

// New validates and indexes a catalog. The slices are copied.
func New(version int, packageName string, builtinTags []string, units []ContentUnit, entries []ResourceEntry) (*Manifest, error) {
	if packageName == "" {
		return nil, fmt.Errorf("%w: package name is empty", ErrMalformed)
	}

	m := &Manifest{
		version:      version,
		packageName:  packageName,
		builtinTags:  slices.Clone(builtinTags),
		units:        make([]ContentUnit, len(units)),
		entries:      make([]ResourceEntry, len(entries)),
		unitIndex:    make(map[string]int, len(units)),
		addressIndex: make(map[string]string, len(entries)),
		sourceIndex:  make(map[string]int, len(entries)),
	}

	for i, unit := range units {
		if unit.ID == "" {
			return nil, fmt.Errorf("%w: content unit %d has no id", ErrMalformed, i)
		}
		if unit.Hash == "" {
			return nil, fmt.Errorf("%w: content unit %q has no hash", ErrMalformed, unit.ID)
		}
		if unit.Size < 0 {
			return nil, fmt.Errorf("%w: content unit %q has negative size %d", ErrMalformed, unit.ID, unit.Size)
		}
		if _, exists := m.unitIndex[unit.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateUnit, unit.ID)
		}
		unit.Tags = slices.Clone(unit.Tags)
		m.units[i] = unit
		m.unitIndex[unit.ID] = i
	}

	for i, entry := range entries {
		if entry.SourcePath == "" {
			return nil, fmt.Errorf("%w: resource entry %d has no source path", ErrMalformed, i)
		}
		if _, exists := m.sourceIndex[entry.SourcePath]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSourcePath, entry.SourcePath)
		}
		if entry.Address != "" {
			if previous, exists := m.addressIndex[entry.Address]; exists {
				return nil, fmt.Errorf("%w: %q used by %q and %q",
					ErrDuplicateAddress, entry.Address, previous, entry.SourcePath)
			}
			m.addressIndex[entry.Address] = entry.SourcePath
		}
		if _, exists := m.unitIndex[entry.OwnerUnitID]; !exists {
			return nil, fmt.Errorf("%w: %q owns %q", ErrUnknownUnit, entry.OwnerUnitID, entry.SourcePath)
		}
		for _, dependency := range entry.DependencyUnitIDs {
			if _, _, cross := SplitCrossPackageID(dependency); cross {
				continue
			}
			if _, exists := m.unitIndex[dependency]; !exists {
				return nil, fmt.Errorf("%w: %q is a dependency of %q", ErrUnknownUnit, dependency, entry.SourcePath)
			}
		}
		entry.Tags = slices.Clone(entry.Tags)
		entry.DependencyUnitIDs = slices.Clone(entry.DependencyUnitIDs)
		m.entries[i] = entry
		m.sourceIndex[entry.SourcePath] = i
	}

	return m, nil
}

// Version is the published resource version.
func (m *Manifest) Version() int { return m.version }

// PackageName names the package the manifest describes.
func (m *Manifest) PackageName() string { return m.packageName }

// BuiltinTags returns the tags whose units ship inside the application.
func (m *Manifest) BuiltinTags() []string { return slices.Clone(m.builtinTags) }

// Units returns a copy of the unit list in manifest order.
func (m *Manifest) Units() []ContentUnit { return slices.Clone(m.units) }

// Entries returns a copy of the entry list in manifest order.
func (m *Manifest) Entries() []ResourceEntry { return slices.Clone(m.entries) }

// UnitCount returns the number of content units.
func (m *Manifest) UnitCount() int { return len(m.units) }

// EntryCount returns the number of resource entries.
func (m *Manifest) EntryCount() int { return len(m.entries) }

// TotalSize sums the sizes of every unit.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, unit := range m.units {
		total += unit.Size
	}
	return total
}

// Unit looks up a content unit by id.
func (m *Manifest) Unit(id string) (ContentUnit, bool) {
	index, ok := m.unitIndex[id]
	if !ok {
		return ContentUnit{}, false
	}
	return m.units[index], true
}

// Entry looks up a resource entry by source path.
func (m *Manifest) Entry(sourcePath string) (ResourceEntry, bool) {
	index, ok := m.sourceIndex[sourcePath]
	if !ok {
		return ResourceEntry{}, false
	}
	return m.entries[index], true
}

// Resolve maps an address to its source path.
func (m *Manifest) Resolve(address string) (string, error) {
	sourcePath, ok := m.addressIndex[address]
	if !ok {
		return "", fmt.Errorf("%w: address %q in package %q", ErrNotFound, address, m.packageName)
	}
	return sourcePath, nil
}

// Locate finds the entry for a location that is either an address or
// a source path. Addresses take precedence.
func (m *Manifest) Locate(location string) (ResourceEntry, error) {
	if sourcePath, ok := m.addressIndex[location]; ok {
		return m.entries[m.sourceIndex[sourcePath]], nil
	}
	if index, ok := m.sourceIndex[location]; ok {
		return m.entries[index], nil
	}
	return ResourceEntry{}, fmt.Errorf("%w: location %q in package %q", ErrNotFound, location, m.packageName)
}

// OwnerUnit returns the unit that contains the resource.
func (m *Manifest) OwnerUnit(sourcePath string) (ContentUnit, error) {
	entry, ok := m.Entry(sourcePath)
	if !ok {
		return ContentUnit{}, fmt.Errorf("%w: source path %q in package %q", ErrNotFound, sourcePath, m.packageName)
	}
	unit, _ := m.Unit(entry.OwnerUnitID)
	return unit, nil
}

// DependenciesOf returns the same-package unit ids the resource
// depends on, in manifest order.
func (m *Manifest) DependenciesOf(sourcePath string) ([]string, error) {
	entry, ok := m.Entry(sourcePath)
	if !ok {
		return nil, fmt.Errorf("%w: source path %q in package %q", ErrNotFound, sourcePath, m.packageName)
	}
	var local []string
	for _, dependency := range entry.DependencyUnitIDs {
		if _, _, cross := SplitCrossPackageID(dependency); cross {
			continue
		}
		local = append(local, dependency)
	}
	return local, nil
}

// CrossPackageDependenciesOf returns the "package@unitId" dependency
// ids of the resource, without duplicates.
func (m *Manifest) CrossPackageDependenciesOf(sourcePath string) ([]string, error) {
	entry, ok := m.Entry(sourcePath)
	if !ok {
		return nil, fmt.Errorf("%w: source path %q in package %q", ErrNotFound, sourcePath, m.packageName)
	}
	var cross []string
	seen := make(map[string]struct{})
	for _, dependency := range entry.DependencyUnitIDs {
		if _, _, isCross := SplitCrossPackageID(dependency); !isCross {
			continue
		}
		if _, duplicate := seen[dependency]; duplicate {
			continue
		}
		seen[dependency] = struct{}{}
		cross = append(cross, dependency)
	}
	return cross, nil
}

// EntriesByTags returns entries carrying any of tags. An empty tag
// list returns every entry.
func (m *Manifest) EntriesByTags(tags []string) []ResourceEntry {
	if len(tags) == 0 {
		return m.Entries()
	}
	var matched []ResourceEntry
	for _, entry := range m.entries {
		if entry.HasTag(tags...) {
			matched = append(matched, entry)
		}
	}
	return matched
}

// UnitsByTags returns units carrying any of tags. An empty tag list
// returns every unit.
func (m *Manifest) UnitsByTags(tags []string) []ContentUnit {
	if len(tags) == 0 {
		return m.Units()
	}
	var matched []ContentUnit
	for _, unit := range m.units {
		if unit.HasTag(tags...) {
			matched = append(matched, unit)
		}
	}
	return matched
}

// CrossPackageID builds the dependency id naming unitID in another
// package.
func CrossPackageID(packageName, unitID string) string {
	return packageName + crossPackageSeparator + unitID
}

// SplitCrossPackageID splits a "package@unitId" dependency id. ok is
// false for plain same-package ids.
func SplitCrossPackageID(id string) (packageName, unitID string, ok bool) {
	packageName, unitID, ok = strings.Cut(id, crossPackageSeparator)
	if !ok || packageName == "" || unitID == "" {
		return "", id, false
	}
	return packageName, unitID, true
}

func hasAny(have, want []string) bool {
	for _, tag := range want {
		if slices.Contains(have, tag) {
			return true
		}
	}
	return false
}
