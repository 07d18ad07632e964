// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/checksum"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/payload"
)

// hashLength is the number of hex characters of the content digest
// used as a unit's hash suffix.
const hashLength = 16

// Unit is the content of one content unit before it is stored.
type Unit struct {
	ID      string
	Data    []byte
	Tags    []string
	Builtin bool
	RawFile bool

	Compression payload.Compression

	// Cipher encrypts the stored bytes when set.
	Cipher *payload.UnitCipher
}

// Asset is one resource entry.
type Asset struct {
	Address      string
	SourcePath   string
	Tags         []string
	Owner        string
	Dependencies []string
}

// Release is a built package version.
type Release struct {
	Manifest     *manifest.Manifest
	ManifestData []byte
	VersionData  []byte

	// Files maps unit cache names to their stored bytes.
	Files map[string][]byte
}

// Build stores every unit and assembles the manifest. The manifest is
// encoded as CBOR.
func Build(version int, packageName string, builtinTags []string, units []Unit, assets []Asset) (*Release, error) {
	release := &Release{Files: make(map[string][]byte, len(units))}

	contentUnits := make([]manifest.ContentUnit, 0, len(units))
	for _, unit := range units {
		codec := unit.Compression
		if codec == "" {
			codec = payload.CompressionNone
		}
		stored, err := payload.Compress(codec, unit.Data)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", unit.ID, err)
		}
		if unit.Cipher != nil {
			stored, err = unit.Cipher.Seal(unit.ID, stored)
			if err != nil {
				return nil, fmt.Errorf("unit %s: %w", unit.ID, err)
			}
		}
		digest := checksum.Sum(stored)
		contentUnit := manifest.ContentUnit{
			ID:          unit.ID,
			Hash:        digest.Short(hashLength),
			Checksum:    digest.String(),
			Size:        int64(len(stored)),
			Tags:        unit.Tags,
			IsBuiltin:   unit.Builtin,
			IsEncrypted: unit.Cipher != nil,
			IsRawFile:   unit.RawFile,
		}
		if codec != payload.CompressionNone {
			contentUnit.Compression = string(codec)
		}
		contentUnits = append(contentUnits, contentUnit)
		release.Files[contentUnit.CacheName()] = stored
	}

	entries := make([]manifest.ResourceEntry, 0, len(assets))
	for _, asset := range assets {
		entries = append(entries, manifest.ResourceEntry{
			Address:           asset.Address,
			SourcePath:        asset.SourcePath,
			Tags:              asset.Tags,
			OwnerUnitID:       asset.Owner,
			DependencyUnitIDs: asset.Dependencies,
		})
	}

	built, err := manifest.New(version, packageName, builtinTags, contentUnits, entries)
	if err != nil {
		return nil, err
	}
	release.Manifest = built
	release.ManifestData, err = built.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	release.VersionData, err = manifest.NewVersionRecord(version, release.ManifestData).Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding version record: %w", err)
	}
	return release, nil
}

// Unit returns the manifest unit with id.
func (r *Release) Unit(id string) manifest.ContentUnit {
	unit, _ := r.Manifest.Unit(id)
	return unit
}

// WriteHost writes the layout a remote host serves: every unit file
// plus the manifest and sidecar named after manifestName.
func (r *Release) WriteHost(directory, manifestName string) error {
	for name, data := range r.Files {
		if err := cache.WriteFileAtomic(filepath.Join(directory, name), data); err != nil {
			return err
		}
	}
	return r.writeManifest(directory, manifestName)
}

// WriteBuiltin writes the layout shipped inside an application:
// <root>/<package>/ holding the manifest and the built-in units.
func (r *Release) WriteBuiltin(root, manifestName string) error {
	directory := filepath.Join(root, r.Manifest.PackageName())
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	for _, unit := range r.Manifest.Units() {
		if !unit.IsBuiltin {
			continue
		}
		if err := cache.WriteFileAtomic(filepath.Join(directory, unit.CacheName()), r.Files[unit.CacheName()]); err != nil {
			return err
		}
	}
	return r.writeManifest(directory, manifestName)
}

func (r *Release) writeManifest(directory, manifestName string) error {
	if err := cache.WriteFileAtomic(filepath.Join(directory, manifest.FileName(manifestName)), r.ManifestData); err != nil {
		return err
	}
	return cache.WriteFileAtomic(filepath.Join(directory, manifest.VersionFileName(manifestName)), r.VersionData)
}
