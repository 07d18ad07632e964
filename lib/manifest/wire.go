// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/assetpatch/lib/codec"
)

// builtinTagSeparator delimits the buildinTags field.
const builtinTagSeparator = ";"

// document is the serialized form shared by the CBOR and JSON
// encodings.
type document struct {
	ResourceVersion int           `cbor:"resourceVersion" json:"resourceVersion"`
	PackageName     string        `cbor:"packageName" json:"packageName"`
	BuildinTags     string        `cbor:"buildinTags" json:"buildinTags"`
	BundleList      []unitRecord  `cbor:"bundleList" json:"bundleList"`
	AssetList       []entryRecord `cbor:"assetList" json:"assetList"`
}

type unitRecord struct {
	BundleName  string   `cbor:"bundleName" json:"bundleName"`
	Hash        string   `cbor:"hash" json:"hash"`
	CRC         string   `cbor:"crc" json:"crc"`
	SizeBytes   int64    `cbor:"sizeBytes" json:"sizeBytes"`
	Tags        []string `cbor:"tags,omitempty" json:"tags,omitempty"`
	IsEncrypted bool     `cbor:"isEncrypted,omitempty" json:"isEncrypted,omitempty"`
	IsBuildin   bool     `cbor:"isBuildin,omitempty" json:"isBuildin,omitempty"`
	IsRawFile   bool     `cbor:"isRawFile,omitempty" json:"isRawFile,omitempty"`
	Compression string   `cbor:"compression,omitempty" json:"compression,omitempty"`
}

type entryRecord struct {
	Address   string   `cbor:"address,omitempty" json:"address,omitempty"`
	AssetPath string   `cbor:"assetPath" json:"assetPath"`
	AssetTags []string `cbor:"assetTags,omitempty" json:"assetTags,omitempty"`
	BundleID  string   `cbor:"bundleId" json:"bundleId"`
	DependIDs []string `cbor:"dependIds,omitempty" json:"dependIds,omitempty"`
}

// Load decodes and validates a manifest. Data whose first
// non-whitespace byte is '{' is parsed as JSON with comments;
// anything else as CBOR.
func Load(data []byte) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	var decoded document
	if trimmed[0] == '{' {
		if err := json.Unmarshal(jsonc.ToJSON(trimmed), &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		if err := codec.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return decoded.build()
}

func (d document) build() (*Manifest, error) {
	units := make([]ContentUnit, len(d.BundleList))
	for i, record := range d.BundleList {
		units[i] = ContentUnit{
			ID:          record.BundleName,
			Hash:        record.Hash,
			Checksum:    record.CRC,
			Size:        record.SizeBytes,
			Tags:        record.Tags,
			IsBuiltin:   record.IsBuildin,
			IsEncrypted: record.IsEncrypted,
			IsRawFile:   record.IsRawFile,
			Compression: record.Compression,
		}
	}
	entries := make([]ResourceEntry, len(d.AssetList))
	for i, record := range d.AssetList {
		entries[i] = ResourceEntry{
			Address:           record.Address,
			SourcePath:        record.AssetPath,
			Tags:              record.AssetTags,
			OwnerUnitID:       record.BundleID,
			DependencyUnitIDs: record.DependIDs,
		}
	}
	return New(d.ResourceVersion, d.PackageName, splitTags(d.BuildinTags), units, entries)
}

func (m *Manifest) document() document {
	encoded := document{
		ResourceVersion: m.version,
		PackageName:     m.packageName,
		BuildinTags:     strings.Join(m.builtinTags, builtinTagSeparator),
		BundleList:      make([]unitRecord, len(m.units)),
		AssetList:       make([]entryRecord, len(m.entries)),
	}
	for i, unit := range m.units {
		encoded.BundleList[i] = unitRecord{
			BundleName:  unit.ID,
			Hash:        unit.Hash,
			CRC:         unit.Checksum,
			SizeBytes:   unit.Size,
			Tags:        unit.Tags,
			IsEncrypted: unit.IsEncrypted,
			IsBuildin:   unit.IsBuiltin,
			IsRawFile:   unit.IsRawFile,
			Compression: unit.Compression,
		}
	}
	for i, entry := range m.entries {
		encoded.AssetList[i] = entryRecord{
			Address:   entry.Address,
			AssetPath: entry.SourcePath,
			AssetTags: entry.Tags,
			BundleID:  entry.OwnerUnitID,
			DependIDs: entry.DependencyUnitIDs,
		}
	}
	return encoded
}

// Marshal encodes the manifest as deterministic CBOR.
func (m *Manifest) Marshal() ([]byte, error) {
	return codec.Marshal(m.document())
}

// MarshalJSON encodes the manifest in the JSON wire format.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.document())
}

func splitTags(joined string) []string {
	var tags []string
	for _, tag := range strings.Split(joined, builtinTagSeparator) {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
