// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest is the catalog of one published resource package:
// its content units (the downloadable, cacheable files) and its
// resource entries (the loadable objects inside those units), plus
// the dependency edges between them.
//
// A [Manifest] is immutable once built. [Load] and [New] validate the
// whole catalog in one pass and build the lookup indices, so every
// query afterwards is a map access. Publishing a new version means
// building a new Manifest and swapping the pointer that callers hold;
// nothing mutates a Manifest in place.
//
// # Wire format
//
// Manifests are CBOR documents encoded with lib/codec. Hand-authored
// or legacy manifests may instead be JSON (comments and trailing
// commas allowed); [Load] detects the format from the first
// non-whitespace byte. Both formats use the same field names:
//
//	resourceVersion  int
//	packageName      string
//	buildinTags      string, ';'-delimited
//	bundleList       [{bundleName, hash, crc, sizeBytes, tags,
//	                   isEncrypted, isBuildin, isRawFile, compression}]
//	assetList        [{address, assetPath, assetTags, bundleId, dependIds}]
//
// A dependency id of the form "package@unitId" names a unit owned by
// another package. Same-package and cross-package dependencies are
// reported separately by [Manifest.DependenciesOf] and
// [Manifest.CrossPackageDependenciesOf].
//
// # Version sidecar
//
// Next to every published manifest sits a small JSON [VersionRecord]
// holding the manifest's checksum, size, and version. Clients fetch
// the sidecar first and skip the manifest download when the checksum
// matches their persisted copy.
package manifest
