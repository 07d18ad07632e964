// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/patch"
	"github.com/bureau-foundation/assetpatch/lib/payload"
	"github.com/bureau-foundation/assetpatch/lib/resource"
)

// bundleServices gives a package's resource system access to its
// pipeline.
type bundleServices struct {
	pipeline *patch.Pipeline
	decoder  payload.Decoder
}

func (s *bundleServices) Manifest() *manifest.Manifest {
	return s.pipeline.Manifest()
}

func (s *bundleServices) Locate(unit manifest.ContentUnit) (string, bool) {
	return s.pipeline.Locate(unit)
}

func (s *bundleServices) Download(unit manifest.ContentUnit) resource.Download {
	return s.pipeline.DownloadUnit(unit)
}

func (s *bundleServices) Decode(unit manifest.ContentUnit, data []byte) ([]byte, error) {
	return s.decoder.Decode(unit, data)
}
