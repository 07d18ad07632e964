// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/operation"
)

type initStep int

const (
	initCheckCache initStep = iota
	initLoadManifest
	initDone
)

// InitOperation prepares a package: it checks the cache generation
// (host mode) and loads the manifests available without a network.
type InitOperation struct {
	operation.Base
	pipeline *Pipeline
	step     initStep

	// CacheCleared is set when a generation change wiped the cache.
	CacheCleared bool
}

// Initialize returns the operation that prepares the package. A second
// call returns an operation that has already failed with
// ErrAlreadyInitialized.
func (p *Pipeline) Initialize() *InitOperation {
	op := &InitOperation{pipeline: p}
	if p.initialized {
		op.Fail(ErrAlreadyInitialized)
		return op
	}
	if p.params.Mode == ModeOffline {
		op.step = initLoadManifest
	}
	return op
}

// Update performs one step.
func (o *InitOperation) Update() {
	if o.IsDone() {
		return
	}
	o.Start()
	switch o.step {
	case initCheckCache:
		if err := o.checkCache(); err != nil {
			o.Fail(err)
			return
		}
		o.step = initLoadManifest
		o.SetProgress(0.5)

	case initLoadManifest:
		if err := o.loadManifests(); err != nil {
			o.step = initDone
			o.Fail(err)
			return
		}
		o.step = initDone
		o.pipeline.initialized = true
		o.pipeline.logger.Info("package initialized",
			"mode", o.pipeline.params.Mode,
			"version", o.pipeline.ResourceVersion(),
		)
		o.Succeed()
	}
}

// checkCache compares the persisted cache generation with the running
// application version.
func (o *InitOperation) checkCache() error {
	p := o.pipeline
	recordPath := p.dir.RecordPath()
	record, found, err := cache.LoadRecord(recordPath)
	if err != nil {
		// An unreadable record is treated like a generation change.
		p.logger.Warn("cache record unreadable", "path", recordPath, "error", err)
	}
	if found && record.AppVersion == p.params.AppVersion {
		return nil
	}
	if !found && err == nil {
		p.logger.Info("creating cache record", "app_version", p.params.AppVersion)
		return o.saveRecord(recordPath)
	}

	p.logger.Warn("cache is dirty",
		"cache_app_version", record.AppVersion,
		"app_version", p.params.AppVersion,
	)
	if p.params.ClearCacheWhenDirty {
		p.logger.Warn("clearing cache files")
		if err := p.dir.ClearAll(); err != nil {
			return err
		}
		p.index.ResetAll()
		o.CacheCleared = true
	}
	return o.saveRecord(recordPath)
}

func (o *InitOperation) saveRecord(path string) error {
	if err := cache.SaveRecord(path, cache.Record{AppVersion: o.pipeline.params.AppVersion}); err != nil {
		return fmt.Errorf("updating cache record: %w", err)
	}
	return nil
}

// loadManifests loads the built-in manifest and, in host mode, the
// persisted one. The newer becomes current.
func (o *InitOperation) loadManifests() error {
	p := o.pipeline
	builtinPath := filepath.Join(p.builtinDirectory(), manifest.FileName(p.params.ManifestName))
	builtin, err := p.loadManifestFile(builtinPath)
	switch {
	case err == nil:
		p.builtin = builtin
	case errors.Is(err, os.ErrNotExist) && p.params.Mode == ModeHost:
		p.logger.Debug("no built-in manifest", "path", builtinPath)
	default:
		return fmt.Errorf("loading built-in manifest: %w", err)
	}

	current := builtin
	if p.params.Mode == ModeHost {
		persisted, err := p.loadManifestFile(p.dir.ManifestPath(p.params.PackageName))
		switch {
		case err == nil:
			if current == nil || persisted.Version() >= current.Version() {
				current = persisted
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			p.logger.Warn("ignoring unreadable persisted manifest", "error", err)
		}
	}
	p.current = current
	return nil
}

func (p *Pipeline) loadManifestFile(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.parseManifest(data)
}

func (p *Pipeline) parseManifest(data []byte) (*manifest.Manifest, error) {
	loaded, err := manifest.Load(data)
	if err != nil {
		return nil, err
	}
	if loaded.PackageName() != p.params.PackageName {
		return nil, fmt.Errorf("%w: manifest is for package %q, want %q",
			manifest.ErrMalformed, loaded.PackageName(), p.params.PackageName)
	}
	return loaded, nil
}
