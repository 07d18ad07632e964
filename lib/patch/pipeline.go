// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/clock"
	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

var (
	// ErrNotInitialized reports use of a package before its
	// initialization succeeded.
	ErrNotInitialized = errors.New("package is not initialized")

	// ErrAlreadyInitialized reports a second Initialize call.
	ErrAlreadyInitialized = errors.New("package is already initialized")

	// ErrNotRawFile reports a raw file request for a resource whose
	// owning unit is not a raw file.
	ErrNotRawFile = errors.New("resource is not stored as a raw file")

	// ErrNoManifest reports a host-mode package that has neither a
	// persisted nor a built-in manifest and has not been updated.
	ErrNoManifest = errors.New("no manifest has been loaded")
)

// PlayMode selects where a package's content comes from.
type PlayMode int

const (
	// ModeHost patches from remote hosts and caches downloads.
	ModeHost PlayMode = iota

	// ModeOffline uses only the content shipped with the application.
	ModeOffline
)

// String returns the configuration spelling.
func (m PlayMode) String() string {
	switch m {
	case ModeHost:
		return "host"
	case ModeOffline:
		return "offline"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParsePlayMode parses "host" or "offline". Empty means host.
func ParsePlayMode(value string) (PlayMode, error) {
	switch value {
	case "", "host":
		return ModeHost, nil
	case "offline":
		return ModeOffline, nil
	default:
		return 0, fmt.Errorf("unknown play mode %q (want host or offline)", value)
	}
}

// Limits on remote metadata sizes.
const (
	maxVersionRecordBytes = 64 << 10
	maxManifestBytes      = 256 << 20
)

// DefaultManifestAttempts is the number of requests made for each
// metadata file, alternating hosts.
const DefaultManifestAttempts = 2

// Params configures a Pipeline.
type Params struct {
	PackageName string
	Mode        PlayMode

	// ManifestName names the published manifest files. Empty means
	// PackageName.
	ManifestName string

	// BuiltinRoot holds <package>/<manifest>.manifest and the
	// built-in unit files.
	BuiltinRoot string

	// AppVersion identifies the running application build for cache
	// generation checks.
	AppVersion string

	// ClearCacheWhenDirty wipes the cache when the application
	// version changed since the cache was populated.
	ClearCacheWhenDirty bool

	Source fetch.Source
	Getter fetch.Getter

	// Selector is shared by every request when set. Nil gives each
	// operation its own.
	Selector *fetch.HostSelector

	// VerifyWorkers bounds cache verification. Zero means
	// cache.DefaultWorkers(8).
	VerifyWorkers int

	// ManifestAttempts is the number of requests per metadata file.
	ManifestAttempts int

	// Download holds defaults for downloaders and on-demand unit
	// fetches.
	Download DownloadOptions

	// Clock times cache reconciliation. Nil means clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Pipeline holds the manifests and cache state of one package. It is
// owned by the tick goroutine.
type Pipeline struct {
	params Params
	dir    *cache.Dir
	index  *cache.Index
	logger *slog.Logger

	initialized bool
	builtin     *manifest.Manifest
	current     *manifest.Manifest
}

// NewPipeline returns a pipeline for one package. dir and index are
// shared with the other packages of the sandbox.
func NewPipeline(dir *cache.Dir, index *cache.Index, params Params) *Pipeline {
	if params.ManifestName == "" {
		params.ManifestName = params.PackageName
	}
	if params.VerifyWorkers <= 0 {
		params.VerifyWorkers = cache.DefaultWorkers(8)
	}
	if params.ManifestAttempts <= 0 {
		params.ManifestAttempts = DefaultManifestAttempts
	}
	if params.Getter == nil {
		params.Getter = fetch.NewHTTPGetter()
	}
	if params.Clock == nil {
		params.Clock = clock.Real()
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Pipeline{
		params: params,
		dir:    dir,
		index:  index,
		logger: params.Logger.With("package", params.PackageName),
	}
}

// PackageName returns the package name.
func (p *Pipeline) PackageName() string { return p.params.PackageName }

// Mode returns the play mode.
func (p *Pipeline) Mode() PlayMode { return p.params.Mode }

// Initialized reports whether Initialize succeeded.
func (p *Pipeline) Initialized() bool { return p.initialized }

// Manifest returns the current manifest, nil before initialization.
func (p *Pipeline) Manifest() *manifest.Manifest { return p.current }

// BuiltinManifest returns the manifest shipped with the application,
// nil when there is none.
func (p *Pipeline) BuiltinManifest() *manifest.Manifest { return p.builtin }

// ResourceVersion returns the current manifest version, 0 before
// initialization.
func (p *Pipeline) ResourceVersion() int {
	if p.current == nil {
		return 0
	}
	return p.current.Version()
}

func (p *Pipeline) builtinDirectory() string {
	return filepath.Join(p.params.BuiltinRoot, p.params.PackageName)
}

// isBuiltin reports whether the application ships unit with the same
// content hash.
func (p *Pipeline) isBuiltin(unit manifest.ContentUnit) bool {
	if p.builtin == nil {
		return false
	}
	shipped, ok := p.builtin.Unit(unit.ID)
	return ok && shipped.IsBuiltin && shipped.Hash == unit.Hash
}

// IsValid reports whether unit can be read without downloading.
func (p *Pipeline) IsValid(unit manifest.ContentUnit) bool {
	return p.isBuiltin(unit) || p.index.Contains(p.params.PackageName, unit.CacheName())
}

// Locate returns where a unit's bytes are. remote is true when the
// unit is neither built-in nor verified in the cache; the returned
// path is then its cache destination.
func (p *Pipeline) Locate(unit manifest.ContentUnit) (path string, remote bool) {
	if p.isBuiltin(unit) || p.params.Mode == ModeOffline {
		return filepath.Join(p.builtinDirectory(), unit.CacheName()), false
	}
	path = p.dir.UnitPath(p.params.PackageName, unit)
	return path, !p.index.Contains(p.params.PackageName, unit.CacheName())
}

// NeedsDownload reports whether loading the resource at location would
// fetch anything from a remote host.
func (p *Pipeline) NeedsDownload(location string) (bool, error) {
	units, err := p.unitsFor([]string{location})
	if err != nil {
		return false, err
	}
	for _, unit := range units {
		if _, remote := p.Locate(unit); remote {
			return true, nil
		}
	}
	return false, nil
}

// unitsFor returns the owning and same-package dependency units of
// every location, deduplicated.
func (p *Pipeline) unitsFor(locations []string) ([]manifest.ContentUnit, error) {
	if p.current == nil {
		return nil, ErrNotInitialized
	}
	seen := make(map[string]struct{})
	var units []manifest.ContentUnit
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		if unit, ok := p.current.Unit(id); ok {
			units = append(units, unit)
		}
	}
	for _, location := range locations {
		entry, err := p.current.Locate(location)
		if err != nil {
			return nil, err
		}
		add(entry.OwnerUnitID)
		dependencies, err := p.current.DependenciesOf(entry.SourcePath)
		if err != nil {
			return nil, err
		}
		for _, id := range dependencies {
			add(id)
		}
	}
	return units, nil
}

// ClearUnusedCacheFiles removes cached files the current manifest no
// longer references.
func (p *Pipeline) ClearUnusedCacheFiles() ([]string, error) {
	if p.current == nil {
		return nil, ErrNotInitialized
	}
	removed, err := p.dir.ClearUnused(p.params.PackageName, p.current)
	for _, name := range removed {
		p.index.Forget(p.params.PackageName, name)
	}
	if len(removed) > 0 {
		p.logger.Info("removed unused cache files", "count", len(removed))
	}
	return removed, err
}

// ClearAllCacheFiles removes every cached file of the package.
func (p *Pipeline) ClearAllCacheFiles() error {
	p.index.Reset(p.params.PackageName)
	if err := p.dir.ClearPackage(p.params.PackageName); err != nil {
		return err
	}
	p.logger.Info("cleared package cache")
	return nil
}

// downloadTimeout returns the per-request timeout for metadata.
func (p *Pipeline) downloadTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if p.params.Download.Timeout > 0 {
		return p.params.Download.Timeout
	}
	return fetch.DefaultTimeout
}

func (p *Pipeline) selector() *fetch.HostSelector {
	if p.params.Selector != nil {
		return p.params.Selector
	}
	return &fetch.HostSelector{}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
