// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/patch"
	"github.com/bureau-foundation/assetpatch/lib/payload"
	"github.com/bureau-foundation/assetpatch/lib/resource"
)

// PackageOptions configures one package.
type PackageOptions struct {
	Name string
	Mode patch.PlayMode

	// ManifestName names the published manifest. Empty means Name.
	ManifestName string

	Source fetch.Source

	// ClearCacheWhenDirty wipes the sandbox cache when the
	// application version changed since it was populated.
	ClearCacheWhenDirty bool

	// Decryptor opens encrypted units. Loading one without a
	// decryptor fails with payload.ErrNoDecryptor.
	Decryptor payload.Decryptor

	// Instantiator turns loaded bytes into objects. Nil keeps the
	// bytes.
	Instantiator resource.Instantiator

	// MaxLoading overrides Options.MaxLoading.
	MaxLoading int
}

// Package is one registered resource package.
type Package struct {
	registry       *Registry
	name           string
	pipeline       *patch.Pipeline
	system         *resource.System
	initialization *patch.InitOperation
	logger         *slog.Logger
}

func newPackage(r *Registry, options PackageOptions) *Package {
	logger := r.logger.With("package", options.Name)
	pipeline := patch.NewPipeline(r.dir, r.index, patch.Params{
		PackageName:         options.Name,
		Mode:                options.Mode,
		ManifestName:        options.ManifestName,
		BuiltinRoot:         r.options.BuiltinRoot,
		AppVersion:          r.options.AppVersion,
		ClearCacheWhenDirty: options.ClearCacheWhenDirty,
		Source:              options.Source,
		Getter:              r.options.Getter,
		Selector:            r.selector,
		VerifyWorkers:       r.options.VerifyWorkers,
		Download:            r.options.Download,
		Clock:               r.options.Clock,
		Logger:              r.logger,
	})
	maxLoading := options.MaxLoading
	if maxLoading <= 0 {
		maxLoading = r.options.MaxLoading
	}
	p := &Package{
		registry: r,
		name:     options.Name,
		pipeline: pipeline,
		logger:   logger,
	}
	p.system = resource.NewSystem(resource.Config{
		PackageName: options.Name,
		Services: &bundleServices{
			pipeline: pipeline,
			decoder:  payload.Decoder{Decryptor: options.Decryptor},
		},
		MaxLoading:   maxLoading,
		Instantiator: options.Instantiator,
		Resolver:     r,
		Pump:         r.pump,
		Logger:       r.logger,
	})
	return p
}

// Name returns the package name.
func (p *Package) Name() string { return p.name }

// Mode returns the play mode.
func (p *Package) Mode() patch.PlayMode { return p.pipeline.Mode() }

// Initialized reports whether initialization succeeded.
func (p *Package) Initialized() bool { return p.pipeline.Initialized() }

// InitializeAsync checks the cache generation and loads the built-in
// and persisted manifests. A second call returns an operation that has
// already failed with patch.ErrAlreadyInitialized.
func (p *Package) InitializeAsync() *patch.InitOperation {
	op := p.pipeline.Initialize()
	if p.initialization == nil {
		p.initialization = op
	}
	p.registry.Begin(op)
	return op
}

// UpdateManifestAsync brings the manifest up to date with the remote
// host and reconciles the cache. timeout bounds each request; zero
// uses the download default.
func (p *Package) UpdateManifestAsync(timeout time.Duration) *patch.ManifestOperation {
	op := p.pipeline.UpdateManifest("", timeout)
	p.registry.Begin(op)
	return op
}

// VerifyCacheAsync reconciles the cache against the current manifest
// without contacting a host.
func (p *Package) VerifyCacheAsync() *patch.ManifestOperation {
	op := p.pipeline.VerifyCache()
	p.registry.Begin(op)
	return op
}

// Manifest returns the current manifest, nil before initialization.
func (p *Package) Manifest() *manifest.Manifest { return p.pipeline.Manifest() }

// ResourceVersion returns the current manifest version.
func (p *Package) ResourceVersion() int { return p.pipeline.ResourceVersion() }

// CreateDownloader prepares a download of every unit not yet valid.
func (p *Package) CreateDownloader(options patch.DownloadOptions) (*Downloader, error) {
	op, err := p.pipeline.CreateDownloader(options)
	if err != nil {
		return nil, err
	}
	return p.downloader(op), nil
}

// CreateDownloaderByTags prepares a download of the units carrying
// any of tags.
func (p *Package) CreateDownloaderByTags(tags []string, options patch.DownloadOptions) (*Downloader, error) {
	op, err := p.pipeline.CreateDownloaderByTags(tags, options)
	if err != nil {
		return nil, err
	}
	return p.downloader(op), nil
}

// CreateBundleDownloader prepares a download of what loading the
// resources at locations needs.
func (p *Package) CreateBundleDownloader(locations []string, options patch.DownloadOptions) (*Downloader, error) {
	op, err := p.pipeline.CreateBundleDownloader(locations, options)
	if err != nil {
		return nil, err
	}
	return p.downloader(op), nil
}

func (p *Package) downloader(op *fetch.Operation) *Downloader {
	return &Downloader{Operation: op, registry: p.registry}
}

// IsNeedDownloadFromRemote reports whether loading location would
// download anything.
func (p *Package) IsNeedDownloadFromRemote(location string) (bool, error) {
	return p.pipeline.NeedsDownload(location)
}

// AssetInfos returns the entries carrying any of tags, or every entry
// when tags is empty.
func (p *Package) AssetInfos(tags []string) []manifest.ResourceEntry {
	current := p.pipeline.Manifest()
	if current == nil {
		return nil
	}
	if len(tags) == 0 {
		return current.Entries()
	}
	return current.EntriesByTags(tags)
}

// locate resolves location against the current manifest.
func (p *Package) locate(location string) (manifest.ResourceEntry, error) {
	current := p.pipeline.Manifest()
	if current == nil {
		return manifest.ResourceEntry{}, patch.ErrNotInitialized
	}
	return current.Locate(location)
}

// LoadAssetAsync starts loading the resource at location. An unknown
// location yields a handle that has already failed.
func (p *Package) LoadAssetAsync(location string) *resource.Handle {
	entry, err := p.locate(location)
	if err != nil {
		return p.system.LoadInvalid(err)
	}
	return p.system.LoadAsset(entry)
}

// LoadAssetSync loads the resource at location on the calling
// goroutine. The handle is returned even on failure and must be
// released.
func (p *Package) LoadAssetSync(ctx context.Context, location string) (*resource.Handle, error) {
	handle := p.LoadAssetAsync(location)
	return handle, p.wait(ctx, handle)
}

// LoadSubAssetsAsync is LoadAssetAsync for every object in the
// resource.
func (p *Package) LoadSubAssetsAsync(location string) *resource.Handle {
	entry, err := p.locate(location)
	if err != nil {
		return p.system.LoadInvalid(err)
	}
	return p.system.LoadSubAssets(entry)
}

// LoadSubAssetsSync is LoadAssetSync for every object in the resource.
func (p *Package) LoadSubAssetsSync(ctx context.Context, location string) (*resource.Handle, error) {
	handle := p.LoadSubAssetsAsync(location)
	return handle, p.wait(ctx, handle)
}

func (p *Package) wait(ctx context.Context, handle *resource.Handle) error {
	if err := handle.WaitForAsyncComplete(ctx); err != nil {
		return err
	}
	return handle.Err()
}

// LoadSceneAsync starts loading the scene at location.
func (p *Package) LoadSceneAsync(location string, options resource.SceneOptions) *resource.SceneHandle {
	entry, err := p.locate(location)
	if err != nil {
		return p.system.LoadInvalidScene(err)
	}
	return p.system.LoadScene(entry, options)
}

// GetRawFileAsync makes the raw file at location available locally,
// copying it to copyPath when set.
func (p *Package) GetRawFileAsync(location, copyPath string) *patch.RawFileOperation {
	op := p.pipeline.GetRawFile(location, copyPath)
	p.registry.Begin(op)
	return op
}

// UnloadUnusedAssets frees every resource no handle refers to.
func (p *Package) UnloadUnusedAssets() {
	p.system.CollectUnused()
}

// ForceUnloadAllAssets frees every resource. Outstanding handles
// become invalid.
func (p *Package) ForceUnloadAllAssets() {
	p.logger.Info("force unloading all resources")
	p.system.ForceUnloadAll()
}

// ClearUnusedCacheFiles removes cached files the current manifest no
// longer references.
func (p *Package) ClearUnusedCacheFiles() ([]string, error) {
	return p.pipeline.ClearUnusedCacheFiles()
}

// ClearAllCacheFiles removes every cached file of the package.
func (p *Package) ClearAllCacheFiles() error {
	return p.pipeline.ClearAllCacheFiles()
}

// Stats returns a snapshot of the package's loaders and providers.
func (p *Package) Stats() resource.Stats {
	return p.system.Stats()
}

// Downloader is a download that has not necessarily started.
type Downloader struct {
	*fetch.Operation
	registry *Registry
	begun    bool
}

// BeginDownload schedules the download on the registry's tick. Later
// calls do nothing.
func (d *Downloader) BeginDownload() {
	if d.begun {
		return
	}
	d.begun = true
	d.registry.Begin(d.Operation)
}
