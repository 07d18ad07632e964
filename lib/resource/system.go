// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// DefaultMaxLoading bounds the non-scene providers advanced per tick.
const DefaultMaxLoading = 10

// Config configures a System.
type Config struct {
	PackageName string

	// Services is required.
	Services BundleServices

	// MaxLoading is the number of unfinished non-scene providers
	// advanced per tick. Zero means DefaultMaxLoading.
	MaxLoading int

	// Instantiator defaults to RawInstantiator.
	Instantiator Instantiator

	// Resolver finds the systems of other packages for cross-package
	// dependencies. Without one, such dependencies fail.
	Resolver Resolver

	// Pump advances every package once. Synchronous loads call it
	// while a cross-package dependency is still resolving.
	Pump func()

	Logger *slog.Logger
}

// System owns the loader and provider tables of one package.
type System struct {
	packageName  string
	services     BundleServices
	maxLoading   int
	instantiator Instantiator
	resolver     Resolver
	pump         func()
	logger       *slog.Logger

	serial uint64

	loaders     map[string]*Loader
	loaderOrder []*Loader

	providers       map[string]*Provider
	providerSerials map[uint64]*Provider
	providerOrder   []*Provider

	sceneCount   int
	sceneHandles []*SceneHandle
}

// NewSystem returns an empty System.
func NewSystem(config Config) *System {
	if config.Services == nil {
		panic("resource: Config.Services is nil")
	}
	if config.MaxLoading <= 0 {
		config.MaxLoading = DefaultMaxLoading
	}
	if config.Instantiator == nil {
		config.Instantiator = RawInstantiator{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &System{
		packageName:     config.PackageName,
		services:        config.Services,
		maxLoading:      config.MaxLoading,
		instantiator:    config.Instantiator,
		resolver:        config.Resolver,
		pump:            config.Pump,
		logger:          config.Logger,
		loaders:         make(map[string]*Loader),
		providers:       make(map[string]*Provider),
		providerSerials: make(map[uint64]*Provider),
	}
}

// PackageName returns the name of the package this system serves.
func (s *System) PackageName() string { return s.packageName }

func (s *System) nextSerial() uint64 {
	s.serial++
	return s.serial
}

// LoadAsset returns a handle to the resource, sharing the provider of
// any earlier load that has not been collected.
func (s *System) LoadAsset(entry manifest.ResourceEntry) *Handle {
	return s.load(KindAsset, entry)
}

// LoadSubAssets is LoadAsset for every object in the resource.
func (s *System) LoadSubAssets(entry manifest.ResourceEntry) *Handle {
	return s.load(KindSubAssets, entry)
}

func (s *System) load(kind Kind, entry manifest.ResourceEntry) *Handle {
	guid := kinds[kind].name + ":" + entry.SourcePath
	provider, ok := s.providers[guid]
	if !ok {
		provider = s.newProvider(kind, guid, entry, SceneOptions{})
		s.providers[guid] = provider
	}
	return s.createHandle(provider)
}

// LoadScene always starts a new scene load. Single mode first releases
// every tracked scene handle and collects unused resources.
func (s *System) LoadScene(entry manifest.ResourceEntry, options SceneOptions) *SceneHandle {
	if options.Mode == SceneSingle {
		s.unloadAllScenes()
	}
	s.sceneCount++
	guid := kinds[KindScene].name + ":" + entry.SourcePath + "-" + strconv.Itoa(s.sceneCount)
	provider := s.newProvider(KindScene, guid, entry, options)
	handle := &SceneHandle{Handle: *s.createHandle(provider), guid: guid}
	s.sceneHandles = append(s.sceneHandles, handle)
	return handle
}

// LoadInvalid returns a handle that has already failed with err. It
// stands in for requests that name no resource.
func (s *System) LoadInvalid(err error) *Handle {
	return s.createHandle(s.newCompleted(err, SceneOptions{}))
}

// LoadInvalidScene is LoadInvalid for scene requests. The handle is
// not a main scene and may be unloaded.
func (s *System) LoadInvalidScene(err error) *SceneHandle {
	provider := s.newCompleted(err, SceneOptions{Mode: SceneAdditive})
	return &SceneHandle{Handle: *s.createHandle(provider), guid: provider.guid}
}

func (s *System) newCompleted(err error, options SceneOptions) *Provider {
	provider := &Provider{
		kind:   KindCompleted,
		serial: s.nextSerial(),
		system: s,
		scene:  options,
		done:   make(chan struct{}),
	}
	provider.guid = kinds[KindCompleted].name + ":" + strconv.FormatUint(provider.serial, 10)
	s.track(provider)
	provider.finish(err)
	return provider
}

func (s *System) createHandle(provider *Provider) *Handle {
	provider.refCount++
	return &Handle{system: s, serial: provider.serial}
}

func (s *System) track(provider *Provider) {
	s.providerSerials[provider.serial] = provider
	s.providerOrder = append(s.providerOrder, provider)
}

func (s *System) newProvider(kind Kind, guid string, entry manifest.ResourceEntry, options SceneOptions) *Provider {
	provider := &Provider{
		kind:   kind,
		guid:   guid,
		serial: s.nextSerial(),
		system: s,
		entry:  entry,
		scene:  options,
		group:  &Group{},
		done:   make(chan struct{}),
	}
	s.track(provider)

	owner, err := s.acquireLoader(entry.OwnerUnitID)
	if err != nil {
		provider.finish(fmt.Errorf("resource %s: %w", entry.SourcePath, err))
		return provider
	}
	owner.owners[provider.serial] = struct{}{}
	provider.owner = loaderKey{system: s, name: owner.Name(), serial: owner.serial}

	local, cross := s.splitDependencies(entry.DependencyUnitIDs)
	group, err := s.AcquireGroup(local)
	if err != nil {
		provider.finish(fmt.Errorf("resource %s: %w", entry.SourcePath, err))
		return provider
	}
	provider.group = group
	if len(cross) > 0 {
		provider.cross = newCrossGroup(s.resolver, cross)
	}
	s.logger.Debug("provider created",
		"package", s.packageName,
		"provider", guid,
		"dependencies", len(local),
		"cross_dependencies", len(cross),
	)
	return provider
}

// splitDependencies separates same-package unit ids from
// "package@unit" ids. A cross id naming this package is local.
func (s *System) splitDependencies(ids []string) (local, cross []string) {
	for _, id := range ids {
		packageName, unitID, ok := manifest.SplitCrossPackageID(id)
		switch {
		case !ok:
			local = append(local, id)
		case packageName == s.packageName:
			local = append(local, unitID)
		default:
			cross = append(cross, id)
		}
	}
	return local, cross
}

// AcquireGroup returns a group holding one reference on the loader of
// each unit, creating loaders as needed. On error nothing stays
// referenced.
func (s *System) AcquireGroup(unitIDs []string) (*Group, error) {
	group := &Group{members: make([]loaderKey, 0, len(unitIDs))}
	for _, id := range unitIDs {
		loader, err := s.acquireLoader(id)
		if err != nil {
			group.Release()
			return nil, err
		}
		group.members = append(group.members, loaderKey{system: s, name: loader.Name(), serial: loader.serial})
	}
	return group, nil
}

func (s *System) acquireLoader(unitID string) (*Loader, error) {
	current := s.services.Manifest()
	if current == nil {
		return nil, fmt.Errorf("%w: cannot load %q in package %q", ErrNoManifest, unitID, s.packageName)
	}
	unit, ok := current.Unit(unitID)
	if !ok {
		return nil, fmt.Errorf("%w: %q in package %q", manifest.ErrUnknownUnit, unitID, s.packageName)
	}
	loader, ok := s.loaders[unit.CacheName()]
	if !ok {
		loader = newLoader(unit, s.nextSerial(), s.services, s.logger)
		s.loaders[unit.CacheName()] = loader
		s.loaderOrder = append(s.loaderOrder, loader)
	}
	loader.Reference()
	return loader, nil
}

// Tick advances every loader, every scene provider, and at most
// MaxLoading unfinished non-scene providers in creation order.
func (s *System) Tick() {
	for _, loader := range s.loaderOrder {
		if !loader.IsDone() {
			loader.Update()
		}
	}

	loading := 0
	for _, provider := range s.providerOrder {
		if provider.kind == KindScene {
			provider.Update()
			continue
		}
		if provider.IsDone() {
			continue
		}
		if loading < s.maxLoading {
			provider.Update()
		}
		if !provider.IsDone() {
			loading++
		}
	}
}

// CollectUnused destroys finished providers without handles, then
// frees loaders that are unreferenced and own no provider.
func (s *System) CollectUnused() {
	kept := s.providerOrder[:0]
	for _, provider := range s.providerOrder {
		if provider.IsDone() && provider.refCount <= 0 {
			s.destroyProvider(provider)
			continue
		}
		kept = append(kept, provider)
	}
	clear(s.providerOrder[len(kept):])
	s.providerOrder = kept

	remaining := s.loaderOrder[:0]
	for _, loader := range s.loaderOrder {
		if loader.collectable() {
			delete(s.loaders, loader.Name())
			s.logger.Debug("content unit unloaded", "package", s.packageName, "unit", loader.unit.ID)
			continue
		}
		remaining = append(remaining, loader)
	}
	clear(s.loaderOrder[len(remaining):])
	s.loaderOrder = remaining
}

func (s *System) destroyProvider(provider *Provider) {
	provider.Destroy()
	delete(s.providerSerials, provider.serial)
	if s.providers[provider.guid] == provider {
		delete(s.providers, provider.guid)
	}
}

// ForceUnloadAll destroys every provider and loader regardless of
// references. Outstanding handles become invalid.
func (s *System) ForceUnloadAll() {
	for _, provider := range s.providerOrder {
		provider.Destroy()
	}
	s.providerOrder = nil
	clear(s.providers)
	clear(s.providerSerials)
	s.sceneHandles = nil

	s.loaderOrder = nil
	clear(s.loaders)
	s.logger.Info("all resources force unloaded", "package", s.packageName)
}

func (s *System) unloadAllScenes() {
	for _, handle := range s.sceneHandles {
		handle.Release()
	}
	s.sceneHandles = nil
	s.CollectUnused()
}

func (s *System) unloadScene(target *SceneHandle) {
	for i, handle := range s.sceneHandles {
		if handle == target {
			s.sceneHandles = append(s.sceneHandles[:i], s.sceneHandles[i+1:]...)
			break
		}
	}
	target.Release()
	s.CollectUnused()
}

// LoaderStats describes one loader.
type LoaderStats struct {
	Unit     string
	Name     string
	RefCount int
	Owners   int
	Status   LoaderStatus
}

// ProviderStats describes one provider.
type ProviderStats struct {
	GUID     string
	Kind     Kind
	RefCount int
	Status   ProviderStatus
	Progress float64
}

// Stats is a snapshot of a System's tables.
type Stats struct {
	Loaders   []LoaderStats
	Providers []ProviderStats
}

// Stats returns the tables in creation order.
func (s *System) Stats() Stats {
	var stats Stats
	for _, loader := range s.loaderOrder {
		stats.Loaders = append(stats.Loaders, LoaderStats{
			Unit:     loader.unit.ID,
			Name:     loader.Name(),
			RefCount: loader.refCount,
			Owners:   len(loader.owners),
			Status:   loader.status,
		})
	}
	for _, provider := range s.providerOrder {
		stats.Providers = append(stats.Providers, ProviderStats{
			GUID:     provider.guid,
			Kind:     provider.kind,
			RefCount: provider.refCount,
			Status:   provider.status,
			Progress: provider.Progress(),
		})
	}
	return stats
}

// Loader returns the live loader for a unit of the current manifest.
func (s *System) Loader(unitID string) (*Loader, bool) {
	current := s.services.Manifest()
	if current == nil {
		return nil, false
	}
	unit, ok := current.Unit(unitID)
	if !ok {
		return nil, false
	}
	loader, ok := s.loaders[unit.CacheName()]
	return loader, ok
}
