// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/clock"
	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/operation"
	"github.com/bureau-foundation/assetpatch/lib/patch"
	"github.com/bureau-foundation/assetpatch/lib/resource"
	"github.com/bureau-foundation/assetpatch/lib/version"
)

var (
	// ErrUnknownPackage is returned for a package name that was never
	// registered.
	ErrUnknownPackage = errors.New("unknown package")

	// ErrPackageExists is returned when a name is registered twice.
	ErrPackageExists = errors.New("package already registered")
)

// DefaultPumpInterval is how long a synchronous load waiting on
// another package sleeps between ticks.
const DefaultPumpInterval = time.Millisecond

// Options configures a Registry.
type Options struct {
	// SandboxRoot holds the cache, persisted manifests, and the cache
	// record. Required.
	SandboxRoot string

	// BuiltinRoot holds the manifests and units shipped with the
	// application.
	BuiltinRoot string

	// AppVersion identifies the application build. Empty means
	// version.Short().
	AppVersion string

	// Getter performs remote requests. Nil means an HTTP getter that
	// sends version.UserAgent().
	Getter fetch.Getter

	// Scope selects whether host alternation is shared by every
	// operation or restarts with each one.
	Scope fetch.Scope

	// Download holds default limits for every package.
	Download patch.DownloadOptions

	// VerifyWorkers bounds cache verification per package.
	VerifyWorkers int

	// MaxLoading bounds the non-scene loads each package advances
	// per tick.
	MaxLoading int

	// Lock takes the sandbox's advisory lock for the registry's
	// lifetime.
	Lock bool

	Clock        clock.Clock
	PumpInterval time.Duration
	Logger       *slog.Logger
}

// Registry owns the packages of one sandbox.
type Registry struct {
	options   Options
	dir       *cache.Dir
	index     *cache.Index
	selector  *fetch.HostSelector
	lock      *cache.Lock
	scheduler operation.Scheduler
	logger    *slog.Logger

	packages map[string]*Package
	order    []*Package
}

// NewRegistry opens the sandbox at options.SandboxRoot.
func NewRegistry(options Options) (*Registry, error) {
	if options.SandboxRoot == "" {
		return nil, errors.New("assets: sandbox root is required")
	}
	if options.AppVersion == "" {
		options.AppVersion = version.Short()
	}
	if options.Getter == nil {
		options.Getter = fetch.NewHTTPGetter(fetch.WithUserAgent(version.UserAgent()))
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.PumpInterval <= 0 {
		options.PumpInterval = DefaultPumpInterval
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	dir, err := cache.NewDir(options.SandboxRoot)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		options:  options,
		dir:      dir,
		index:    cache.NewIndex(),
		logger:   options.Logger,
		packages: make(map[string]*Package),
	}
	if options.Scope == fetch.ScopeGlobal {
		r.selector = &fetch.HostSelector{}
	}
	if options.Lock {
		r.lock, err = dir.Lock()
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Close releases the sandbox lock, if held.
func (r *Registry) Close() error {
	if r.lock == nil {
		return nil
	}
	err := r.lock.Release()
	r.lock = nil
	return err
}

// Dir returns the sandbox layout.
func (r *Registry) Dir() *cache.Dir { return r.dir }

// Register creates a package. It does nothing until initialized.
func (r *Registry) Register(options PackageOptions) (*Package, error) {
	if options.Name == "" {
		return nil, errors.New("assets: package name is required")
	}
	if _, exists := r.packages[options.Name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrPackageExists, options.Name)
	}
	p := newPackage(r, options)
	r.packages[options.Name] = p
	r.order = append(r.order, p)
	r.logger.Info("package registered",
		"package", options.Name,
		"mode", options.Mode,
		"primary", options.Source.Primary,
	)
	return p, nil
}

// Package returns the registered package called name.
func (r *Registry) Package(name string) (*Package, error) {
	p, ok := r.packages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, name)
	}
	return p, nil
}

// Packages returns the packages in registration order.
func (r *Registry) Packages() []*Package {
	return append([]*Package(nil), r.order...)
}

// Resolve finds the package that owns cross-package dependencies. A
// package that was never initialized is initialized now; until that
// finishes the package is not ready.
func (r *Registry) Resolve(packageName string) (*resource.System, bool, error) {
	p, err := r.Package(packageName)
	if err != nil {
		return nil, false, err
	}
	if p.pipeline.Initialized() {
		if p.pipeline.Manifest() == nil {
			return nil, false, fmt.Errorf("package %q: %w", packageName, patch.ErrNoManifest)
		}
		return p.system, true, nil
	}
	if p.initialization == nil {
		r.logger.Info("initializing package for a dependent load", "package", packageName)
		p.InitializeAsync()
	}
	if err := p.initialization.Err(); err != nil {
		return nil, false, fmt.Errorf("initializing package %q: %w", packageName, err)
	}
	return nil, false, nil
}

// Tick advances scheduled operations, then every package's loads.
func (r *Registry) Tick() {
	r.scheduler.Tick()
	for _, p := range r.order {
		p.system.Tick()
	}
}

// Run calls Tick every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := r.options.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Begin schedules op on the registry's tick.
func (r *Registry) Begin(op operation.Operation) {
	r.scheduler.Add(op)
}

// Pending returns how many scheduled operations are unfinished.
func (r *Registry) Pending() int { return r.scheduler.Len() }

// pump lets a synchronous load make progress on work owned by other
// packages.
func (r *Registry) pump() {
	r.Tick()
	r.options.Clock.Sleep(r.options.PumpInterval)
}
