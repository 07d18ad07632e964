// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/assetpatch/cmd/bureau-assets/cli"
	"github.com/bureau-foundation/assetpatch/lib/assets"
	"github.com/bureau-foundation/assetpatch/lib/clock"
	"github.com/bureau-foundation/assetpatch/lib/config"
	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/patch"
	"github.com/bureau-foundation/assetpatch/lib/payload"
)

// sessionFlags are accepted by every command that opens the sandbox.
type sessionFlags struct {
	configPath string
	verbose    bool
}

func (f *sessionFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "path to the sandbox config (default $"+config.EnvironmentVariable+")")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log per-file events")
}

// session is an open sandbox with one registered package.
type session struct {
	config   *config.Config
	registry *assets.Registry
	pkg      *assets.Package
	clock    clock.Clock
	tick     time.Duration
	logger   *slog.Logger
}

type finishable interface {
	IsDone() bool
	Err() error
}

// openSession loads the config, locks the sandbox, and registers the
// package called name. Close the session when done.
func openSession(flags sessionFlags, command, name string) (*session, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	packageConfig, ok := cfg.Package(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not in the config", assets.ErrUnknownPackage, name)
	}

	timeout, err := cfg.Download.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	tick, err := cfg.Loading.TickDuration()
	if err != nil {
		return nil, err
	}
	if tick <= 0 {
		tick = 16 * time.Millisecond
	}
	scope, err := fetch.ParseScope(cfg.Download.AlternationScope)
	if err != nil {
		return nil, err
	}
	options, err := packageOptions(packageConfig)
	if err != nil {
		return nil, err
	}

	logger := cli.NewCommandLogger(flags.verbose).With("command", command, "package", name)
	registry, err := assets.NewRegistry(assets.Options{
		SandboxRoot: cfg.Paths.Sandbox,
		BuiltinRoot: cfg.Paths.Builtin,
		AppVersion:  cfg.AppVersion,
		Scope:       scope,
		Download: patch.DownloadOptions{
			MaxConcurrent: cfg.Download.MaxConcurrent,
			MaxRetries:    cfg.Download.MaxRetries,
			Timeout:       timeout,
		},
		VerifyWorkers: cfg.Download.VerifyWorkers,
		MaxLoading:    cfg.Loading.MaxConcurrent,
		Lock:          true,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	pkg, err := registry.Register(options)
	if err != nil {
		registry.Close()
		return nil, err
	}
	return &session{
		config:   cfg,
		registry: registry,
		pkg:      pkg,
		clock:    clock.Real(),
		tick:     tick,
		logger:   logger,
	}, nil
}

// packageOptions translates one configured package.
func packageOptions(pkg config.PackageConfig) (assets.PackageOptions, error) {
	mode, err := patch.ParsePlayMode(pkg.Mode)
	if err != nil {
		return assets.PackageOptions{}, fmt.Errorf("package %q: %w", pkg.Name, err)
	}
	options := assets.PackageOptions{
		Name:                pkg.Name,
		Mode:                mode,
		ManifestName:        pkg.ManifestName,
		Source:              fetch.Source{Primary: pkg.Primary, Fallback: pkg.Fallback},
		ClearCacheWhenDirty: pkg.ClearCacheWhenDirty,
	}
	switch pkg.KeyKind {
	case "", "xchacha":
		if pkg.KeyFile == "" {
			break
		}
		unitCipher, err := payload.LoadUnitCipher(pkg.KeyFile)
		if err != nil {
			return assets.PackageOptions{}, fmt.Errorf("package %q: %w", pkg.Name, err)
		}
		options.Decryptor = unitCipher
	case "age":
		decryptor, err := payload.LoadAgeDecryptor(pkg.KeyFile)
		if err != nil {
			return assets.PackageOptions{}, fmt.Errorf("package %q: %w", pkg.Name, err)
		}
		options.Decryptor = decryptor
	default:
		return assets.PackageOptions{}, fmt.Errorf("package %q: unknown key kind %q", pkg.Name, pkg.KeyKind)
	}
	return options, nil
}

// Close releases the sandbox lock.
func (s *session) Close() error {
	return s.registry.Close()
}

// initialize brings the package's manifest into memory.
func (s *session) initialize(ctx context.Context) error {
	if err := s.drive(ctx, s.pkg.InitializeAsync(), nil); err != nil {
		return fmt.Errorf("initializing %s: %w", s.pkg.Name(), err)
	}
	return nil
}

// reconcile verifies the cached files of the current manifest so
// loads and status queries see them as valid. It does nothing when the
// package has no manifest.
func (s *session) reconcile(ctx context.Context) error {
	if s.pkg.Manifest() == nil {
		return nil
	}
	if err := s.drive(ctx, s.pkg.VerifyCacheAsync(), nil); err != nil {
		return fmt.Errorf("verifying cache: %w", err)
	}
	return nil
}

// drive ticks the registry until op finishes or ctx is done. report,
// when set, runs after every tick.
func (s *session) drive(ctx context.Context, op finishable, report func()) error {
	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		s.registry.Tick()
		if report != nil {
			report()
		}
		if op.IsDone() {
			return op.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
