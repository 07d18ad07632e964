// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package assets is the runtime surface for versioned resource
// packages.
//
// A [Registry] owns every [Package] of one sandbox: the cache
// directory, the verified-file index, and the host selector shared by
// downloads when alternation is global. Each Package pairs a
// [patch.Pipeline] (manifests, cache reconciliation, downloads) with a
// [resource.System] (loaders, providers, handles).
//
// Nothing runs in the background. The application calls
// [Registry.Tick] from one goroutine, or hands that goroutine to
// [Registry.Run]. Every asynchronous entry point returns an operation
// that the tick advances, and every method of Registry and Package
// must be called from the ticking goroutine.
//
// Typical start-up:
//
//	registry, err := assets.NewRegistry(assets.Options{SandboxRoot: dir})
//	game, err := registry.Register(assets.PackageOptions{Name: "game", Source: source})
//	init := game.InitializeAsync()
//	// tick until init is done, then:
//	update := game.UpdateManifestAsync(0)
//	// tick until update is done, then:
//	downloader, err := game.CreateDownloader(patch.DownloadOptions{})
//	downloader.BeginDownload()
package assets
