// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/clock"
	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/operation"
	"github.com/bureau-foundation/assetpatch/lib/patch"
	"github.com/bureau-foundation/assetpatch/lib/payload"
	"github.com/bureau-foundation/assetpatch/lib/publish"
	"github.com/bureau-foundation/assetpatch/lib/resource"
	"github.com/bureau-foundation/assetpatch/lib/testutil"
)

var (
	dataA = bytes.Repeat([]byte("a"), 100)
	dataB = bytes.Repeat([]byte("b"), 50)
)

func abRelease(t *testing.T) *publish.Release {
	t.Helper()
	release, err := publish.Build(1, "game", nil,
		[]publish.Unit{
			{ID: "A", Data: dataA, Compression: payload.CompressionLZ4},
			{ID: "B", Data: dataB},
		},
		[]publish.Asset{
			{Address: "thing", SourcePath: "assets/thing.prefab", Tags: []string{"level"}, Owner: "A", Dependencies: []string{"B"}},
			{Address: "other", SourcePath: "assets/other.prefab", Owner: "B"},
		},
	)
	if err != nil {
		t.Fatalf("publish.Build: %v", err)
	}
	return release
}

func newRegistry(t *testing.T, options Options) *Registry {
	t.Helper()
	if options.SandboxRoot == "" {
		options.SandboxRoot = t.TempDir()
	}
	if options.AppVersion == "" {
		options.AppVersion = "1.0"
	}
	registry, err := NewRegistry(options)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })
	return registry
}

type finishable interface {
	IsDone() bool
	Err() error
}

// tickUntil ticks registry until op finishes.
func tickUntil(t *testing.T, registry *Registry, op finishable) error {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !op.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("operation did not finish")
		}
		registry.Tick()
		time.Sleep(time.Millisecond)
	}
	return op.Err()
}

func mustTick(t *testing.T, registry *Registry, op finishable) {
	t.Helper()
	if err := tickUntil(t, registry, op); err != nil {
		t.Fatalf("operation failed: %v", err)
	}
}

// readyPackage registers "game" against host and brings its manifest
// up to date.
func readyPackage(t *testing.T, registry *Registry, host *testutil.Host, options PackageOptions) *Package {
	t.Helper()
	options.Name = "game"
	options.Source = fetch.Source{Primary: host.URL}
	game, err := registry.Register(options)
	if err != nil {
		t.Fatal(err)
	}
	mustTick(t, registry, game.InitializeAsync())
	mustTick(t, registry, game.UpdateManifestAsync(0))
	return game
}

func TestDownloadThenLoadWithCachedDependency(t *testing.T) {
	host := testutil.NewHost(t)
	release := abRelease(t)
	if err := release.WriteHost(host.Directory, "game"); err != nil {
		t.Fatal(err)
	}
	registry := newRegistry(t, Options{})
	unitB := release.Unit("B")
	if err := cache.WriteFileAtomic(registry.Dir().UnitPath("game", unitB), release.Files[unitB.CacheName()]); err != nil {
		t.Fatal(err)
	}

	game := readyPackage(t, registry, host, PackageOptions{})
	downloader, err := game.CreateDownloader(patch.DownloadOptions{MaxConcurrent: 2, MaxRetries: 3})
	if err != nil {
		t.Fatal(err)
	}
	if downloader.ItemCount() != 1 {
		t.Fatalf("items = %d, want 1", downloader.ItemCount())
	}
	downloader.BeginDownload()
	downloader.BeginDownload()
	mustTick(t, registry, downloader)
	if downloader.Progress() != 1 {
		t.Errorf("progress = %v, want 1", downloader.Progress())
	}
	if host.Requests(unitB.CacheName()) != 0 {
		t.Error("cached B was requested")
	}

	needs, err := game.IsNeedDownloadFromRemote("thing")
	if err != nil || needs {
		t.Errorf("IsNeedDownloadFromRemote = %v, %v", needs, err)
	}
	handle, err := game.LoadAssetSync(context.Background(), "thing")
	if err != nil {
		t.Fatalf("LoadAssetSync: %v", err)
	}
	asset, err := handle.Asset()
	if err != nil || !bytes.Equal(asset.([]byte), dataA) {
		t.Errorf("asset = %q, %v", asset, err)
	}
	requests := host.Total()

	if err := handle.Release(); err != nil {
		t.Fatal(err)
	}
	game.UnloadUnusedAssets()
	stats := game.Stats()
	if len(stats.Providers) != 0 || len(stats.Loaders) != 0 {
		t.Errorf("resources still resident after unload: %+v", stats)
	}

	// Reloading reads from the cache without touching the host.
	handle, err = game.LoadAssetSync(context.Background(), "thing")
	if err != nil {
		t.Fatal(err)
	}
	handle.Release()
	if host.Total() != requests {
		t.Errorf("reload made %d requests", host.Total()-requests)
	}
}

func TestLoadDownloadsOnDemand(t *testing.T) {
	host := testutil.NewHost(t)
	release := abRelease(t)
	release.WriteHost(host.Directory, "game")
	registry := newRegistry(t, Options{})
	game := readyPackage(t, registry, host, PackageOptions{})

	first := game.LoadAssetAsync("thing")
	second := game.LoadAssetAsync("assets/thing.prefab")
	mustTick(t, registry, first)
	testutil.RequireClosed(t, second.Done(), time.Second, "second handle shares the load")

	firstGUID, _ := first.GUID()
	secondGUID, _ := second.GUID()
	if firstGUID != secondGUID {
		t.Errorf("address and source path loads did not share a provider: %s, %s", firstGUID, secondGUID)
	}
	for _, id := range []string{"A", "B"} {
		if got := host.Requests(release.Unit(id).CacheName()); got != 1 {
			t.Errorf("unit %s requested %d times, want 1", id, got)
		}
	}
	first.Release()
	second.Release()
}

func TestUnknownLocation(t *testing.T) {
	host := testutil.NewHost(t)
	abRelease(t).WriteHost(host.Directory, "game")
	registry := newRegistry(t, Options{})
	game := readyPackage(t, registry, host, PackageOptions{})

	handle := game.LoadAssetAsync("missing")
	if !handle.IsDone() || !errors.Is(handle.Err(), manifest.ErrNotFound) {
		t.Errorf("handle: done=%v err=%v, want ErrNotFound", handle.IsDone(), handle.Err())
	}
	if err := handle.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}

	scene := game.LoadSceneAsync("missing", resource.SceneOptions{})
	if !errors.Is(scene.Err(), manifest.ErrNotFound) {
		t.Errorf("scene err = %v", scene.Err())
	}
	if err := scene.Unload(); err != nil {
		t.Errorf("Unload of a failed scene: %v", err)
	}

	if _, err := game.LoadAssetSync(context.Background(), "missing"); !errors.Is(err, manifest.ErrNotFound) {
		t.Errorf("LoadAssetSync = %v", err)
	}
}

func TestLoadBeforeInitialize(t *testing.T) {
	registry := newRegistry(t, Options{})
	game, err := registry.Register(PackageOptions{Name: "game"})
	if err != nil {
		t.Fatal(err)
	}
	handle := game.LoadAssetAsync("thing")
	if !errors.Is(handle.Err(), patch.ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", handle.Err())
	}
	if _, err := game.CreateDownloader(patch.DownloadOptions{}); !errors.Is(err, patch.ErrNotInitialized) {
		t.Errorf("CreateDownloader = %v", err)
	}
}

func TestRegistryPackages(t *testing.T) {
	registry := newRegistry(t, Options{})
	if _, err := registry.Register(PackageOptions{Name: "game"}); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register(PackageOptions{Name: "game"}); !errors.Is(err, ErrPackageExists) {
		t.Errorf("duplicate Register = %v", err)
	}
	if _, err := registry.Package("nope"); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("Package(nope) = %v", err)
	}
	if _, _, err := registry.Resolve("nope"); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("Resolve(nope) = %v", err)
	}
	if len(registry.Packages()) != 1 {
		t.Errorf("packages = %d", len(registry.Packages()))
	}
}

func TestCrossPackageDependency(t *testing.T) {
	builtin := t.TempDir()
	shared, err := publish.Build(1, "shared", nil,
		[]publish.Unit{{ID: "common", Data: []byte("shared bytes"), Builtin: true}},
		[]publish.Asset{{Address: "common", SourcePath: "shared/common", Owner: "common"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := shared.WriteBuiltin(builtin, "shared"); err != nil {
		t.Fatal(err)
	}

	host := testutil.NewHost(t)
	game, err := publish.Build(1, "game", nil,
		[]publish.Unit{{ID: "level", Data: []byte("level bytes")}},
		[]publish.Asset{{Address: "level", SourcePath: "assets/level", Owner: "level", Dependencies: []string{"shared@common"}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	game.WriteHost(host.Directory, "game")

	registry := newRegistry(t, Options{BuiltinRoot: builtin})
	sharedPackage, err := registry.Register(PackageOptions{Name: "shared", Mode: patch.ModeOffline})
	if err != nil {
		t.Fatal(err)
	}
	gamePackage := readyPackage(t, registry, host, PackageOptions{})

	// shared was never initialized; the dependent load does it.
	handle := gamePackage.LoadAssetAsync("level")
	mustTick(t, registry, handle)
	if !sharedPackage.Initialized() {
		t.Error("shared package not initialized by the dependent load")
	}
	loader, ok := sharedPackage.system.Loader("common")
	if !ok || string(loader.Payload()) != "shared bytes" {
		t.Fatalf("shared loader = %v, %v", loader, ok)
	}
	if loader.RefCount() != 1 {
		t.Errorf("shared loader refs = %d, want 1", loader.RefCount())
	}

	handle.Release()
	gamePackage.UnloadUnusedAssets()
	if loader.RefCount() != 0 {
		t.Errorf("shared loader refs after unload = %d, want 0", loader.RefCount())
	}
	sharedPackage.UnloadUnusedAssets()
	if _, ok := sharedPackage.system.Loader("common"); ok {
		t.Error("shared loader survived collection")
	}
}

func TestCrossPackageSyncLoad(t *testing.T) {
	builtin := t.TempDir()
	shared, err := publish.Build(1, "shared", nil,
		[]publish.Unit{{ID: "common", Data: []byte("shared bytes"), Builtin: true}},
		nil,
	)
	if err != nil {
		t.Fatalf("publish.Build shared: %v", err)
	}
	if err := shared.WriteBuiltin(builtin, "shared"); err != nil {
		t.Fatal(err)
	}
	game, err := publish.Build(1, "game", nil,
		[]publish.Unit{{ID: "level", Data: []byte("level bytes"), Builtin: true}},
		[]publish.Asset{{Address: "level", SourcePath: "assets/level", Owner: "level", Dependencies: []string{"shared@common"}}},
	)
	if err != nil {
		t.Fatalf("publish.Build game: %v", err)
	}
	if err := game.WriteBuiltin(builtin, "game"); err != nil {
		t.Fatal(err)
	}

	registry := newRegistry(t, Options{BuiltinRoot: builtin})
	if _, err := registry.Register(PackageOptions{Name: "shared", Mode: patch.ModeOffline}); err != nil {
		t.Fatal(err)
	}
	gamePackage, err := registry.Register(PackageOptions{Name: "game", Mode: patch.ModeOffline})
	if err != nil {
		t.Fatal(err)
	}
	mustTick(t, registry, gamePackage.InitializeAsync())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	handle, err := gamePackage.LoadAssetSync(ctx, "level")
	if err != nil {
		t.Fatalf("LoadAssetSync: %v", err)
	}
	asset, _ := handle.Asset()
	if string(asset.([]byte)) != "level bytes" {
		t.Errorf("asset = %q", asset)
	}
}

func TestCrossPackageDependencyWithoutManifest(t *testing.T) {
	host := testutil.NewHost(t)
	game, err := publish.Build(1, "game", nil,
		[]publish.Unit{{ID: "level", Data: []byte("level bytes")}},
		[]publish.Asset{{Address: "level", SourcePath: "assets/level", Owner: "level", Dependencies: []string{"shared@common"}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := game.WriteHost(host.Directory, "game"); err != nil {
		t.Fatal(err)
	}

	registry := newRegistry(t, Options{BuiltinRoot: t.TempDir()})
	// shared has no shipped or cached manifest, so it initializes
	// without one.
	sharedPackage, err := registry.Register(PackageOptions{
		Name:   "shared",
		Source: fetch.Source{Primary: host.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	gamePackage := readyPackage(t, registry, host, PackageOptions{})

	handle := gamePackage.LoadAssetAsync("level")
	if err := tickUntil(t, registry, handle); !errors.Is(err, patch.ErrNoManifest) {
		t.Fatalf("load = %v, want ErrNoManifest", err)
	}
	if !sharedPackage.Initialized() {
		t.Error("shared package not initialized by the dependent load")
	}
	if sharedPackage.Manifest() != nil {
		t.Error("shared package unexpectedly has a manifest")
	}
	handle.Release()
	gamePackage.UnloadUnusedAssets()
}

func TestCrossPackageUnknownPackage(t *testing.T) {
	builtin := t.TempDir()
	game, err := publish.Build(1, "game", nil,
		[]publish.Unit{{ID: "level", Data: []byte("level bytes"), Builtin: true}},
		[]publish.Asset{{Address: "level", SourcePath: "assets/level", Owner: "level", Dependencies: []string{"ghost@unit"}}},
	)
	if err != nil {
		t.Fatalf("publish.Build: %v", err)
	}
	if err := game.WriteBuiltin(builtin, "game"); err != nil {
		t.Fatal(err)
	}

	registry := newRegistry(t, Options{BuiltinRoot: builtin})
	gamePackage, err := registry.Register(PackageOptions{Name: "game", Mode: patch.ModeOffline})
	if err != nil {
		t.Fatal(err)
	}
	mustTick(t, registry, gamePackage.InitializeAsync())

	handle := gamePackage.LoadAssetAsync("level")
	if err := tickUntil(t, registry, handle); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("load = %v, want ErrUnknownPackage", err)
	}
	handle.Release()
}

func TestEncryptedUnit(t *testing.T) {
	key := bytes.Repeat([]byte{9}, payload.KeySize)
	cipher, err := payload.NewUnitCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	host := testutil.NewHost(t)
	release, err := publish.Build(1, "game", nil,
		[]publish.Unit{{ID: "secret", Data: []byte("classified"), Compression: payload.CompressionZstd, Cipher: cipher}},
		[]publish.Asset{{Address: "secret", SourcePath: "assets/secret", Owner: "secret"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	release.WriteHost(host.Directory, "game")

	t.Run("without key", func(t *testing.T) {
		registry := newRegistry(t, Options{})
		game := readyPackage(t, registry, host, PackageOptions{})
		handle := game.LoadAssetAsync("secret")
		if err := tickUntil(t, registry, handle); !errors.Is(err, payload.ErrNoDecryptor) {
			t.Errorf("load = %v, want ErrNoDecryptor", err)
		}
	})
	t.Run("with key", func(t *testing.T) {
		registry := newRegistry(t, Options{})
		game := readyPackage(t, registry, host, PackageOptions{Decryptor: cipher})
		handle := game.LoadAssetAsync("secret")
		mustTick(t, registry, handle)
		asset, _ := handle.Asset()
		if string(asset.([]byte)) != "classified" {
			t.Errorf("asset = %q", asset)
		}
	})
}

func TestRawFileAndAssetInfos(t *testing.T) {
	host := testutil.NewHost(t)
	release, err := publish.Build(1, "game", nil,
		[]publish.Unit{
			{ID: "video", Data: []byte("frames"), RawFile: true, Tags: []string{"media"}},
			{ID: "level", Data: []byte("level"), Tags: []string{"level"}},
		},
		[]publish.Asset{
			{Address: "intro", SourcePath: "assets/intro.mp4", Tags: []string{"media"}, Owner: "video"},
			{Address: "level", SourcePath: "assets/level", Tags: []string{"level"}, Owner: "level"},
		},
	)
	if err != nil {
		t.Fatalf("publish.Build: %v", err)
	}
	if err := release.WriteHost(host.Directory, "game"); err != nil {
		t.Fatal(err)
	}
	registry := newRegistry(t, Options{})
	game := readyPackage(t, registry, host, PackageOptions{})

	infos := game.AssetInfos([]string{"media"})
	if len(infos) != 1 || infos[0].Address != "intro" {
		t.Errorf("AssetInfos(media) = %+v", infos)
	}
	if len(game.AssetInfos(nil)) != 2 {
		t.Errorf("AssetInfos(nil) = %d entries", len(game.AssetInfos(nil)))
	}

	op := game.GetRawFileAsync("intro", "")
	mustTick(t, registry, op)
	text, err := op.ReadText()
	if err != nil || text != "frames" {
		t.Errorf("ReadText = %q, %v", text, err)
	}

	tagged, err := game.CreateDownloaderByTags([]string{"level"}, patch.DownloadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if tagged.ItemCount() != 1 {
		t.Errorf("level downloader items = %d, want 1", tagged.ItemCount())
	}
	bundle, err := game.CreateBundleDownloader([]string{"intro"}, patch.DownloadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if bundle.ItemCount() != 0 {
		t.Errorf("intro is already cached, bundle items = %d", bundle.ItemCount())
	}
}

func TestScenes(t *testing.T) {
	host := testutil.NewHost(t)
	release, err := publish.Build(1, "game", nil,
		[]publish.Unit{
			{ID: "world", Data: []byte("world")},
			{ID: "hud", Data: []byte("hud")},
		},
		[]publish.Asset{
			{Address: "world", SourcePath: "scenes/world", Owner: "world"},
			{Address: "hud", SourcePath: "scenes/hud", Owner: "hud"},
		},
	)
	if err != nil {
		t.Fatalf("publish.Build: %v", err)
	}
	if err := release.WriteHost(host.Directory, "game"); err != nil {
		t.Fatal(err)
	}
	registry := newRegistry(t, Options{})
	game := readyPackage(t, registry, host, PackageOptions{})

	world := game.LoadSceneAsync("world", resource.SceneOptions{Mode: resource.SceneSingle, ActivateOnLoad: true})
	hud := game.LoadSceneAsync("hud", resource.SceneOptions{Mode: resource.SceneAdditive})
	mustTick(t, registry, &world.Handle)
	mustTick(t, registry, &hud.Handle)

	if !world.IsMainScene() || hud.IsMainScene() {
		t.Error("main scene flags are wrong")
	}
	if err := world.Unload(); !errors.Is(err, resource.ErrMainScene) {
		t.Errorf("unloading the main scene = %v", err)
	}
	if err := hud.Unload(); err != nil {
		t.Fatalf("hud Unload: %v", err)
	}
	if _, ok := game.system.Loader("hud"); ok {
		t.Error("hud loader survived unload")
	}

	// A new single scene replaces the world.
	next := game.LoadSceneAsync("world", resource.SceneOptions{Mode: resource.SceneSingle})
	if world.IsValid() {
		t.Error("previous main scene still valid")
	}
	mustTick(t, registry, &next.Handle)
}

func TestForceUnloadAllAssets(t *testing.T) {
	host := testutil.NewHost(t)
	abRelease(t).WriteHost(host.Directory, "game")
	registry := newRegistry(t, Options{})
	game := readyPackage(t, registry, host, PackageOptions{})

	handle := game.LoadAssetAsync("thing")
	mustTick(t, registry, handle)
	game.ForceUnloadAllAssets()
	if handle.IsValid() {
		t.Error("handle valid after force unload")
	}
	if err := handle.Release(); !errors.Is(err, resource.ErrInvalidHandle) {
		t.Errorf("Release = %v, want ErrInvalidHandle", err)
	}
	if stats := game.Stats(); len(stats.Loaders) != 0 {
		t.Errorf("loaders after force unload: %d", len(stats.Loaders))
	}
}

func TestGlobalAlternationScope(t *testing.T) {
	primary := testutil.NewHost(t)
	fallback := testutil.NewHost(t)
	release := abRelease(t)
	release.WriteHost(primary.Directory, "game")
	release.WriteHost(fallback.Directory, "game")

	registry := newRegistry(t, Options{Scope: fetch.ScopeGlobal})
	game, err := registry.Register(PackageOptions{
		Name:   "game",
		Source: fetch.Source{Primary: primary.URL, Fallback: fallback.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	mustTick(t, registry, game.InitializeAsync())
	// Version record from the primary, manifest from the fallback.
	mustTick(t, registry, game.UpdateManifestAsync(0))
	if primary.Requests("game.version") != 1 || fallback.Requests("game.manifest") != 1 {
		t.Errorf("requests: primary version=%d fallback manifest=%d",
			primary.Requests("game.version"), fallback.Requests("game.manifest"))
	}
	downloader, _ := game.CreateDownloader(patch.DownloadOptions{MaxConcurrent: 1})
	downloader.BeginDownload()
	mustTick(t, registry, downloader)
	// The shared counter continues: the third request goes to the
	// primary, the fourth to the fallback.
	if primary.Requests(release.Unit("A").CacheName()) != 1 || fallback.Requests(release.Unit("B").CacheName()) != 1 {
		t.Errorf("downloads did not continue the shared alternation")
	}
}

// countingOperation finishes after a fixed number of updates.
type countingOperation struct {
	operation.Base
	target  int32
	updates atomic.Int32
}

func (o *countingOperation) Update() {
	o.Start()
	if o.updates.Add(1) >= o.target {
		o.Succeed()
	}
}

func TestRunTicksOnClock(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	registry := newRegistry(t, Options{Clock: fake})
	op := &countingOperation{target: 3}
	registry.Begin(op)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- registry.Run(ctx, time.Second) }()

	fake.WaitForTimers(1)
	for i := range int32(3) {
		fake.Advance(time.Second)
		// Let Run consume the tick before the next one is dropped.
		deadline := time.Now().Add(5 * time.Second)
		for op.updates.Load() <= i && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	testutil.RequireClosed(t, op.Done(), 5*time.Second, "operation finished by Run")

	cancel()
	if err := testutil.RequireReceive(t, finished, 5*time.Second, "Run returned"); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if registry.Pending() != 0 {
		t.Errorf("pending = %d", registry.Pending())
	}
}
