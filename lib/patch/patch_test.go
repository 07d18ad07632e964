// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/assetpatch/lib/cache"
	"github.com/bureau-foundation/assetpatch/lib/clock"
	"github.com/bureau-foundation/assetpatch/lib/fetch"
	"github.com/bureau-foundation/assetpatch/lib/manifest"
	"github.com/bureau-foundation/assetpatch/lib/operation"
	"github.com/bureau-foundation/assetpatch/lib/payload"
	"github.com/bureau-foundation/assetpatch/lib/publish"
	"github.com/bureau-foundation/assetpatch/lib/testutil"
)

func publishTo(t *testing.T, host *testutil.Host, release *publish.Release) {
	t.Helper()
	if err := release.WriteHost(host.Directory, "game"); err != nil {
		t.Fatal(err)
	}
}

func gameRelease(t *testing.T, version int, levelData string) *publish.Release {
	t.Helper()
	release, err := publish.Build(version, "game", []string{"base"},
		[]publish.Unit{
			{ID: "core", Data: bytes.Repeat([]byte("core"), 64), Tags: []string{"base"}, Builtin: true, Compression: payload.CompressionZstd},
			{ID: "level", Data: []byte(levelData), Tags: []string{"level"}},
			{ID: "audio", Data: bytes.Repeat([]byte{7}, 50), Tags: []string{"audio"}},
			{ID: "intro", Data: []byte("intro video"), RawFile: true},
		},
		[]publish.Asset{
			{Address: "hero", SourcePath: "assets/hero.prefab", Owner: "level", Dependencies: []string{"core", "audio"}},
			{Address: "music", SourcePath: "assets/music.ogg", Owner: "audio"},
			{Address: "intro", SourcePath: "assets/intro.mp4", Owner: "intro"},
		},
	)
	if err != nil {
		t.Fatalf("publish.Build: %v", err)
	}
	return release
}

type fixture struct {
	host    *testutil.Host
	sandbox string
	builtin string
	dir     *cache.Dir
	index   *cache.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sandbox := t.TempDir()
	dir, err := cache.NewDir(sandbox)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		host:    testutil.NewHost(t),
		sandbox: sandbox,
		builtin: t.TempDir(),
		dir:     dir,
		index:   cache.NewIndex(),
	}
}

func (f *fixture) pipeline(mode PlayMode) *Pipeline {
	return NewPipeline(f.dir, f.index, Params{
		PackageName: "game",
		Mode:        mode,
		BuiltinRoot: f.builtin,
		AppVersion:  "1.0",
		Source:      fetch.Source{Primary: f.host.URL},
		Download:    DownloadOptions{Timeout: 5 * time.Second},
	})
}

// restart simulates a new process on the same sandbox.
func (f *fixture) restart() {
	f.index = cache.NewIndex()
}

type steppable interface {
	operation.Operation
	Err() error
}

func run(t *testing.T, op steppable) error {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !op.IsDone() {
		if time.Now().After(deadline) {
			t.Fatal("operation did not finish")
		}
		op.Update()
		time.Sleep(time.Millisecond)
	}
	return op.Err()
}

func mustRun(t *testing.T, op steppable) {
	t.Helper()
	if err := run(t, op); err != nil {
		t.Fatalf("operation failed: %v", err)
	}
}

func ready(t *testing.T, f *fixture) *Pipeline {
	t.Helper()
	pipeline := f.pipeline(ModeHost)
	mustRun(t, pipeline.Initialize())
	return pipeline
}

func TestInitializeClearsDirtyCache(t *testing.T) {
	f := newFixture(t)
	if err := cache.SaveRecord(f.dir.RecordPath(), cache.Record{AppVersion: "0.9"}); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(f.dir.PackageDir("game"), "old_abc")
	if err := cache.WriteFileAtomic(stale, []byte("stale")); err != nil {
		t.Fatal(err)
	}
	f.index.Mark("game", "old_abc")

	pipeline := NewPipeline(f.dir, f.index, Params{
		PackageName:         "game",
		AppVersion:          "1.0",
		ClearCacheWhenDirty: true,
		BuiltinRoot:         f.builtin,
	})
	op := pipeline.Initialize()
	mustRun(t, op)

	if !op.CacheCleared {
		t.Error("CacheCleared not reported")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale cache file survived: %v", err)
	}
	listing, _ := os.ReadDir(filepath.Join(f.sandbox, "cache"))
	if len(listing) != 0 {
		t.Errorf("cache directory not empty: %v", listing)
	}
	if f.index.Contains("game", "old_abc") {
		t.Error("index still lists a cleared file")
	}
	record, found, err := cache.LoadRecord(f.dir.RecordPath())
	if err != nil || !found || record.AppVersion != "1.0" {
		t.Errorf("record = %+v found=%v err=%v, want app version 1.0", record, found, err)
	}
}

func TestInitializeKeepsCacheWithoutClearOption(t *testing.T) {
	f := newFixture(t)
	cache.SaveRecord(f.dir.RecordPath(), cache.Record{AppVersion: "0.9"})
	kept := filepath.Join(f.dir.PackageDir("game"), "old_abc")
	cache.WriteFileAtomic(kept, []byte("kept"))

	op := f.pipeline(ModeHost).Initialize()
	mustRun(t, op)
	if op.CacheCleared {
		t.Error("cache cleared without the option")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("cache file removed: %v", err)
	}
	record, _, _ := cache.LoadRecord(f.dir.RecordPath())
	if record.AppVersion != "1.0" {
		t.Errorf("record app version = %q, want 1.0", record.AppVersion)
	}
}

func TestInitializeTwice(t *testing.T) {
	f := newFixture(t)
	pipeline := ready(t, f)
	if err := run(t, pipeline.Initialize()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize = %v, want ErrAlreadyInitialized", err)
	}
}

func TestOfflineMode(t *testing.T) {
	f := newFixture(t)
	offline := f.pipeline(ModeOffline)
	if err := run(t, offline.Initialize()); err == nil {
		t.Fatal("offline initialization without a built-in manifest should fail")
	}

	release := gameRelease(t, 1, "level one")
	if err := release.WriteBuiltin(f.builtin, "game"); err != nil {
		t.Fatal(err)
	}
	offline = f.pipeline(ModeOffline)
	mustRun(t, offline.Initialize())
	if offline.ResourceVersion() != 1 {
		t.Errorf("version = %d, want 1", offline.ResourceVersion())
	}

	update := offline.UpdateManifest("", 0)
	if !update.IsDone() || update.Err() != nil {
		t.Errorf("offline update: done=%v err=%v", update.IsDone(), update.Err())
	}
	path, remote := offline.Locate(release.Unit("level"))
	if remote || !strings.HasPrefix(path, f.builtin) {
		t.Errorf("Locate = %s remote=%v, want built-in path", path, remote)
	}
	if f.host.Requests("game.version") != 0 {
		t.Error("offline mode contacted the host")
	}
}

func TestUpdateBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	if err := run(t, f.pipeline(ModeHost).UpdateManifest("", 0)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("UpdateManifest = %v, want ErrNotInitialized", err)
	}
}

func TestPipelineIsIdempotent(t *testing.T) {
	f := newFixture(t)
	release := gameRelease(t, 1, "level one")
	publishTo(t, f.host, release)
	release.WriteBuiltin(f.builtin, "game")

	pipeline := ready(t, f)
	update := pipeline.UpdateManifest("", 0)
	mustRun(t, update)
	if !update.FoundNewManifest() {
		t.Error("first update should find a new manifest")
	}
	downloader, err := pipeline.CreateDownloader(DownloadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// core is built-in; level, audio, and intro come from the host.
	if downloader.ItemCount() != 3 {
		t.Fatalf("first download items = %d, want 3", downloader.ItemCount())
	}
	mustRun(t, downloader)
	if downloader.Progress() != 1 {
		t.Errorf("progress = %v, want 1", downloader.Progress())
	}
	if f.host.Requests(release.Unit("core").CacheName()) != 0 {
		t.Error("built-in unit was downloaded")
	}

	// Same process, unchanged host.
	update = pipeline.UpdateManifest("", 0)
	mustRun(t, update)
	if update.FoundNewManifest() {
		t.Error("second update found a new manifest")
	}
	if f.host.Requests("game.manifest") != 1 {
		t.Errorf("manifest fetched %d times, want 1", f.host.Requests("game.manifest"))
	}
	downloader, _ = pipeline.CreateDownloader(DownloadOptions{})
	if downloader.ItemCount() != 0 {
		t.Errorf("second download items = %d, want 0", downloader.ItemCount())
	}

	// New process on the same sandbox: reconciliation re-verifies.
	f.restart()
	restarted := ready(t, f)
	update = restarted.UpdateManifest("", 0)
	mustRun(t, update)
	if update.VerifiedCount() != 3 {
		t.Errorf("verified after restart = %d, want 3", update.VerifiedCount())
	}
	downloader, _ = restarted.CreateDownloader(DownloadOptions{})
	if downloader.ItemCount() != 0 {
		t.Errorf("download items after restart = %d, want 0", downloader.ItemCount())
	}
	if got := f.host.Requests(release.Unit("level").CacheName()); got != 1 {
		t.Errorf("level downloaded %d times, want 1", got)
	}
}

// steppingClock moves a fake clock forward by step on every reading.
type steppingClock struct {
	*clock.FakeClock
	step time.Duration
}

func (c steppingClock) Now() time.Time {
	now := c.FakeClock.Now()
	c.FakeClock.Advance(c.step)
	return now
}

// recordingHandler keeps every log record for inspection.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingHandler() recordingHandler {
	return recordingHandler{mu: new(sync.Mutex), records: new([]slog.Record)}
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, record.Clone())
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h recordingHandler) attr(message, key string) (slog.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, record := range *h.records {
		if record.Message != message {
			continue
		}
		var value slog.Value
		found := false
		record.Attrs(func(attr slog.Attr) bool {
			if attr.Key == key {
				value, found = attr.Value, true
				return false
			}
			return true
		})
		return value, found
	}
	return slog.Value{}, false
}

func TestReconcileTimedByConfiguredClock(t *testing.T) {
	f := newFixture(t)
	publishTo(t, f.host, gameRelease(t, 1, "level one"))

	handler := newRecordingHandler()
	pipeline := NewPipeline(f.dir, f.index, Params{
		PackageName: "game",
		BuiltinRoot: f.builtin,
		AppVersion:  "1.0",
		Source:      fetch.Source{Primary: f.host.URL},
		Clock:       steppingClock{FakeClock: clock.Fake(time.Unix(1_700_000_000, 0)), step: 42 * time.Second},
		Logger:      slog.New(handler),
	})
	mustRun(t, pipeline.Initialize())
	mustRun(t, pipeline.UpdateManifest("", 0))

	elapsed, ok := handler.attr("cache reconciled", "elapsed")
	if !ok {
		t.Fatal("no reconciliation record logged")
	}
	if elapsed.Kind() != slog.KindDuration || elapsed.Duration() != 42*time.Second {
		t.Errorf("elapsed = %v, want 42s from the configured clock", elapsed)
	}
}

func TestDownloaderSkipsValidDependency(t *testing.T) {
	f := newFixture(t)
	release, err := publish.Build(1, "game", nil,
		[]publish.Unit{
			{ID: "A", Data: bytes.Repeat([]byte("a"), 100)},
			{ID: "B", Data: bytes.Repeat([]byte("b"), 50)},
		},
		[]publish.Asset{{Address: "thing", SourcePath: "assets/thing", Owner: "A", Dependencies: []string{"B"}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	publishTo(t, f.host, release)
	unitB := release.Unit("B")
	if err := cache.WriteFileAtomic(f.dir.UnitPath("game", unitB), release.Files[unitB.CacheName()]); err != nil {
		t.Fatal(err)
	}

	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))
	downloader, err := pipeline.CreateDownloader(DownloadOptions{MaxConcurrent: 2, MaxRetries: 3})
	if err != nil {
		t.Fatal(err)
	}
	if downloader.ItemCount() != 1 {
		t.Fatalf("items = %d, want only A", downloader.ItemCount())
	}
	if downloader.TotalBytes() != 150 {
		t.Errorf("total bytes = %d, want 150 (cached B counts toward progress)", downloader.TotalBytes())
	}
	mustRun(t, downloader)
	if downloader.Progress() != 1 {
		t.Errorf("progress = %v, want 1", downloader.Progress())
	}
	if f.host.Requests(unitB.CacheName()) != 0 {
		t.Error("valid cached B was downloaded")
	}
	if f.host.Requests(release.Unit("A").CacheName()) != 1 {
		t.Error("A was not downloaded exactly once")
	}
}

func TestCorruptCacheFileIsRedownloaded(t *testing.T) {
	f := newFixture(t)
	release := gameRelease(t, 1, "level one")
	publishTo(t, f.host, release)

	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))
	downloader, _ := pipeline.CreateDownloader(DownloadOptions{})
	mustRun(t, downloader)

	level := release.Unit("level")
	levelPath := f.dir.UnitPath("game", level)
	if err := os.WriteFile(levelPath, []byte("level onX"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.restart()
	restarted := ready(t, f)
	update := restarted.UpdateManifest("", 0)
	mustRun(t, update)
	if update.FailedCount() != 1 {
		t.Errorf("failed verifications = %d, want 1", update.FailedCount())
	}
	if _, err := os.Stat(levelPath); !os.IsNotExist(err) {
		t.Fatalf("corrupt file not deleted: %v", err)
	}
	if _, remote := restarted.Locate(level); !remote {
		t.Error("corrupt unit still located in cache")
	}

	downloader, _ = restarted.CreateDownloader(DownloadOptions{})
	if downloader.ItemCount() != 1 {
		t.Fatalf("items = %d, want 1", downloader.ItemCount())
	}
	mustRun(t, downloader)
	if !cache.Verify(levelPath, level.Size, level.Checksum) {
		t.Error("re-downloaded file does not verify")
	}
}

func TestVerifyCache(t *testing.T) {
	f := newFixture(t)
	if err := run(t, ready(t, f).VerifyCache()); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("VerifyCache without a manifest = %v, want ErrNoManifest", err)
	}

	release := gameRelease(t, 1, "level one")
	publishTo(t, f.host, release)
	f.restart()
	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))
	downloader, _ := pipeline.CreateDownloader(DownloadOptions{})
	mustRun(t, downloader)
	os.Remove(f.dir.UnitPath("game", release.Unit("audio")))

	f.restart()
	restarted := ready(t, f)
	requests := f.host.Total()
	verify := restarted.VerifyCache()
	mustRun(t, verify)
	// core is not built-in here, so four units were downloaded.
	if verify.VerifiedCount() != 3 || verify.MissingCount() != 1 {
		t.Errorf("verified=%d missing=%d, want 3 and 1", verify.VerifiedCount(), verify.MissingCount())
	}
	if f.host.Total() != requests {
		t.Error("VerifyCache contacted the host")
	}
}

func TestFailedUpdateKeepsPreviousManifest(t *testing.T) {
	f := newFixture(t)
	publishTo(t, f.host, gameRelease(t, 1, "level one"))
	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))
	persisted, _ := f.dir.ReadManifest("game")

	// Version 2's sidecar describes bytes the host does not serve.
	next := gameRelease(t, 2, "level two")
	publishTo(t, f.host, next)
	os.WriteFile(filepath.Join(f.host.Directory, "game.manifest"), []byte("truncated"), 0o644)

	err := run(t, pipeline.UpdateManifest("", 0))
	if !errors.Is(err, manifest.ErrMalformed) {
		t.Fatalf("update = %v, want ErrMalformed", err)
	}
	if pipeline.ResourceVersion() != 1 {
		t.Errorf("version = %d, want 1", pipeline.ResourceVersion())
	}
	after, _ := f.dir.ReadManifest("game")
	if !bytes.Equal(after, persisted) {
		t.Error("persisted manifest changed by a failed update")
	}
}

func TestUpdateFallsBackToSecondHost(t *testing.T) {
	f := newFixture(t)
	fallback := testutil.NewHost(t)
	release := gameRelease(t, 1, "level one")
	publishTo(t, fallback, release)
	f.host.SetDown(true)

	pipeline := NewPipeline(f.dir, f.index, Params{
		PackageName: "game",
		AppVersion:  "1.0",
		BuiltinRoot: f.builtin,
		Source:      fetch.Source{Primary: f.host.URL, Fallback: fallback.URL},
	})
	mustRun(t, pipeline.Initialize())
	mustRun(t, pipeline.UpdateManifest("", 0))
	if pipeline.ResourceVersion() != 1 {
		t.Fatalf("version = %d", pipeline.ResourceVersion())
	}
	if f.host.Requests("game.version") == 0 {
		t.Error("primary was never tried")
	}
	downloader, _ := pipeline.CreateDownloader(DownloadOptions{MaxRetries: 4})
	mustRun(t, downloader)
}

func TestBundleDownloaderSelectsDependencies(t *testing.T) {
	f := newFixture(t)
	release := gameRelease(t, 1, "level one")
	publishTo(t, f.host, release)
	release.WriteBuiltin(f.builtin, "game")
	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))

	needs, err := pipeline.NeedsDownload("hero")
	if err != nil || !needs {
		t.Fatalf("NeedsDownload(hero) = %v, %v", needs, err)
	}
	downloader, err := pipeline.CreateBundleDownloader([]string{"hero"}, DownloadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// level and audio; core ships with the application.
	if downloader.ItemCount() != 2 {
		t.Fatalf("items = %d, want 2", downloader.ItemCount())
	}
	mustRun(t, downloader)
	if needs, _ := pipeline.NeedsDownload("hero"); needs {
		t.Error("hero still needs a download")
	}
	if needs, _ := pipeline.NeedsDownload("intro"); !needs {
		t.Error("intro should still need a download")
	}
	if _, err := pipeline.CreateBundleDownloader([]string{"nope"}, DownloadOptions{}); !errors.Is(err, manifest.ErrNotFound) {
		t.Errorf("unknown location = %v, want ErrNotFound", err)
	}

	tagged, _ := pipeline.CreateDownloaderByTags([]string{"audio"}, DownloadOptions{})
	if tagged.ItemCount() != 0 {
		t.Errorf("audio already downloaded, items = %d", tagged.ItemCount())
	}
}

func TestDownloadUnitAcceptsExistingFile(t *testing.T) {
	f := newFixture(t)
	release := gameRelease(t, 1, "level one")
	publishTo(t, f.host, release)
	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))

	// Written after reconciliation, so only DownloadUnit can see it.
	level := release.Unit("level")
	cache.WriteFileAtomic(f.dir.UnitPath("game", level), release.Files[level.CacheName()])

	download := pipeline.DownloadUnit(level)
	mustRun(t, download)
	if f.host.Requests(level.CacheName()) != 0 {
		t.Error("valid file was downloaded again")
	}
	if _, remote := pipeline.Locate(level); remote {
		t.Error("verified unit still remote")
	}

	audio := release.Unit("audio")
	cache.WriteFileAtomic(f.dir.UnitPath("game", audio), []byte("garbage"))
	download = pipeline.DownloadUnit(audio)
	mustRun(t, download)
	if f.host.Requests(audio.CacheName()) != 1 {
		t.Error("invalid file was not replaced from the host")
	}
}

func TestGetRawFile(t *testing.T) {
	f := newFixture(t)
	publishTo(t, f.host, gameRelease(t, 1, "level one"))
	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))

	copyPath := filepath.Join(t.TempDir(), "copies", "intro.mp4")
	op := pipeline.GetRawFile("intro", copyPath)
	mustRun(t, op)
	text, err := op.ReadText()
	if err != nil || text != "intro video" {
		t.Errorf("ReadText = %q, %v", text, err)
	}
	copied, err := os.ReadFile(copyPath)
	if err != nil || string(copied) != "intro video" {
		t.Errorf("copy = %q, %v", copied, err)
	}

	if err := run(t, pipeline.GetRawFile("hero", "")); !errors.Is(err, ErrNotRawFile) {
		t.Errorf("GetRawFile(hero) = %v, want ErrNotRawFile", err)
	}
}

func TestClearCacheFiles(t *testing.T) {
	f := newFixture(t)
	release := gameRelease(t, 1, "level one")
	publishTo(t, f.host, release)
	pipeline := ready(t, f)
	mustRun(t, pipeline.UpdateManifest("", 0))
	downloader, _ := pipeline.CreateDownloader(DownloadOptions{})
	mustRun(t, downloader)

	orphan := filepath.Join(f.dir.PackageDir("game"), "removed_0000")
	cache.WriteFileAtomic(orphan, []byte("x"))
	removed, err := pipeline.ClearUnusedCacheFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "removed_0000" {
		t.Errorf("removed = %v", removed)
	}

	if err := pipeline.ClearAllCacheFiles(); err != nil {
		t.Fatal(err)
	}
	if _, remote := pipeline.Locate(release.Unit("level")); !remote {
		t.Error("cleared unit still located in cache")
	}
}

func TestParsePlayMode(t *testing.T) {
	for input, want := range map[string]PlayMode{"": ModeHost, "host": ModeHost, "offline": ModeOffline} {
		got, err := ParsePlayMode(input)
		if err != nil || got != want {
			t.Errorf("ParsePlayMode(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParsePlayMode("editor"); err == nil {
		t.Error("ParsePlayMode(editor) should fail")
	}
}
