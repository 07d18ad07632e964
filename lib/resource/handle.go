// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"errors"
)

var (
	// ErrHandleReleased reports use of a handle after Release.
	ErrHandleReleased = errors.New("handle already released")

	// ErrInvalidHandle reports a handle whose provider no longer
	// exists, for example after ForceUnloadAll.
	ErrInvalidHandle = errors.New("handle refers to an unloaded resource")

	// ErrMainScene reports an attempt to unload the scene loaded in
	// single mode. Load another single scene to replace it.
	ErrMainScene = errors.New("cannot unload the main scene")

	// ErrNoManifest reports a loader request against a package that
	// has not loaded a manifest yet.
	ErrNoManifest = errors.New("package has no manifest")
)

var closedChannel = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Handle is a caller's reference to a loaded resource. It holds only
// the system and the provider serial.
type Handle struct {
	system   *System
	serial   uint64
	released bool
}

func (h *Handle) provider() (*Provider, error) {
	if h.released {
		return nil, ErrHandleReleased
	}
	provider, ok := h.system.providerSerials[h.serial]
	if !ok {
		return nil, ErrInvalidHandle
	}
	return provider, nil
}

// IsValid reports whether the handle is unreleased and its provider
// still exists.
func (h *Handle) IsValid() bool {
	_, err := h.provider()
	return err == nil
}

// Status returns the provider status, or ProviderNone for an unusable
// handle.
func (h *Handle) Status() ProviderStatus {
	provider, err := h.provider()
	if err != nil {
		return ProviderNone
	}
	return provider.status
}

// IsDone reports whether the load finished. An unusable handle is
// done.
func (h *Handle) IsDone() bool {
	provider, err := h.provider()
	return err != nil || provider.IsDone()
}

// Progress returns the load progress in [0, 1].
func (h *Handle) Progress() float64 {
	provider, err := h.provider()
	if err != nil {
		return 0
	}
	return provider.Progress()
}

// Err returns a usage error for an unusable handle, otherwise the load
// error, nil while loading or after success.
func (h *Handle) Err() error {
	provider, err := h.provider()
	if err != nil {
		return err
	}
	return provider.err
}

// GUID returns the provider identity.
func (h *Handle) GUID() (string, error) {
	provider, err := h.provider()
	if err != nil {
		return "", err
	}
	return provider.guid, nil
}

// Asset returns the loaded object. It is nil until the load succeeds.
func (h *Handle) Asset() (any, error) {
	provider, err := h.provider()
	if err != nil {
		return nil, err
	}
	return provider.asset, nil
}

// SubAssets returns the loaded sub-objects.
func (h *Handle) SubAssets() ([]any, error) {
	provider, err := h.provider()
	if err != nil {
		return nil, err
	}
	return provider.subAssets, nil
}

// Done returns a channel closed when the load finishes. The channel of
// an unusable handle is already closed.
func (h *Handle) Done() <-chan struct{} {
	provider, err := h.provider()
	if err != nil {
		return closedChannel
	}
	return provider.done
}

// OnComplete runs f when the load finishes, immediately if it already
// has. Callbacks run on the tick goroutine.
func (h *Handle) OnComplete(f func(*Handle)) error {
	provider, err := h.provider()
	if err != nil {
		return err
	}
	if provider.IsDone() {
		f(h)
		return nil
	}
	provider.callbacks = append(provider.callbacks, func() { f(h) })
	return nil
}

// WaitForAsyncComplete finishes the load on the calling goroutine
// instead of waiting for ticks.
func (h *Handle) WaitForAsyncComplete(ctx context.Context) error {
	provider, err := h.provider()
	if err != nil {
		return err
	}
	if provider.IsDone() {
		return nil
	}
	return provider.waitForSyncComplete(ctx)
}

// Release drops the handle's reference. The provider keeps loading if
// other handles or dependents need it; its memory is reclaimed by
// CollectUnused.
func (h *Handle) Release() error {
	provider, err := h.provider()
	if err != nil {
		h.released = true
		return err
	}
	h.released = true
	provider.refCount--
	return nil
}

// SceneHandle is a Handle to a scene load.
type SceneHandle struct {
	Handle
	guid string
}

// Scene returns the instantiated scene.
func (h *SceneHandle) Scene() (any, error) {
	return h.Asset()
}

// IsMainScene reports whether the scene was loaded in single mode.
func (h *SceneHandle) IsMainScene() bool {
	provider, err := h.provider()
	if err != nil {
		return false
	}
	return provider.scene.Mode == SceneSingle
}

// Unload releases an additive scene and collects what it used.
func (h *SceneHandle) Unload() error {
	provider, err := h.provider()
	if err != nil {
		return err
	}
	if provider.scene.Mode == SceneSingle {
		return ErrMainScene
	}
	h.system.unloadScene(h)
	return nil
}
