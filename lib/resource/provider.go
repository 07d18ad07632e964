// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// Kind selects what a Provider produces.
type Kind int

const (
	KindAsset Kind = iota
	KindSubAssets
	KindScene

	// KindCompleted providers stand for requests that could not be
	// resolved. They are born failed and own nothing.
	KindCompleted
)

// String returns the kind name used in provider identities and logs.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kinds) {
		return kinds[k].name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ProviderStatus is the lifecycle state of a Provider.
type ProviderStatus int

const (
	ProviderNone ProviderStatus = iota
	ProviderLoading
	ProviderChecking
	ProviderSuccess
	ProviderFail
)

// String returns the lowercase status name.
func (s ProviderStatus) String() string {
	switch s {
	case ProviderNone:
		return "none"
	case ProviderLoading:
		return "loading"
	case ProviderChecking:
		return "checking"
	case ProviderSuccess:
		return "success"
	case ProviderFail:
		return "fail"
	default:
		return fmt.Sprintf("provider_status(%d)", int(s))
	}
}

// SceneMode says whether a scene replaces the loaded scenes.
type SceneMode int

const (
	// SceneSingle releases every tracked scene before loading.
	SceneSingle SceneMode = iota
	// SceneAdditive loads beside the current scenes.
	SceneAdditive
)

// SceneOptions are passed through to the Instantiator.
type SceneOptions struct {
	Mode           SceneMode
	ActivateOnLoad bool
	Priority       int
}

// Payload is what an Instantiator receives for a loaded resource.
type Payload struct {
	Entry manifest.ResourceEntry
	Unit  manifest.ContentUnit
	Data  []byte

	// Path is the local file the owning unit was read from.
	Path string
}

// Instantiator builds usable objects from loaded bytes.
type Instantiator interface {
	Asset(payload Payload) (any, error)
	SubAssets(payload Payload) ([]any, error)
	Scene(payload Payload, options SceneOptions) (any, error)
}

// RawInstantiator returns payload bytes as the object. It is the
// default when a System has no Instantiator.
type RawInstantiator struct{}

// Asset returns payload.Data.
func (RawInstantiator) Asset(payload Payload) (any, error) { return payload.Data, nil }

// SubAssets returns payload.Data as the only sub-object.
func (RawInstantiator) SubAssets(payload Payload) ([]any, error) {
	return []any{payload.Data}, nil
}

// Scene returns the payload itself.
func (RawInstantiator) Scene(payload Payload, _ SceneOptions) (any, error) { return payload, nil }

// kindBehavior is the per-kind half of a Provider.
type kindBehavior struct {
	name        string
	update      func(*Provider)
	instantiate func(*Provider, Payload) error
	destroy     func(*Provider)
}

// kinds is filled in init because its functions refer back to it.
var kinds [KindCompleted + 1]kindBehavior

func init() {
	kinds = [...]kindBehavior{
		KindAsset: {
			name:   "asset",
			update: updateBundled,
			instantiate: func(p *Provider, payload Payload) error {
				object, err := p.system.instantiator.Asset(payload)
				p.asset = object
				return err
			},
			destroy: destroyBundled,
		},
		KindSubAssets: {
			name:   "sub",
			update: updateBundled,
			instantiate: func(p *Provider, payload Payload) error {
				objects, err := p.system.instantiator.SubAssets(payload)
				p.subAssets = objects
				return err
			},
			destroy: destroyBundled,
		},
		KindScene: {
			name:   "scene",
			update: updateBundled,
			instantiate: func(p *Provider, payload Payload) error {
				object, err := p.system.instantiator.Scene(payload, p.scene)
				p.asset = object
				return err
			},
			destroy: destroyBundled,
		},
		KindCompleted: {
			name:    "completed",
			update:  func(*Provider) {},
			destroy: func(*Provider) {},
		},
	}
}

// Provider produces one object and tracks the loaders it needs.
type Provider struct {
	kind   Kind
	guid   string
	serial uint64
	system *System
	entry  manifest.ResourceEntry
	scene  SceneOptions

	owner loaderKey
	group *Group
	cross *CrossGroup

	status    ProviderStatus
	err       error
	progress  float64
	asset     any
	subAssets []any

	refCount  int
	done      chan struct{}
	callbacks []func()
	destroyed bool
}

// GUID returns the provider identity. Non-scene identities are shared
// by every load of the same resource.
func (p *Provider) GUID() string { return p.guid }

// Kind returns what the provider produces.
func (p *Provider) Kind() Kind { return p.kind }

// Status returns the current status.
func (p *Provider) Status() ProviderStatus { return p.status }

// Err returns the failure cause.
func (p *Provider) Err() error { return p.err }

// IsDone reports whether the provider reached Success or Fail.
func (p *Provider) IsDone() bool { return p.status == ProviderSuccess || p.status == ProviderFail }

// RefCount returns the number of live handles.
func (p *Provider) RefCount() int { return p.refCount }

// Update advances the provider by one step.
func (p *Provider) Update() {
	if p.IsDone() || p.destroyed {
		return
	}
	kinds[p.kind].update(p)
}

// Destroy releases everything the provider acquired. Only the first
// call has an effect.
func (p *Provider) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	kinds[p.kind].destroy(p)
}

// Progress returns the fraction of member loaders that are terminal.
func (p *Provider) Progress() float64 {
	if p.IsDone() {
		return 1
	}
	done, total := 0, 1
	if owner := p.owner.lookup(); owner == nil || owner.IsDone() {
		done++
	}
	if p.group != nil {
		done += p.group.done()
		total += p.group.Len()
	}
	if p.cross != nil {
		crossDone, crossTotal := p.cross.counts()
		done += crossDone
		total += crossTotal
	}
	p.progress = max(p.progress, float64(done)/float64(total))
	return p.progress
}

func updateBundled(p *Provider) {
	switch p.status {
	case ProviderNone:
		p.status = ProviderLoading

	case ProviderLoading:
		owner := p.owner.lookup()
		if owner == nil {
			p.finish(fmt.Errorf("owning unit %s was unloaded", p.owner.name))
			return
		}
		if p.cross != nil {
			p.cross.Update()
		}
		if !owner.IsDone() || !p.group.IsDone() || (p.cross != nil && !p.cross.IsDone()) {
			return
		}
		p.status = ProviderChecking

	case ProviderChecking:
		owner := p.owner.lookup()
		if owner == nil {
			p.finish(fmt.Errorf("owning unit %s was unloaded", p.owner.name))
			return
		}
		if owner.status != LoaderSucceed {
			p.finish(owner.err)
			return
		}
		if err := p.group.Err(); err != nil {
			p.finish(err)
			return
		}
		if p.cross != nil {
			if err := p.cross.Err(); err != nil {
				p.finish(err)
				return
			}
		}
		payload := Payload{
			Entry: p.entry,
			Unit:  owner.unit,
			Data:  owner.payload,
			Path:  owner.path,
		}
		if err := kinds[p.kind].instantiate(p, payload); err != nil {
			p.finish(fmt.Errorf("instantiating %s: %w", p.entry.SourcePath, err))
			return
		}
		p.finish(nil)
	}
}

func destroyBundled(p *Provider) {
	if owner := p.owner.lookup(); owner != nil {
		delete(owner.owners, p.serial)
		owner.Release()
	}
	if p.group != nil {
		p.group.Release()
	}
	if p.cross != nil {
		p.cross.Release()
	}
}

// waitForSyncComplete drives the provider's loaders to a terminal
// state and then steps the provider until it finishes.
func (p *Provider) waitForSyncComplete(ctx context.Context) error {
	if p.cross != nil {
		if err := p.cross.WaitForSyncComplete(ctx, p.system.pump); err != nil && ctx.Err() != nil {
			return err
		} else if err != nil {
			p.finish(err)
			return nil
		}
	}
	if owner := p.owner.lookup(); owner != nil {
		if err := owner.WaitForSyncComplete(ctx); err != nil {
			return err
		}
	}
	if p.group != nil {
		if err := p.group.WaitForSyncComplete(ctx); err != nil {
			return err
		}
	}
	for !p.IsDone() && !p.destroyed {
		p.Update()
	}
	return nil
}

func (p *Provider) finish(err error) {
	if err != nil {
		p.status = ProviderFail
		p.err = err
		p.system.logger.Warn("resource failed to load",
			"package", p.system.packageName,
			"provider", p.guid,
			"error", err,
		)
	} else {
		p.status = ProviderSuccess
		p.system.logger.Debug("resource loaded", "package", p.system.packageName, "provider", p.guid)
	}
	p.progress = 1
	close(p.done)
	callbacks := p.callbacks
	p.callbacks = nil
	for _, callback := range callbacks {
		callback()
	}
}
