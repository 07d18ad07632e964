// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/assetpatch/lib/manifest"
)

// loaderKey finds a loader without holding it. The serial makes a key
// to a freed loader miss a newer loader for the same unit.
type loaderKey struct {
	system *System
	name   string
	serial uint64
}

func (k loaderKey) lookup() *Loader {
	if k.system == nil {
		return nil
	}
	loader, ok := k.system.loaders[k.name]
	if !ok || loader.serial != k.serial {
		return nil
	}
	return loader
}

// Group aggregates the loaders of a set of units. A Group holds one
// reference on each member from acquisition until Release.
type Group struct {
	members  []loaderKey
	released bool
}

// Len returns the number of member loaders.
func (g *Group) Len() int { return len(g.members) }

// IsDone reports whether every member is terminal. An empty group is
// done. A member that no longer exists counts as done.
func (g *Group) IsDone() bool {
	for _, key := range g.members {
		if loader := key.lookup(); loader != nil && !loader.IsDone() {
			return false
		}
	}
	return true
}

// IsSucceed reports whether every member succeeded.
func (g *Group) IsSucceed() bool {
	return g.Err() == nil && g.IsDone()
}

// Err returns the error of the first member that did not succeed.
func (g *Group) Err() error {
	for _, key := range g.members {
		loader := key.lookup()
		if loader == nil {
			return fmt.Errorf("dependency %s was unloaded", key.name)
		}
		if loader.status == LoaderFail {
			return loader.err
		}
	}
	return nil
}

// Reference takes one more reference on every member.
func (g *Group) Reference() {
	for _, key := range g.members {
		if loader := key.lookup(); loader != nil {
			loader.Reference()
		}
	}
}

// Release drops the group's reference on every member. Only the first
// call has an effect.
func (g *Group) Release() {
	if g.released {
		return
	}
	g.released = true
	for _, key := range g.members {
		if loader := key.lookup(); loader != nil {
			loader.Release()
		}
	}
}

// WaitForSyncComplete drives every member to a terminal state.
func (g *Group) WaitForSyncComplete(ctx context.Context) error {
	for _, key := range g.members {
		loader := key.lookup()
		if loader == nil {
			continue
		}
		if err := loader.WaitForSyncComplete(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) done() int {
	count := 0
	for _, key := range g.members {
		if loader := key.lookup(); loader == nil || loader.IsDone() {
			count++
		}
	}
	return count
}

// Resolver finds the System of another package. ready is false while
// that package is still initializing; the caller asks again on a later
// tick.
type Resolver interface {
	Resolve(packageName string) (system *System, ready bool, err error)
}

type crossRequest struct {
	packageName string
	unitIDs     []string
}

// CrossGroup is a Group over units owned by other packages. Its
// members are unknown until every package resolves, and until then
// it is not done.
type CrossGroup struct {
	resolver Resolver
	pending  []crossRequest
	groups   []*Group
	err      error
	released bool
}

func newCrossGroup(resolver Resolver, ids []string) *CrossGroup {
	g := &CrossGroup{resolver: resolver}
	index := make(map[string]int)
	for _, id := range ids {
		packageName, unitID, _ := manifest.SplitCrossPackageID(id)
		position, ok := index[packageName]
		if !ok {
			position = len(g.pending)
			index[packageName] = position
			g.pending = append(g.pending, crossRequest{packageName: packageName})
		}
		g.pending[position].unitIDs = append(g.pending[position].unitIDs, unitID)
	}
	if resolver == nil && len(g.pending) > 0 {
		g.err = fmt.Errorf("unit depends on package %q but no resolver is configured", g.pending[0].packageName)
	}
	return g
}

// Resolved reports whether every package has been resolved.
func (g *CrossGroup) Resolved() bool { return len(g.pending) == 0 }

// Update tries to resolve the packages still pending.
func (g *CrossGroup) Update() {
	if g.err != nil || g.released {
		return
	}
	for len(g.pending) > 0 {
		request := g.pending[0]
		other, ready, err := g.resolver.Resolve(request.packageName)
		if err != nil {
			g.err = fmt.Errorf("resolving package %q: %w", request.packageName, err)
			return
		}
		if !ready {
			return
		}
		group, err := other.AcquireGroup(request.unitIDs)
		if err != nil {
			g.err = fmt.Errorf("package %q: %w", request.packageName, err)
			return
		}
		g.groups = append(g.groups, group)
		g.pending = g.pending[1:]
	}
}

// IsDone reports whether resolution failed or every resolved member
// is terminal.
func (g *CrossGroup) IsDone() bool {
	if g.err != nil {
		return true
	}
	if len(g.pending) > 0 {
		return false
	}
	for _, group := range g.groups {
		if !group.IsDone() {
			return false
		}
	}
	return true
}

// IsSucceed reports whether every member loaded.
func (g *CrossGroup) IsSucceed() bool {
	return g.IsDone() && g.Err() == nil
}

// Err returns the resolution error or the first member error.
func (g *CrossGroup) Err() error {
	if g.err != nil {
		return g.err
	}
	for _, group := range g.groups {
		if err := group.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Release drops every member reference taken so far and stops further
// resolution.
func (g *CrossGroup) Release() {
	if g.released {
		return
	}
	g.released = true
	for _, group := range g.groups {
		group.Release()
	}
}

// WaitForSyncComplete resolves and drives every member. pump advances
// the other packages while resolution is pending; with a nil pump an
// unresolved group is an error.
func (g *CrossGroup) WaitForSyncComplete(ctx context.Context, pump func()) error {
	for {
		g.Update()
		if g.err != nil || len(g.pending) == 0 {
			break
		}
		if pump == nil {
			return fmt.Errorf("package %q is not ready for a synchronous load", g.pending[0].packageName)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		pump()
	}
	for _, group := range g.groups {
		if err := group.WaitForSyncComplete(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *CrossGroup) counts() (done, total int) {
	for _, request := range g.pending {
		total += len(request.unitIDs)
	}
	for _, group := range g.groups {
		done += group.done()
		total += group.Len()
	}
	return done, total
}
