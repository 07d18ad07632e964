// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

// Index tracks which cache files have passed verification in this
// process. It is owned by the tick goroutine and is not safe for
// concurrent use.
type Index struct {
	verified map[string]map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{verified: make(map[string]map[string]struct{})}
}

// Mark records cacheName as verified for the package.
func (i *Index) Mark(packageName, cacheName string) {
	names, ok := i.verified[packageName]
	if !ok {
		names = make(map[string]struct{})
		i.verified[packageName] = names
	}
	names[cacheName] = struct{}{}
}

// Contains reports whether cacheName has been verified.
func (i *Index) Contains(packageName, cacheName string) bool {
	_, ok := i.verified[packageName][cacheName]
	return ok
}

// Forget drops one verified name, after its file was deleted.
func (i *Index) Forget(packageName, cacheName string) {
	delete(i.verified[packageName], cacheName)
}

// Reset drops everything known about a package.
func (i *Index) Reset(packageName string) {
	delete(i.verified, packageName)
}

// ResetAll drops everything.
func (i *Index) ResetAll() {
	clear(i.verified)
}

// Len returns how many names are verified for the package.
func (i *Index) Len(packageName string) int {
	return len(i.verified[packageName])
}
