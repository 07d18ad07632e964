// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"fmt"
	"sync/atomic"
)

// Source is the pair of base URLs a package publishes to. Fallback may
// be empty, in which case every request uses Primary.
type Source struct {
	Primary  string
	Fallback string
}

// Scope selects how widely a HostSelector is shared.
type Scope int

const (
	// ScopeOperation gives every download operation its own
	// selector, so each unit's first attempt goes to the primary.
	ScopeOperation Scope = iota

	// ScopeGlobal shares one selector across all operations and
	// packages.
	ScopeGlobal
)

// String returns the configuration spelling of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeOperation:
		return "operation"
	case ScopeGlobal:
		return "global"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope parses "operation" or "global". Empty means operation.
func ParseScope(value string) (Scope, error) {
	switch value {
	case "", "operation":
		return ScopeOperation, nil
	case "global":
		return ScopeGlobal, nil
	default:
		return 0, fmt.Errorf("unknown alternation scope %q (want operation or global)", value)
	}
}

// HostSelector alternates between the hosts of a Source. Safe for
// concurrent use.
type HostSelector struct {
	requests atomic.Uint64
}

// Next counts one request and returns the base URL to use for it.
func (h *HostSelector) Next(source Source) string {
	count := h.requests.Add(1)
	if source.Fallback == "" || count%2 == 1 {
		return source.Primary
	}
	return source.Fallback
}

// Requests returns how many requests have been counted.
func (h *HostSelector) Requests() uint64 {
	return h.requests.Load()
}
