// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui provides the color palette and text styles for the
// delivery command-line tools.
//
// Output goes to terminals and to pipes alike. [Theme.Enabled] turns
// styling off for non-terminals so scripted output stays plain.
package tui
