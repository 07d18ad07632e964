// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileMatchesSum(t *testing.T) {
	data := bytes.Repeat([]byte("content unit payload "), 5000)
	path := filepath.Join(t.TempDir(), "unit")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	digest, size, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, want %d", size, len(data))
	}
	if digest != Sum(data) {
		t.Errorf("streamed digest %s differs from Sum %s", digest, Sum(data))
	}
}

func TestFileMissing(t *testing.T) {
	if _, _, err := File(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("File on a missing path succeeded")
	}
}

func TestParseRoundTrip(t *testing.T) {
	digest := Sum([]byte("hello"))
	parsed, err := Parse(digest.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != digest {
		t.Errorf("Parse(%s) = %s", digest, parsed)
	}
	if !digest.Equal(strings.ToUpper(digest.String())) {
		t.Error("Equal is case sensitive")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "zz", "abcd", strings.Repeat("a", 66)} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded", input)
		}
	}
}

func TestShort(t *testing.T) {
	digest := Sum([]byte("x"))
	if got := digest.Short(16); len(got) != 16 || !strings.HasPrefix(digest.String(), got) {
		t.Errorf("Short(16) = %q", got)
	}
	if got := digest.Short(0); got != digest.String() {
		t.Errorf("Short(0) = %q, want full digest", got)
	}
}
