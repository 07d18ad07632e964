// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := Fake(epoch)
	channel := fake.After(time.Second)

	fake.Advance(500 * time.Millisecond)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(500 * time.Millisecond)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after one-shot fired, want 0", fake.PendingCount())
	}
}

func TestFakeTickerReschedules(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for round := 0; round < 3; round++ {
		fake.Advance(10 * time.Millisecond)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("round %d: no tick", round)
		}
	}

	ticker.Stop()
	fake.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	woke := make(chan struct{})
	go func() {
		fake.Sleep(time.Minute)
		close(woke)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)
	select {
	case <-woke:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Sleep did not return after Advance")
	}
}
