// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Code that sleeps, waits, or ticks accepts a [Clock] instead of
// calling the time package directly. Production wiring passes [Real];
// tests pass [Fake] and move time forward explicitly with
// [FakeClock.Advance].
//
// The tick runner in lib/assets is the main consumer: it drives every
// registered package from a [Ticker], so tests can step the whole
// delivery pipeline one tick at a time:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go registry.Run(ctx, fake, 16*time.Millisecond)
//	fake.WaitForTimers(1)
//	fake.Advance(16 * time.Millisecond)
package clock
