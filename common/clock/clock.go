// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock is an interface to system time and timers which is easy to
// test.
//
// The clock is carried by the context. When none is installed, the system
// clock is used.
package clock

import (
	"context"
	"time"
)

// A Clock is an interface to system time.
//
// The standard clock is the system clock. testclock.TestClock is available to
// simulate time facilities for testing.
type Clock interface {
	// Returns the current time (see time.Now).
	Now() time.Time

	// Sleeps the current goroutine (see time.Sleep).
	//
	// If the sleep terminated prematurely from cancellation, the TimerResult's
	// Incomplete method will return true.
	Sleep(context.Context, time.Duration) TimerResult
}

// TimerResult is the result of a sleep.
type TimerResult struct {
	time.Time

	// Err, if not nil, is the context error which interrupted the sleep.
	Err error
}

// Incomplete returns true if the sleep was interrupted.
func (tr TimerResult) Incomplete() bool {
	return tr.Err != nil
}

type systemClock struct{}

// GetSystemClock returns a Clock whose method calls directly use Go's "time"
// library.
func GetSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) TimerResult {
	if d <= 0 {
		return TimerResult{Time: time.Now(), Err: ctx.Err()}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case now := <-t.C:
		return TimerResult{Time: now}
	case <-ctx.Done():
		return TimerResult{Time: time.Now(), Err: ctx.Err()}
	}
}

type clockKey struct{}

// Set creates a new Context using the supplied Clock.
func Set(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, clockKey{}, c)
}

// Get returns the Clock set in the supplied Context, defaulting to the
// system clock if none is set.
func Get(ctx context.Context) Clock {
	if c, ok := ctx.Value(clockKey{}).(Clock); ok && c != nil {
		return c
	}
	return systemClock{}
}

// Now calls Clock.Now on the Clock instance stored in the supplied Context.
func Now(ctx context.Context) time.Time {
	return Get(ctx).Now()
}

// Sleep calls Clock.Sleep on the Clock instance stored in the supplied Context.
func Sleep(ctx context.Context, d time.Duration) TimerResult {
	return Get(ctx).Sleep(ctx, d)
}

// Since is an equivalent of time.Since.
func Since(ctx context.Context, t time.Time) time.Duration {
	return Now(ctx).Sub(t)
}
