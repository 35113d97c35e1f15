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

// Package testclock implements a manually driven clock.Clock.
package testclock

import (
	"context"
	"sync"
	"time"

	"github.com/Akanyi/clog/common/clock"
)

// TestTimeUTC is an arbitrary time point in UTC for testing.
var TestTimeUTC = time.Date(2016, time.February, 3, 4, 5, 6, 7, time.UTC)

// TimerCallback is invoked every time a sleep is started, with the sleep's
// duration. It runs without the clock's lock held, so it may call Add.
type TimerCallback func(d time.Duration)

// TestClock is a Clock interface with additional methods to help instrument
// it.
type TestClock interface {
	clock.Clock

	// Set sets the test clock's time.
	Set(time.Time)
	// Add advances the test clock's time.
	Add(time.Duration)
	// SetTimerCallback installs a callback invoked when a sleep starts.
	SetTimerCallback(TimerCallback)
}

type sleeper struct {
	deadline time.Time
	wake     chan time.Time
}

type testClock struct {
	mu       sync.Mutex
	now      time.Time
	sleepers []*sleeper
	callback TimerCallback
}

var _ TestClock = (*testClock)(nil)

// New returns a TestClock instance set at the specified time.
func New(now time.Time) TestClock {
	return &testClock{now: now}
}

// UseTime installs a new TestClock set at now into ctx.
func UseTime(ctx context.Context, now time.Time) (context.Context, TestClock) {
	tc := New(now)
	return clock.Set(ctx, tc), tc
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) clock.TimerResult {
	c.mu.Lock()
	s := &sleeper{deadline: c.now.Add(d), wake: make(chan time.Time, 1)}
	if d <= 0 {
		now := c.now
		c.mu.Unlock()
		return clock.TimerResult{Time: now, Err: ctx.Err()}
	}
	c.sleepers = append(c.sleepers, s)
	cb := c.callback
	c.mu.Unlock()

	if cb != nil {
		cb(d)
	}

	select {
	case t := <-s.wake:
		return clock.TimerResult{Time: t}
	case <-ctx.Done():
		c.mu.Lock()
		c.removeLocked(s)
		now := c.now
		c.mu.Unlock()
		return clock.TimerResult{Time: now, Err: ctx.Err()}
	}
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t)
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(c.now.Add(d))
}

func (c *testClock) SetTimerCallback(cb TimerCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

func (c *testClock) setLocked(t time.Time) {
	c.now = t
	remaining := c.sleepers[:0]
	for _, s := range c.sleepers {
		if !t.Before(s.deadline) {
			s.wake <- t
			continue
		}
		remaining = append(remaining, s)
	}
	c.sleepers = remaining
}

func (c *testClock) removeLocked(target *sleeper) {
	for i, s := range c.sleepers {
		if s == target {
			c.sleepers = append(c.sleepers[:i], c.sleepers[i+1:]...)
			return
		}
	}
}
