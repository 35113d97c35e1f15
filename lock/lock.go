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

// Package lock implements exclusive locks keyed by file path, used to
// serialize chunk appends and rotation between writers of the same clog file.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/danjacques/gofslock/fslock"

	"github.com/Akanyi/clog/common/clock"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/common/retry/transient"
)

// ErrTimeout is returned when a lock could not be acquired in time. It is
// tagged as transient.
var ErrTimeout = errors.New("timed out waiting for lock", transient.Tag.With(true))

// DefaultPollInterval is the FileLocker retry interval used when none is set.
const DefaultPollInterval = 20 * time.Millisecond

// Handle is a held lock.
type Handle interface {
	// Release releases the lock. It must be called exactly once.
	Release() error
}

// Locker acquires exclusive locks keyed by path.
type Locker interface {
	// Acquire blocks until the lock for path is held, timeout elapses, or ctx
	// is cancelled.
	//
	// A timeout of zero makes a single non-blocking attempt. On timeout
	// Acquire fails with ErrTimeout.
	Acquire(ctx context.Context, path string, timeout time.Duration) (Handle, error)
}

// With runs fn while holding the lock for path.
func With(ctx context.Context, l Locker, path string, timeout time.Duration, fn func() error) (err error) {
	h, err := l.Acquire(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil && err == nil {
			err = errors.Annotate(rerr, "releasing lock for %q", path).Err()
		}
	}()
	return fn()
}

// LockPath returns the sidecar lock file used for path.
func LockPath(path string) string {
	return path + ".lock"
}

// FileLocker is a Locker backed by an OS advisory lock on a sidecar
// "<path>.lock" file. The OS drops the lock if the holding process dies.
type FileLocker struct {
	// PollInterval is the delay between acquisition attempts while the lock is
	// held elsewhere. Defaults to DefaultPollInterval.
	PollInterval time.Duration
}

var _ Locker = FileLocker{}

// Acquire implements Locker.
func (l FileLocker) Acquire(ctx context.Context, path string, timeout time.Duration) (Handle, error) {
	poll := l.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lockPath := LockPath(path)
	deadline := clock.Now(ctx).Add(timeout)
	h, err := fslock.LockBlocking(lockPath, blocker(ctx, lockPath, deadline, poll))
	if err != nil {
		return nil, errors.Annotate(err, "locking %q", lockPath).Err()
	}
	return fileHandle{h}, nil
}

// blocker is an fslock.Blocker implementation that sleeps poll in between
// attempts until deadline passes.
func blocker(ctx context.Context, lockPath string, deadline time.Time, poll time.Duration) fslock.Blocker {
	return func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := deadline.Sub(clock.Now(ctx))
		if remaining <= 0 {
			return ErrTimeout
		}
		if remaining < poll {
			poll = remaining
		}
		logging.Debugf(ctx, "Lock %q is currently held. Sleeping %v and retrying...", lockPath, poll)
		if tr := clock.Sleep(ctx, poll); tr.Err != nil {
			return tr.Err
		}
		return nil
	}
}

type fileHandle struct {
	h fslock.Handle
}

func (h fileHandle) Release() error {
	return h.h.Unlock()
}

// Memory is an in-process Locker. The zero value is ready for use.
type Memory struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ Locker = (*Memory)(nil)

func (m *Memory) slot(path string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks == nil {
		m.locks = map[string]chan struct{}{}
	}
	ch := m.locks[path]
	if ch == nil {
		ch = make(chan struct{}, 1)
		m.locks[path] = ch
	}
	return ch
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, path string, timeout time.Duration) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := m.slot(path)
	if timeout <= 0 {
		select {
		case ch <- struct{}{}:
			return memHandle(ch), nil
		default:
			return nil, ErrTimeout
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ch <- struct{}{}:
		return memHandle(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, ErrTimeout
	}
}

type memHandle chan struct{}

func (h memHandle) Release() error {
	select {
	case <-h:
		return nil
	default:
		return errors.New("lock is not held")
	}
}
