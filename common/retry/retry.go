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

// Package retry runs a function until it succeeds or its Iterator gives up.
package retry

import (
	"context"
	"time"

	"github.com/Akanyi/clog/common/clock"
)

// Stop is a sentinel value returned by Iterator.Next that means no more
// retries should be attempted.
const Stop time.Duration = -1

// Iterator describes a stateful implementation of retry logic.
type Iterator interface {
	// Returns the next retry delay, or Stop if no more retries should be made.
	Next(context.Context, error) time.Duration
}

// Factory is a function that produces an independent Iterator instance.
type Factory func() Iterator

// Callback is a callback function that Retry will invoke every time an
// attempt fails prior to sleeping.
type Callback func(error, time.Duration)

// Retry executes fn. If it returns an error, it will be retried according to
// the Iterator produced by f.
//
// If the context is cancelled, the last error from fn is returned.
func Retry(ctx context.Context, f Factory, fn func() error, callback Callback) (err error) {
	var it Iterator
	if f != nil {
		it = f()
	}

	for {
		if err = fn(); err == nil || it == nil {
			return
		}

		delay := it.Next(ctx, err)
		if delay == Stop {
			return
		}
		if callback != nil {
			callback(err, delay)
		}
		if tr := clock.Sleep(ctx, delay); tr.Incomplete() {
			return
		}
	}
}

// Limited is an Iterator implementation that may be limited by a maximum
// number of retries and/or time.
type Limited struct {
	// Delay is the next generated delay.
	Delay time.Duration

	// Retries, if >= 0, is the number of remaining retries. If <0, no retry
	// count will be applied.
	Retries int

	// MaxTotal is the maximum total elapsed time. If <= 0, no maximum will be
	// enforced.
	MaxTotal time.Duration

	startTime time.Time
}

var _ Iterator = (*Limited)(nil)

// Next implements the Iterator interface.
func (i *Limited) Next(ctx context.Context, _ error) time.Duration {
	switch {
	case i.Retries == 0:
		return Stop
	case i.Retries > 0:
		i.Retries--
	}

	if i.MaxTotal > 0 {
		now := clock.Now(ctx)
		if i.startTime.IsZero() {
			i.startTime = now
		}
		if now.Sub(i.startTime)+i.Delay > i.MaxTotal {
			return Stop
		}
	}
	return i.Delay
}

// ExponentialBackoff is an Iterator implementation that implements
// exponential backoff retry.
type ExponentialBackoff struct {
	Limited

	// Multiplier is the exponential growth multiplier. If < 1, a default of 2
	// will be used.
	Multiplier float64
	// MaxDelay is the maximum duration. If <= zero, no maximum will be enforced.
	MaxDelay time.Duration
}

// Next implements the Iterator interface.
func (i *ExponentialBackoff) Next(ctx context.Context, err error) time.Duration {
	delay := i.Limited.Next(ctx, err)
	if delay == Stop {
		return Stop
	}

	multiplier := i.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	i.Delay = time.Duration(float64(i.Delay) * multiplier)
	if i.MaxDelay > 0 && i.Delay > i.MaxDelay {
		i.Delay = i.MaxDelay
	}
	return delay
}
