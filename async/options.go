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

package async

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/common/retry"
	"github.com/Akanyi/clog/common/retry/transient"
	"github.com/Akanyi/clog/format"
)

// Defaults applied by New to zero valued Options fields.
const (
	DefaultQueueSize     = 1024
	DefaultFlushInterval = time.Second
)

// Overflow decides what Append does when the queue is full.
type Overflow int

const (
	// Block makes Append wait for room in the queue.
	Block Overflow = iota
	// DropNewest discards the record being appended.
	DropNewest
	// DropOldest discards the oldest queued record to make room.
	DropOldest
)

func (o Overflow) String() string {
	switch o {
	case Block:
		return "block"
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	}
	return "unknown"
}

// ErrorFn is called with every record the Queue failed to append and the
// error from the last attempt.
//
// It runs on the Queue's drain goroutine. Blocking in it blocks the Queue.
type ErrorFn func(r *format.Record, err error)

// DropFn is called with every record discarded because the queue was full.
//
// It runs on the goroutine calling Append. Blocking in it blocks that Append.
type DropFn func(r *format.Record)

// Options is the configuration of a Queue.
type Options struct {
	// QueueSize is the capacity of the queue, in records.
	//
	// Default: DefaultQueueSize.
	QueueSize int

	// Overflow is what Append does when the queue is full.
	//
	// Default: Block.
	Overflow Overflow

	// Retry produces the retry policy for failed appends. Only errors tagged
	// transient (e.g. lock timeouts) are retried, whatever the policy.
	//
	// Default: up to 5 retries with exponential backoff from 100ms to 5s.
	Retry retry.Factory

	// ErrorFn handles records which could not be appended.
	//
	// Default: logs the error.
	ErrorFn ErrorFn

	// DropFn handles records discarded on overflow.
	//
	// Default: logs at Info level for DropOldest, Warning otherwise.
	DropFn DropFn

	// QPSLimit, if set, limits how often the sink's Append is called.
	QPSLimit *rate.Limiter

	// FlushInterval flushes the sink once the queue has been idle this long
	// since the last record was appended. Negative disables idle flushes.
	//
	// Default: DefaultFlushInterval.
	FlushInterval time.Duration

	// Metrics, if set, receives the Queue's metrics.
	Metrics *Metrics
}

// DefaultRetry is the default value of Options.Retry.
func DefaultRetry() retry.Iterator {
	return &retry.ExponentialBackoff{
		Limited: retry.Limited{
			Delay:   100 * time.Millisecond,
			Retries: 5,
		},
		MaxDelay: 5 * time.Second,
	}
}

// normalize validates that Options is well formed and populates defaults which
// are missing.
func (o *Options) normalize(ctx context.Context) error {
	switch {
	case o.QueueSize == 0:
		o.QueueSize = DefaultQueueSize
	case o.QueueSize < 0:
		return errors.Reason("QueueSize must be >= 0, got %d", o.QueueSize).Err()
	}

	switch o.Overflow {
	case Block, DropNewest, DropOldest:
	default:
		return errors.Reason("unknown Overflow %d", int(o.Overflow)).Err()
	}

	if o.Retry == nil {
		o.Retry = DefaultRetry
	}
	o.Retry = transient.OnlyFactory(o.Retry)

	if o.ErrorFn == nil {
		o.ErrorFn = defaultErrorFn(ctx)
	}
	if o.DropFn == nil {
		o.DropFn = defaultDropFn(ctx, o.Overflow)
	}

	if o.QPSLimit != nil && o.QPSLimit.Limit() != rate.Inf && o.QPSLimit.Burst() < 1 {
		return errors.Reason(
			"QPSLimit has burst size < 1, but a non-infinite rate: %d",
			o.QPSLimit.Burst()).Err()
	}

	switch {
	case o.FlushInterval == 0:
		o.FlushInterval = DefaultFlushInterval
	case o.FlushInterval < 0:
		o.FlushInterval = 0
	}
	return nil
}

func defaultErrorFn(ctx context.Context) ErrorFn {
	return func(r *format.Record, err error) {
		logging.Fields{
			logging.ErrorKey: err,
			"logger":         r.Logger,
		}.Errorf(ctx, "Dropping a record which could not be appended.")
	}
}

func defaultDropFn(ctx context.Context, overflow Overflow) DropFn {
	logFn := logging.Warningf
	if overflow == DropOldest {
		logFn = logging.Infof
	}
	return func(r *format.Record) {
		logFn(ctx, "Queue is full, dropping a record of logger %q.", r.Logger)
	}
}
