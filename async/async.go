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

// Package async decouples producers of records from the file I/O of a clog
// writer.
//
// A Queue accepts records into a bounded channel and a single goroutine hands
// them to the sink in order. Records appended by one goroutine reach the sink
// in the order they were appended. Close drains every accepted record before
// closing the sink.
package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Akanyi/clog/common/clock"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/common/retry"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/writer"
)

var (
	// ErrClosed is returned by Append and Flush on a closed Queue.
	ErrClosed = errors.New("queue is closed")

	// ErrDisplaced is returned by Flush when its request was pushed out of a
	// full DropOldest queue before it was served.
	ErrDisplaced = errors.New("flush request was displaced from a full queue")
)

// Sink receives records from a Queue. *writer.Writer implements it.
//
// Flush may be called concurrently with Append.
type Sink interface {
	Append(context.Context, *format.Record) error
	Flush(context.Context) error
	Close(context.Context) error
}

var _ Sink = (*writer.Writer)(nil)

// item is either a record or a flush request.
type item struct {
	rec  *format.Record
	done chan error
}

// Queue appends records to a Sink from a background goroutine.
type Queue struct {
	ctx  context.Context
	sink Sink
	opts Options

	mu     sync.RWMutex // held for writing to close ch
	closed bool
	ch     chan item

	dirty      atomic.Bool // records reached the sink since its last flush
	stopFlush  context.CancelFunc
	drained    chan struct{}
	flusherRun chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

var _ Sink = (*Queue)(nil)

// New starts a Queue feeding sink.
//
// ctx supplies the logger and clock of the background goroutines. Cancelling
// it does not stop the Queue, Close does.
func New(ctx context.Context, sink Sink, opts Options) (*Queue, error) {
	if err := opts.normalize(ctx); err != nil {
		return nil, errors.Annotate(err, "invalid options").Err()
	}

	ctx = context.WithoutCancel(ctx)
	q := &Queue{
		ctx:        ctx,
		sink:       sink,
		opts:       opts,
		ch:         make(chan item, opts.QueueSize),
		drained:    make(chan struct{}),
		flusherRun: make(chan struct{}),
	}

	go q.drain()

	fctx, cancel := context.WithCancel(ctx)
	q.stopFlush = cancel
	go q.flusher(fctx)
	return q, nil
}

// Append queues r, stamping a zero r.Time with the current time.
//
// What happens when the queue is full depends on Options.Overflow. With Block,
// Append waits for room or for ctx to be done.
func (q *Queue) Append(ctx context.Context, r *format.Record) error {
	if r != nil && r.Time.IsZero() {
		r.Time = clock.Now(ctx)
	}
	if err := r.Validate(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	it := item{rec: r}
	switch q.opts.Overflow {
	case DropNewest:
		select {
		case q.ch <- it:
		default:
			q.drop(r)
			return nil
		}

	case DropOldest:
		for pushed := false; !pushed; {
			select {
			case q.ch <- it:
				pushed = true
			default:
				select {
				case old := <-q.ch:
					q.displace(old)
				default:
				}
			}
		}

	default:
		select {
		case q.ch <- it:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q.opts.Metrics.enqueued(len(q.ch))
	return nil
}

func (q *Queue) displace(it item) {
	if it.done != nil {
		it.done <- ErrDisplaced
		return
	}
	q.drop(it.rec)
}

func (q *Queue) drop(r *format.Record) {
	q.dropped.Add(1)
	q.opts.Metrics.dropped(q.opts.Overflow)
	q.opts.DropFn(r)
}

// Flush waits until every record queued before the call reached the sink,
// then flushes the sink.
//
// The request waits for room in the queue whatever the overflow policy.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	select {
	case q.ch <- item{done: done}:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records, waits until every queued record was handed
// to the sink, then closes the sink.
//
// Close may be called again to retry closing the sink.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	<-q.drained
	q.stopFlush()
	<-q.flusherRun

	if n := q.dropped.Load(); n > 0 {
		logging.Warningf(ctx, "Queue dropped %d records on overflow.", n)
	}
	return q.sink.Close(ctx)
}

// Dropped returns the number of records discarded on overflow so far.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Failed returns the number of records handed to ErrorFn so far.
func (q *Queue) Failed() int64 { return q.failed.Load() }

func (q *Queue) drain() {
	defer close(q.drained)

	for it := range q.ch {
		q.opts.Metrics.dequeued(len(q.ch))
		if it.done != nil {
			it.done <- q.flushSink()
			continue
		}
		q.appendOne(it.rec)
	}
}

func (q *Queue) flushSink() error {
	q.dirty.Store(false)
	err := retry.Retry(q.ctx, q.opts.Retry, func() error {
		return q.sink.Flush(q.ctx)
	}, q.retryCallback)
	if err != nil {
		q.dirty.Store(true)
	}
	return err
}

func (q *Queue) appendOne(r *format.Record) {
	if q.opts.QPSLimit != nil {
		if err := q.opts.QPSLimit.Wait(q.ctx); err != nil {
			logging.WithError(err).Warningf(q.ctx, "Rate limiter failed, appending anyway.")
		}
	}

	buffered := false
	err := retry.Retry(q.ctx, q.opts.Retry, func() error {
		if buffered {
			return q.sink.Flush(q.ctx)
		}
		err := q.sink.Append(q.ctx, r)
		buffered = writer.Buffered.In(err)
		return err
	}, q.retryCallback)

	switch {
	case err == nil:
		q.dirty.Store(true)
	case buffered:
		// The sink kept the record and flushes it later.
		q.dirty.Store(true)
		logging.WithError(err).Warningf(q.ctx, "Sink failed to flush, the record stays buffered in it.")
	default:
		q.failed.Add(1)
		q.opts.Metrics.failed()
		q.opts.ErrorFn(r, err)
	}
}

func (q *Queue) retryCallback(err error, d time.Duration) {
	q.opts.Metrics.retried()
	logging.Fields{
		logging.ErrorKey: err,
		"delay":          d,
	}.Infof(q.ctx, "Transient sink failure, retrying.")
}

// flusher flushes the sink every FlushInterval while records reached it since
// the previous flush.
func (q *Queue) flusher(ctx context.Context) {
	defer close(q.flusherRun)
	if q.opts.FlushInterval <= 0 {
		return
	}
	for {
		if tr := clock.Sleep(ctx, q.opts.FlushInterval); tr.Incomplete() {
			return
		}
		if !q.dirty.Swap(false) {
			continue
		}
		if err := q.sink.Flush(ctx); err != nil {
			q.dirty.Store(true)
			logging.WithError(err).Warningf(ctx, "Periodic flush failed.")
		}
	}
}
