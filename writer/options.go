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

package writer

import (
	"context"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/Akanyi/clog/codec"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/lock"
)

// Defaults applied by Open to zero valued Options fields.
const (
	DefaultMaxRecords    = 1000
	DefaultMaxBytes      = 1 << 20
	DefaultFlushInterval = 5 * time.Second
	DefaultLockTimeout   = 10 * time.Second
)

// Options configures a Writer.
type Options struct {
	// Codec compresses new chunks. The zero value stores chunks uncompressed.
	Codec codec.ID

	// Strict sets the strict-mode marker in the header of files this Writer
	// creates.
	Strict bool

	// MaxRecords flushes the buffer once it holds this many records.
	//
	// Zero means DefaultMaxRecords, negative disables the trigger.
	MaxRecords int

	// MaxBytes flushes the buffer once the encoded size of its records reaches
	// this many bytes. Must not exceed format.MaxChunkSize.
	//
	// Zero means DefaultMaxBytes, negative disables the trigger.
	MaxBytes int

	// FlushInterval flushes the buffer on the first Append happening at least
	// this long after the previous flush.
	//
	// Zero means DefaultFlushInterval, negative disables the trigger.
	FlushInterval time.Duration

	// RotateSize rotates the file once it reaches this many bytes. Zero
	// disables size based rotation.
	RotateSize int64

	// RotateInterval rotates the file each time the wall clock crosses a
	// multiple of this interval counted from midnight in RotateLocation, e.g.
	// 1h rotates at the top of every hour. Zero disables time based rotation.
	RotateInterval time.Duration

	// RotateSchedule rotates the file each time the wall clock reaches a time
	// matched by this cron expression, evaluated in RotateLocation. It cannot
	// be combined with RotateInterval.
	RotateSchedule *cronexpr.Expression

	// RotateLocation is the time zone RotateInterval and RotateSchedule are
	// evaluated in. Defaults to UTC.
	RotateLocation *time.Location

	// MaxArchives is the number of archives to keep after a rotation; older
	// ones are deleted. Zero keeps all of them.
	MaxArchives int

	// Sync fsyncs the file after every chunk.
	Sync bool

	// Locker serializes appends and rotation across writers of the same path.
	// Defaults to lock.FileLocker{}.
	Locker lock.Locker

	// LockTimeout bounds each lock acquisition. Zero means DefaultLockTimeout.
	LockTimeout time.Duration

	// OnRotate, if set, is called after each rotation this Writer performs. It
	// runs on the goroutine whose Append, Flush or Rotate caused the rotation,
	// outside of the Writer's locks.
	OnRotate func(context.Context, RotateEvent)

	// Metrics, if set, receives the Writer's metrics. One Metrics may be shared
	// by many Writers.
	Metrics *Metrics
}

// RotateEvent describes a completed rotation.
type RotateEvent struct {
	// Archive is the path the rotated file was renamed to.
	Archive string
	// Active is the path of the fresh file.
	Active string
	// Reason is "size", "time" or "manual".
	Reason string
	// Time is when the rotation happened.
	Time time.Time
}

// normalize validates that Options is well formed and populates defaults which
// are missing.
func (o *Options) normalize() error {
	if _, err := codec.Lookup(o.Codec); err != nil {
		return err
	}

	switch {
	case o.MaxRecords == 0:
		o.MaxRecords = DefaultMaxRecords
	case o.MaxRecords < 0:
		o.MaxRecords = 0
	}

	switch {
	case o.MaxBytes == 0:
		o.MaxBytes = DefaultMaxBytes
	case o.MaxBytes < 0:
		o.MaxBytes = 0
	case o.MaxBytes > format.MaxChunkSize:
		return errors.Reason("MaxBytes %d exceeds the maximum chunk size %d", o.MaxBytes, format.MaxChunkSize).Err()
	}

	switch {
	case o.FlushInterval == 0:
		o.FlushInterval = DefaultFlushInterval
	case o.FlushInterval < 0:
		o.FlushInterval = 0
	}

	if o.RotateSize < 0 {
		return errors.Reason("RotateSize must be >= 0, got %d", o.RotateSize).Err()
	}
	if o.RotateInterval < 0 {
		return errors.Reason("RotateInterval must be >= 0, got %s", o.RotateInterval).Err()
	}
	if o.RotateInterval > 0 && o.RotateSchedule != nil {
		return errors.Reason("RotateInterval and RotateSchedule are mutually exclusive").Err()
	}
	if o.RotateLocation == nil {
		o.RotateLocation = time.UTC
	}
	if o.MaxArchives < 0 {
		return errors.Reason("MaxArchives must be >= 0, got %d", o.MaxArchives).Err()
	}

	if o.Locker == nil {
		o.Locker = lock.FileLocker{}
	}
	switch {
	case o.LockTimeout == 0:
		o.LockTimeout = DefaultLockTimeout
	case o.LockTimeout < 0:
		return errors.Reason("LockTimeout must be >= 0, got %s", o.LockTimeout).Err()
	}
	return nil
}
