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

// Package writer appends records to clog files.
//
// A Writer buffers records in memory and turns the buffer into a single
// compressed chunk when a flush trigger fires (record count, encoded size or
// elapsed time, whichever comes first). Chunks are appended while holding a
// cross-process lock on the file path, so any number of Writers, in any
// number of processes, may share one file. Each chunk lands in the file whole
// and contiguous.
//
// Writers also rotate the file by size or on wall clock boundaries, renaming
// it to "<path>.<timestamp>.<seq>" and starting a fresh one.
package writer

import (
	"context"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Akanyi/clog/common/clock"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/iotools"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/lock"
)

// ErrClosed is returned by operations on a closed Writer.
var ErrClosed = errors.New("writer is closed")

// Buffered tags Append errors which happened after the record was accepted
// into the buffer, i.e. in the flush it triggered. Such a record stays
// buffered and must not be appended again.
var Buffered = errors.BoolTag{Key: errors.NewTagKey("record is buffered")}

// Writer appends records to a clog file. It is safe for concurrent use.
type Writer struct {
	path string
	opts Options

	mu         sync.Mutex // guards the fields below
	buf        []*format.Record
	bufBytes   int
	lastFlush  time.Time
	nextRotate time.Time // zero when time based rotation is off
	rotateDue  bool      // a flush left the file at or above RotateSize
	closed     bool

	flushMu sync.Mutex // serializes flushes and rotations; guards f and size
	f       *os.File   // nil once closed
	size    int64

	chunks    atomic.Int64
	records   atomic.Int64
	written   atomic.Int64
	rotations atomic.Int64

	openFile func(name string, flag int, perm fs.FileMode) (*os.File, error) // os.OpenFile
}

// Stats is a snapshot of a Writer's counters.
type Stats struct {
	BufferedRecords int
	BufferedBytes   int
	ChunksWritten   int64
	RecordsWritten  int64
	BytesWritten    int64
	Rotations       int64
	FileSize        int64
}

// Open opens the clog file at path for appending, creating it if it is
// missing or empty.
//
// A non-empty file without a valid header is refused with format.ErrFormat.
func Open(ctx context.Context, path string, opts Options) (*Writer, error) {
	if err := opts.normalize(); err != nil {
		return nil, errors.Annotate(err, "invalid options").Err()
	}

	w := &Writer{path: path, opts: opts, openFile: os.OpenFile}
	if err := w.withLock(ctx, func() error { return w.openActiveLocked(ctx) }); err != nil {
		return nil, errors.Annotate(err, "opening %q", path).Err()
	}

	now := clock.Now(ctx)
	w.lastFlush = now
	w.nextRotate = w.nextBoundary(now)
	w.rotateDue = opts.RotateSize > 0 && w.size >= opts.RotateSize
	return w, nil
}

// Path returns the path of the active file.
func (w *Writer) Path() string { return w.path }

// Append adds r to the buffer, flushing or rotating first as needed.
//
// The Writer takes ownership of r. A zero r.Time is set to the current time.
// Append returns an error if r is invalid, if the Writer is closed, or if a
// flush or rotation it triggered failed. Buffered records are kept across such
// failures and retried by the next flush; errors from a flush which ran after
// r was buffered carry the Buffered tag.
func (w *Writer) Append(ctx context.Context, r *format.Record) error {
	if r != nil && r.Time.IsZero() {
		r.Time = clock.Now(ctx)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	size := r.EncodedSize()
	if size > format.MaxChunkSize {
		return errors.Annotate(format.ErrInvalidRecord, "record encodes to %d bytes", size).Err()
	}

	now := clock.Now(ctx)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	reason := w.rotateReasonLocked(now)
	w.mu.Unlock()

	if reason != "" {
		if err := w.rotate(ctx, reason); err != nil {
			return err
		}
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.buf = append(w.buf, r)
	w.bufBytes += size
	flush := w.flushDueLocked(now)
	w.mu.Unlock()
	w.opts.Metrics.appended(1)

	if flush {
		return Buffered.Apply(w.Flush(ctx))
	}
	return nil
}

func (w *Writer) flushDueLocked(now time.Time) bool {
	switch {
	case len(w.buf) == 0:
		return false
	case w.opts.MaxRecords > 0 && len(w.buf) >= w.opts.MaxRecords:
		return true
	case w.opts.MaxBytes > 0 && w.bufBytes >= w.opts.MaxBytes:
		return true
	case w.opts.FlushInterval > 0 && now.Sub(w.lastFlush) >= w.opts.FlushInterval:
		return true
	}
	return false
}

func (w *Writer) rotateReasonLocked(now time.Time) string {
	switch {
	case w.rotateDue:
		return "size"
	case !w.nextRotate.IsZero() && !now.Before(w.nextRotate):
		return "time"
	}
	return ""
}

// Flush writes all buffered records as one chunk.
//
// On failure the records stay buffered, ahead of any appended since.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if w.f == nil {
		return ErrClosed
	}

	now := clock.Now(ctx)
	w.mu.Lock()
	recs, nbytes := w.buf, w.bufBytes
	w.buf, w.bufBytes = nil, 0
	if len(recs) == 0 {
		w.lastFlush = now
	}
	w.mu.Unlock()

	if len(recs) == 0 {
		return nil
	}

	if err := w.writeRecords(ctx, recs); err != nil {
		w.mu.Lock()
		w.buf = append(recs, w.buf...)
		w.bufBytes += nbytes
		w.mu.Unlock()

		w.opts.Metrics.flushFailed()
		return errors.Annotate(err, "flushing %d records to %q", len(recs), w.path).Err()
	}

	w.mu.Lock()
	w.lastFlush = now
	if w.opts.RotateSize > 0 && w.size >= w.opts.RotateSize {
		w.rotateDue = true
	}
	w.mu.Unlock()
	return nil
}

// writeRecords encodes recs into as few chunks as format.MaxChunkSize allows
// and appends them under the cross-process lock with a single write.
func (w *Writer) writeRecords(ctx context.Context, recs []*format.Record) error {
	var data []byte
	chunks, uncompressed := 0, 0
	for start := 0; start < len(recs); {
		end, size := start, 0
		for end < len(recs) {
			n := recs[end].EncodedSize()
			if end > start && size+n > format.MaxChunkSize {
				break
			}
			size += n
			end++
		}

		chunk, h, err := format.BuildChunk(recs[start:end], w.opts.Codec)
		if err != nil {
			return err
		}
		data = append(data, chunk...)
		chunks++
		uncompressed += int(h.UncompressedLen)
		start = end
	}

	err := w.withLock(ctx, func() error {
		if err := w.ensureCurrentLocked(ctx); err != nil {
			return err
		}
		st, err := w.f.Stat()
		if err != nil {
			return errors.Annotate(err, "stat").Err()
		}
		start := st.Size()
		if start != w.size {
			// Another writer appended since our last flush, maybe dying midway.
			from := w.size
			if start < from {
				from = format.HeaderSize
			}
			if start, err = w.trimTornTailLocked(ctx, w.f, from, start); err != nil {
				return err
			}
		}

		cw := &iotools.CountingWriter{Writer: w.f, Count: start}
		_, err = cw.Write(data)
		if err == nil && w.opts.Sync {
			err = w.f.Sync()
		}
		if err != nil {
			// Cut the torn tail off so the next chunk starts on a boundary.
			if terr := w.f.Truncate(start); terr != nil {
				logging.WithError(terr).Errorf(ctx, "Failed to truncate %q after a failed write.", w.path)
			}
			return errors.Annotate(err, "appending %d bytes", len(data)).Err()
		}
		w.size = cw.Count
		return nil
	})
	if err != nil {
		return err
	}

	w.chunks.Add(int64(chunks))
	w.records.Add(int64(len(recs)))
	w.written.Add(int64(len(data)))
	w.opts.Metrics.flushed(chunks, len(data)-chunks*format.ChunkHeaderSize, uncompressed)
	return nil
}

// withLock runs fn holding the cross-process lock for the file.
func (w *Writer) withLock(ctx context.Context, fn func() error) error {
	start := clock.Now(ctx)
	err := lock.With(ctx, w.opts.Locker, w.path, w.opts.LockTimeout, func() error {
		w.opts.Metrics.lockWaited(clock.Since(ctx, start))
		return fn()
	})
	if errors.Is(err, lock.ErrTimeout) {
		logging.Fields{
			"path":    w.path,
			"timeout": w.opts.LockTimeout,
		}.Warningf(ctx, "Timed out waiting for the file lock.")
	}
	return err
}

// openActiveLocked points w.f at the file currently at w.path. A missing or
// empty file gets a fresh header. An existing file loses any torn chunk at its
// end.
//
// Must be called holding the cross-process lock.
func (w *Writer) openActiveLocked(ctx context.Context) error {
	f, err := w.openFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Annotate(err, "opening file").Err()
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Annotate(err, "stat").Err()
	}

	size := st.Size()
	if size == 0 {
		hdr := format.NewHeader(w.opts.Codec, w.opts.Strict).Encode()
		if _, err := f.Write(hdr); err != nil {
			f.Close()
			return errors.Annotate(err, "writing header").Err()
		}
		if w.opts.Sync {
			if err := f.Sync(); err != nil {
				f.Close()
				return errors.Annotate(err, "syncing header").Err()
			}
		}
		size = int64(len(hdr))
		logging.Debugf(ctx, "Created clog file %q.", w.path)
	} else {
		buf := make([]byte, format.HeaderSize)
		n, err := f.ReadAt(buf, 0)
		if err != nil && err != io.EOF {
			f.Close()
			return errors.Annotate(err, "reading header").Err()
		}
		if _, err := format.DecodeHeader(buf[:n]); err != nil {
			f.Close()
			return err
		}
		if size, err = w.trimTornTailLocked(ctx, f, format.HeaderSize, size); err != nil {
			f.Close()
			return err
		}
	}

	if w.f != nil {
		if err := w.f.Close(); err != nil {
			logging.WithError(err).Warningf(ctx, "Failed to close the previous handle of %q.", w.path)
		}
	}
	w.f, w.size = f, size
	return nil
}

// trimTornTailLocked truncates f to the end of its last whole chunk, scanning
// from the chunk boundary at off up to size, and returns the new size.
//
// Must be called holding the cross-process lock.
func (w *Writer) trimTornTailLocked(ctx context.Context, f *os.File, off, size int64) (int64, error) {
	end, err := validEnd(f, off, size)
	if err != nil || end == size {
		return end, err
	}
	if err := f.Truncate(end); err != nil {
		return 0, errors.Annotate(err, "truncating torn chunk at %d", end).Err()
	}
	logging.Fields{
		"path":   w.path,
		"offset": end,
		"bytes":  size - end,
	}.Warningf(ctx, "Removed a torn chunk left by an interrupted write.")
	return end, nil
}

// validEnd walks chunk headers from the boundary at off and returns the
// offset where the chunk cut short by size begins, or size if none is.
//
// A write that dies midway leaves a prefix of its chunks: either a partial
// header or a whole header claiming more bytes than the file holds. A header
// that fails to decode is damage, not a torn write, and ends the walk with
// size so the bytes are kept for readers to skip.
func validEnd(f io.ReaderAt, off, size int64) (int64, error) {
	var buf [format.ChunkHeaderSize]byte
	for off < size {
		if size-off < format.ChunkHeaderSize {
			return off, nil
		}
		if _, err := f.ReadAt(buf[:], off); err != nil {
			return 0, errors.Annotate(err, "reading chunk header at %d", off).Err()
		}
		h, err := format.DecodeChunkHeader(buf[:])
		if err != nil {
			return size, nil
		}
		if h.Size() > size-off {
			return off, nil
		}
		off += h.Size()
	}
	return off, nil
}

// currentLocked reports whether w.f is still the file at w.path. It is not
// once another Writer rotated the file away.
func (w *Writer) currentLocked() (bool, error) {
	pst, err := os.Stat(w.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, errors.Annotate(err, "stat").Err()
	}
	fst, err := w.f.Stat()
	if err != nil {
		return false, errors.Annotate(err, "stat").Err()
	}
	return os.SameFile(pst, fst), nil
}

func (w *Writer) ensureCurrentLocked(ctx context.Context) error {
	switch current, err := w.currentLocked(); {
	case err != nil:
		return err
	case current:
		return nil
	}
	logging.Infof(ctx, "%q was rotated by another writer, reopening.", w.path)
	return w.openActiveLocked(ctx)
}

// Close flushes the buffer and closes the file.
//
// Close is idempotent. If the final flush fails, the error is returned, the
// records stay buffered and a later Close retries. Append fails with
// ErrClosed as soon as Close has been called.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	if w.f == nil {
		return nil
	}
	if err := w.flushLocked(ctx); err != nil {
		return err
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return errors.Annotate(err, "closing %q", w.path).Err()
	}
	return nil
}

// Stats returns a snapshot of the Writer's counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	s := Stats{
		BufferedRecords: len(w.buf),
		BufferedBytes:   w.bufBytes,
	}
	w.mu.Unlock()

	w.flushMu.Lock()
	s.FileSize = w.size
	w.flushMu.Unlock()

	s.ChunksWritten = w.chunks.Load()
	s.RecordsWritten = w.records.Load()
	s.BytesWritten = w.written.Load()
	s.Rotations = w.rotations.Load()
	return s
}
