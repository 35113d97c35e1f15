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

// Package reader replays the records of a clog file.
//
// Readers never take the writers' lock. A chunk still being appended shows up
// as a truncated trailing chunk, which ends iteration without an error unless
// the Reader is strict.
//
// Outside of strict mode, damage is contained to the chunk it hits: a chunk
// whose payload fails its checksum, uses an unknown codec or does not decode
// is skipped, and a chunk whose header fails its own checksum is skipped by
// scanning forward to the next valid chunk header. Iterator.Stats reports
// what was skipped.
package reader

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/Akanyi/clog/common/clock"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/format"
)

// Options configures a Reader.
type Options struct {
	// Strict turns corruption and truncation into errors.
	Strict bool

	// HonorHeaderStrict makes the Reader strict when the file header carries
	// the strict-mode marker.
	HonorHeaderStrict bool

	// MaxChunkSize rejects chunk headers declaring larger payloads as
	// corrupt. Defaults to, and may not exceed, format.MaxChunkSize.
	MaxChunkSize int64
}

// Reader reads a single clog file.
type Reader struct {
	path   string
	opts   Options
	f      *os.File
	header format.Header
}

// Open opens the clog file at path and validates its header.
func Open(path string, opts Options) (*Reader, error) {
	if opts.MaxChunkSize <= 0 || opts.MaxChunkSize > format.MaxChunkSize {
		opts.MaxChunkSize = format.MaxChunkSize
	}
	r := &Reader{path: path, opts: opts}
	if err := r.open(); err != nil {
		return nil, errors.Annotate(err, "opening %q", path).Err()
	}
	return r, nil
}

func (r *Reader) open() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	h, err := format.ReadHeader(f)
	if err != nil {
		f.Close()
		return err
	}
	if r.f != nil {
		r.f.Close()
	}
	r.f, r.header = f, h
	return nil
}

// Path returns the path the Reader was opened with.
func (r *Reader) Path() string { return r.path }

// Header returns the file header.
func (r *Reader) Header() format.Header { return r.header }

// Strict reports whether corruption is fatal for this Reader.
func (r *Reader) Strict() bool {
	return r.opts.Strict || (r.opts.HonorHeaderStrict && r.header.Strict)
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Iterate returns a cursor over all records, starting from the first chunk.
//
// Iterators only use positioned reads, so any number of them may be used
// concurrently.
func (r *Reader) Iterate() *Iterator {
	return &Iterator{chunks: r.Chunks()}
}

// Tail returns the last n records of the file, oldest first.
func (r *Reader) Tail(n int) ([]*format.Record, error) {
	if n <= 0 {
		return nil, nil
	}

	ring := make([]*format.Record, 0, n)
	next := 0
	it := r.Iterate()
	for it.Next() {
		if len(ring) < n {
			ring = append(ring, it.Record())
			continue
		}
		ring[next] = it.Record()
		next = (next + 1) % n
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	out := make([]*format.Record, 0, len(ring))
	out = append(out, ring[next:]...)
	return append(out, ring[:next]...), nil
}

// Follow calls fn for every record in the file, then keeps polling for new
// chunks every poll until ctx is cancelled or fn returns an error.
//
// A truncated trailing chunk is treated as a chunk still being written and is
// retried on the next poll. When the file is rotated away, Follow finishes the
// old file and continues with the new one.
//
// Follow returns nil when ctx is cancelled.
func (r *Reader) Follow(ctx context.Context, poll time.Duration, fn func(*format.Record) error) error {
	it := r.Iterate()
	it.chunks.follow = true

	drain := func() error {
		it.chunks.resume()
		for it.Next() {
			if err := fn(it.Record()); err != nil {
				return err
			}
		}
		return it.Err()
	}

	for {
		if err := drain(); err != nil {
			return err
		}

		if r.rotated() {
			// Writers stop touching a file once it is renamed, so one more pass
			// picks up everything it will ever hold.
			if err := drain(); err != nil {
				return err
			}
			switch err := r.open(); {
			case err == nil:
				logging.Debugf(ctx, "%q was rotated, following the new file.", r.path)
				it = r.Iterate()
				it.chunks.follow = true
				continue
			default:
				logging.WithError(err).Debugf(ctx, "%q is not ready yet.", r.path)
			}
		}

		if tr := clock.Sleep(ctx, poll); tr.Incomplete() {
			return nil
		}
	}
}

// rotated reports whether r.path now names a different file than the one
// being read.
func (r *Reader) rotated() bool {
	pst, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	fst, err := r.f.Stat()
	if err != nil {
		return false
	}
	return !os.SameFile(pst, fst)
}

// Stats describes what an iterator has seen so far.
type Stats struct {
	// Chunks is the number of valid chunks read.
	Chunks int
	// Records is the number of records returned.
	Records int
	// SkippedChunks is the number of corrupt chunks or damaged regions
	// skipped.
	SkippedChunks int
	// Truncated is set if the file ended part way through a chunk.
	Truncated bool
}

// Iterator is a lazy cursor over the records of a file, in file order.
type Iterator struct {
	chunks *ChunkIterator
	recs   []*format.Record
	idx    int
	cur    *format.Record
	count  int
}

// Next advances to the next record, returning false at the end of the file
// or on error. Check Err afterwards.
func (it *Iterator) Next() bool {
	for it.idx >= len(it.recs) {
		it.recs, it.idx = nil, 0
		if !it.chunks.Next() {
			it.cur = nil
			return false
		}
		if it.chunks.info.Status == StatusOK {
			it.recs = it.chunks.recs
		}
	}
	it.cur = it.recs[it.idx]
	it.idx++
	it.count++
	return true
}

// Record returns the current record.
func (it *Iterator) Record() *format.Record { return it.cur }

// Err returns the error which stopped iteration, if any. Corruption is only
// reported here in strict mode.
func (it *Iterator) Err() error { return it.chunks.Err() }

// Stats returns the iterator's counters.
func (it *Iterator) Stats() Stats {
	s := it.chunks.Stats()
	s.Records = it.count
	return s
}

// Status classifies a chunk.
type Status int

// Chunk statuses.
const (
	// StatusOK is a valid chunk.
	StatusOK Status = iota
	// StatusCorrupt is a chunk with a valid header whose payload failed to
	// verify or decode.
	StatusCorrupt
	// StatusBadHeader is a damaged region which was skipped by scanning for
	// the next valid chunk header.
	StatusBadHeader
	// StatusTruncated is a chunk cut short by the end of the file.
	StatusTruncated
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCorrupt:
		return "corrupt"
	case StatusBadHeader:
		return "bad-header"
	case StatusTruncated:
		return "truncated"
	}
	return "unknown"
}

// ChunkInfo describes one chunk, or one damaged region, of a file.
type ChunkInfo struct {
	// Offset is where the chunk starts in the file.
	Offset int64
	// Size is the number of bytes the chunk occupies.
	Size int64
	// Header is the chunk header; zero for StatusBadHeader.
	Header format.ChunkHeader
	Status Status
	// Err is the problem found with a chunk that is not StatusOK.
	Err error
}

// ChunkIterator is a cursor over the chunks of a file. In non-strict mode it
// yields damaged chunks too, with a Status other than StatusOK.
type ChunkIterator struct {
	r      *Reader
	off    int64
	info   ChunkInfo
	recs   []*format.Record
	stats  Stats
	err    error
	done   bool
	follow bool
}

// Chunks returns a cursor over the file's chunks, starting from the first.
func (r *Reader) Chunks() *ChunkIterator {
	return &ChunkIterator{r: r, off: format.HeaderSize}
}

// Chunk returns the current chunk.
func (c *ChunkIterator) Chunk() ChunkInfo { return c.info }

// Records returns the decoded records of the current chunk, if it is valid.
func (c *ChunkIterator) Records() []*format.Record { return c.recs }

// Err returns the error which stopped iteration, if any.
func (c *ChunkIterator) Err() error { return c.err }

// Stats returns the iterator's counters. Records is always zero.
func (c *ChunkIterator) Stats() Stats { return c.stats }

// resume lets an iterator that reached the end of the file look for more.
func (c *ChunkIterator) resume() {
	if c.err == nil {
		c.done = false
	}
}

// Next advances to the next chunk.
func (c *ChunkIterator) Next() bool {
	c.info, c.recs = ChunkInfo{}, nil
	if c.done || c.err != nil {
		return false
	}

	off := c.off
	strict := c.r.Strict()

	hdr := make([]byte, format.ChunkHeaderSize)
	n, err := c.r.f.ReadAt(hdr, off)
	switch {
	case err != nil && err != io.EOF:
		c.err = errors.Annotate(err, "reading chunk header at offset %d", off).Err()
		return false
	case n == 0:
		c.done = true
		return false
	case n < format.ChunkHeaderSize:
		return c.truncated(ChunkInfo{Offset: off, Size: int64(n)},
			errors.Annotate(format.ErrTruncated, "chunk header at offset %d cut at %d bytes", off, n).Err())
	}

	h, err := format.DecodeChunkHeader(hdr)
	if err == nil && (int64(h.CompressedLen) > c.r.opts.MaxChunkSize || int64(h.UncompressedLen) > c.r.opts.MaxChunkSize) {
		err = errors.Annotate(format.ErrFormat, "chunk lengths %d/%d exceed %d",
			h.CompressedLen, h.UncompressedLen, c.r.opts.MaxChunkSize).Err()
	}
	if err != nil {
		err = errors.Annotate(err, "chunk header at offset %d", off).Err()
		if strict {
			c.err = err
			return false
		}
		next, found, rerr := c.r.resync(off + 1)
		if rerr != nil {
			c.err = rerr
			return false
		}
		c.stats.SkippedChunks++
		c.info = ChunkInfo{Offset: off, Size: next - off, Status: StatusBadHeader, Err: err}
		c.off = next
		c.done = !found
		return true
	}

	payload := make([]byte, h.CompressedLen)
	n, err = c.r.f.ReadAt(payload, off+format.ChunkHeaderSize)
	switch {
	case err != nil && err != io.EOF:
		c.err = errors.Annotate(err, "reading chunk at offset %d", off).Err()
		return false
	case n < len(payload):
		return c.truncated(ChunkInfo{Offset: off, Size: format.ChunkHeaderSize + int64(n), Header: h},
			errors.Annotate(format.ErrTruncated, "chunk at offset %d has %d of %d payload bytes", off, n, len(payload)).Err())
	}

	c.off = off + h.Size()
	c.info = ChunkInfo{Offset: off, Size: h.Size(), Header: h}
	recs, err := format.DecodeChunk(h, payload)
	if err != nil {
		err = errors.Annotate(err, "chunk at offset %d", off).Err()
		if strict {
			c.err = err
			return false
		}
		c.stats.SkippedChunks++
		c.info.Status, c.info.Err = StatusCorrupt, err
		return true
	}
	c.recs = recs
	c.stats.Chunks++
	return true
}

// truncated handles a chunk cut short by the end of the file. When following,
// the chunk is assumed to be still in flight and will be re-read from the
// same offset.
func (c *ChunkIterator) truncated(info ChunkInfo, err error) bool {
	c.done = true
	if c.follow {
		return false
	}
	c.stats.Truncated = true
	if c.r.Strict() {
		c.err = err
		return false
	}
	info.Status, info.Err = StatusTruncated, err
	c.info = info
	return true
}

const resyncBlock = 64 << 10

// resync scans forward from offset from for the next valid chunk header. If
// none is found it returns the end of the file.
func (r *Reader) resync(from int64) (int64, bool, error) {
	buf := make([]byte, resyncBlock+format.ChunkHeaderSize-1)
	for pos := from; ; pos += resyncBlock {
		n, err := r.f.ReadAt(buf, pos)
		if err != nil && err != io.EOF {
			return 0, false, errors.Annotate(err, "scanning for a chunk header at offset %d", pos).Err()
		}
		for i := 0; i+format.ChunkHeaderSize <= n; i++ {
			h, err := format.DecodeChunkHeader(buf[i:n])
			if err == nil && int64(h.CompressedLen) <= r.opts.MaxChunkSize && int64(h.UncompressedLen) <= r.opts.MaxChunkSize {
				return pos + int64(i), true, nil
			}
		}
		if n < len(buf) {
			return pos + int64(n), false, nil
		}
	}
}
