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

package reader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/Akanyi/clog/codec"
	"github.com/Akanyi/clog/format"
)

var testTime = time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)

func mkRecords(chunk, n int) []*format.Record {
	out := make([]*format.Record, n)
	for i := range out {
		out[i] = &format.Record{
			Time:    testTime.Add(time.Duration(chunk*1000+i) * time.Second),
			Level:   format.LevelInfo,
			Logger:  fmt.Sprintf("chunk%d", chunk),
			Message: fmt.Sprintf("record %d of chunk %d, padded to be worth compressing", i, chunk),
			Fields:  []format.Field{format.F("i", i)},
		}
	}
	return out
}

// testFile is an in-memory clog file image.
type testFile struct {
	data    []byte
	offsets []int // chunk start offsets
	records [][]*format.Record
}

func newTestFile(strict bool) *testFile {
	return &testFile{data: format.NewHeader(codec.Zstd, strict).Encode()}
}

func (f *testFile) add(recs []*format.Record, c codec.ID) *testFile {
	chunk, _, err := format.BuildChunk(recs, c)
	if err != nil {
		panic(err)
	}
	f.offsets = append(f.offsets, len(f.data))
	f.records = append(f.records, recs)
	f.data = append(f.data, chunk...)
	return f
}

func (f *testFile) write(t testing.TB) string {
	path := filepath.Join(t.TempDir(), "test.clog")
	if err := os.WriteFile(path, f.data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func flatten(chunks ...[]*format.Record) []*format.Record {
	var out []*format.Record
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func readAll(r *Reader) ([]*format.Record, Stats, error) {
	var out []*format.Record
	it := r.Iterate()
	for it.Next() {
		out = append(out, it.Record())
	}
	return out, it.Stats(), it.Err()
}

func TestReader(t *testing.T) {
	t.Parallel()

	Convey(`A Reader`, t, func() {
		tf := newTestFile(false).
			add(mkRecords(0, 5), codec.Zstd).
			add(mkRecords(1, 4), codec.Gzip).
			add(mkRecords(2, 3), codec.S2)

		open := func(opts Options) *Reader {
			r, err := Open(tf.write(t), opts)
			So(err, ShouldBeNil)
			Reset(func() { r.Close() })
			return r
		}

		Convey(`reads every record in order`, func() {
			got, st, err := readAll(open(Options{}))
			So(err, ShouldBeNil)
			So(cmp.Diff(flatten(tf.records...), got), ShouldEqual, "")
			So(st, ShouldResemble, Stats{Chunks: 3, Records: 12})
		})

		Convey(`can iterate more than once`, func() {
			r := open(Options{})
			first, _, _ := readAll(r)
			second, _, _ := readAll(r)
			So(second, ShouldHaveLength, len(first))
		})

		Convey(`contains a damaged payload to its chunk`, func() {
			tf.data[tf.offsets[1]+format.ChunkHeaderSize+3] ^= 0xff

			got, st, err := readAll(open(Options{}))
			So(err, ShouldBeNil)
			So(cmp.Diff(flatten(tf.records[0], tf.records[2]), got), ShouldEqual, "")
			So(st.SkippedChunks, ShouldEqual, 1)
			So(st.Chunks, ShouldEqual, 2)

			Convey(`and fails on it in strict mode`, func() {
				got, _, err := readAll(open(Options{Strict: true}))
				So(errors.Is(err, format.ErrChecksum), ShouldBeTrue)
				So(cmp.Diff(tf.records[0], got), ShouldEqual, "")
			})
		})

		Convey(`resynchronises after a damaged chunk header`, func() {
			tf.data[tf.offsets[1]+1] ^= 0xff

			got, st, err := readAll(open(Options{}))
			So(err, ShouldBeNil)
			So(cmp.Diff(flatten(tf.records[0], tf.records[2]), got), ShouldEqual, "")
			So(st.SkippedChunks, ShouldEqual, 1)

			Convey(`and fails on it in strict mode`, func() {
				_, _, err := readAll(open(Options{Strict: true}))
				So(errors.Is(err, format.ErrFormat), ShouldBeTrue)
			})
		})

		Convey(`skips garbage at the end of the file`, func() {
			tf.data = append(tf.data, []byte("this is definitely not a chunk header")...)
			got, st, err := readAll(open(Options{}))
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 12)
			So(st.SkippedChunks, ShouldEqual, 1)
			So(st.Truncated, ShouldBeFalse)
		})

		Convey(`stops cleanly when cut at a chunk boundary`, func() {
			tf.data = tf.data[:tf.offsets[2]]
			got, st, err := readAll(open(Options{Strict: true}))
			So(err, ShouldBeNil)
			So(cmp.Diff(flatten(tf.records[:2]...), got), ShouldEqual, "")
			So(st.Truncated, ShouldBeFalse)
		})

		Convey(`reports a chunk cut inside its payload`, func() {
			tf.data = tf.data[:tf.offsets[2]+format.ChunkHeaderSize+2]
			got, st, err := readAll(open(Options{}))
			So(err, ShouldBeNil)
			So(cmp.Diff(flatten(tf.records[:2]...), got), ShouldEqual, "")
			So(st.Truncated, ShouldBeTrue)
			So(st.SkippedChunks, ShouldEqual, 0)

			Convey(`as an error in strict mode`, func() {
				_, st, err := readAll(open(Options{Strict: true}))
				So(errors.Is(err, format.ErrTruncated), ShouldBeTrue)
				So(st.Truncated, ShouldBeTrue)
			})
		})

		Convey(`reports a chunk cut inside its header`, func() {
			tf.data = tf.data[:tf.offsets[2]+10]
			got, st, err := readAll(open(Options{}))
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 9)
			So(st.Truncated, ShouldBeTrue)
		})

		Convey(`skips chunks with an unknown codec`, func() {
			raw, err := format.EncodeRecords(mkRecords(9, 2))
			So(err, ShouldBeNil)
			tf.data = append(tf.data, format.EncodeChunk(raw, codec.ID(77), len(raw), 2)...)
			tf.add(mkRecords(3, 1), codec.Identity)

			got, st, err := readAll(open(Options{}))
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 13)
			So(st.SkippedChunks, ShouldEqual, 1)

			Convey(`and fails on them in strict mode`, func() {
				_, _, err := readAll(open(Options{Strict: true}))
				So(errors.Is(err, codec.ErrUnsupportedCodec), ShouldBeTrue)
			})
		})

		Convey(`treats oversized chunks as damaged headers`, func() {
			got, st, err := readAll(open(Options{MaxChunkSize: 64}))
			So(err, ShouldBeNil)
			So(st.SkippedChunks, ShouldBeGreaterThan, 0)
			So(len(got), ShouldBeLessThan, 12)
		})

		Convey(`Tail`, func() {
			r := open(Options{})

			last, err := r.Tail(4)
			So(err, ShouldBeNil)
			all := flatten(tf.records...)
			So(cmp.Diff(all[len(all)-4:], last), ShouldEqual, "")

			last, err = r.Tail(100)
			So(err, ShouldBeNil)
			So(cmp.Diff(all, last), ShouldEqual, "")

			last, err = r.Tail(0)
			So(err, ShouldBeNil)
			So(last, ShouldHaveLength, 0)
		})

		Convey(`Chunks describes damage`, func() {
			tf.data[tf.offsets[0]+format.ChunkHeaderSize] ^= 0xff
			tf.data = tf.data[:len(tf.data)-1]

			var statuses []Status
			chunks := open(Options{}).Chunks()
			for chunks.Next() {
				statuses = append(statuses, chunks.Chunk().Status)
				if chunks.Chunk().Status == StatusOK {
					So(chunks.Records(), ShouldHaveLength, 4)
				}
			}
			So(chunks.Err(), ShouldBeNil)
			So(statuses, ShouldResemble, []Status{StatusCorrupt, StatusOK, StatusTruncated})
		})
	})

	Convey(`Open`, t, func() {
		dir := t.TempDir()

		Convey(`refuses files that are not clog files`, func() {
			path := filepath.Join(dir, "not.clog")
			So(os.WriteFile(path, []byte("plain text, nothing to see"), 0644), ShouldBeNil)
			_, err := Open(path, Options{})
			So(errors.Is(err, format.ErrFormat), ShouldBeTrue)
		})

		Convey(`refuses short files`, func() {
			path := filepath.Join(dir, "short.clog")
			So(os.WriteFile(path, []byte("CLOG"), 0644), ShouldBeNil)
			_, err := Open(path, Options{})
			So(errors.Is(err, format.ErrFormat), ShouldBeTrue)
		})

		Convey(`reports missing files`, func() {
			_, err := Open(filepath.Join(dir, "missing.clog"), Options{})
			So(errors.Is(err, fs.ErrNotExist), ShouldBeTrue)
		})

		Convey(`honors the header strict flag on request`, func() {
			tf := newTestFile(true).add(mkRecords(0, 2), codec.Identity)
			tf.data[tf.offsets[0]+format.ChunkHeaderSize] ^= 0xff
			path := tf.write(t)

			lenient, err := Open(path, Options{})
			So(err, ShouldBeNil)
			defer lenient.Close()
			So(lenient.Header().Strict, ShouldBeTrue)
			So(lenient.Strict(), ShouldBeFalse)
			_, _, err = readAll(lenient)
			So(err, ShouldBeNil)

			strict, err := Open(path, Options{HonorHeaderStrict: true})
			So(err, ShouldBeNil)
			defer strict.Close()
			So(strict.Strict(), ShouldBeTrue)
			_, _, err = readAll(strict)
			So(errors.Is(err, format.ErrChecksum), ShouldBeTrue)
		})
	})
}

func TestFollow(t *testing.T) {
	t.Parallel()

	Convey(`Follow`, t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tf := newTestFile(false).add(mkRecords(0, 2), codec.Identity)
		path := tf.write(t)

		r, err := Open(path, Options{})
		So(err, ShouldBeNil)
		defer r.Close()

		got := make(chan *format.Record, 100)
		done := make(chan error, 1)
		go func() {
			done <- r.Follow(ctx, 2*time.Millisecond, func(rec *format.Record) error {
				got <- rec
				return nil
			})
		}()

		var followErr error
		stopped := false
		stop := func() error {
			if !stopped {
				cancel()
				followErr = <-done
				stopped = true
			}
			return followErr
		}
		defer stop()

		receive := func(n int) []*format.Record {
			var out []*format.Record
			for len(out) < n {
				select {
				case rec := <-got:
					out = append(out, rec)
				case <-time.After(5 * time.Second):
					return out
				}
			}
			return out
		}
		appendBytes := func(p string, b []byte) {
			f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0644)
			So(err, ShouldBeNil)
			_, err = f.Write(b)
			So(err, ShouldBeNil)
			So(f.Close(), ShouldBeNil)
		}

		So(receive(2), ShouldHaveLength, 2)

		Convey(`waits for a chunk being written`, func() {
			chunk, _, err := format.BuildChunk(mkRecords(1, 3), codec.Identity)
			So(err, ShouldBeNil)

			appendBytes(path, chunk[:30])
			time.Sleep(20 * time.Millisecond)
			So(got, ShouldHaveLength, 0)

			appendBytes(path, chunk[30:])
			So(cmp.Diff(mkRecords(1, 3), receive(3)), ShouldEqual, "")

			So(stop(), ShouldBeNil)
		})

		Convey(`moves on to the new file after a rotation`, func() {
			chunk, _, err := format.BuildChunk(mkRecords(1, 1), codec.Identity)
			So(err, ShouldBeNil)
			appendBytes(path, chunk)
			So(os.Rename(path, path+".20260304T050607Z.000001"), ShouldBeNil)

			fresh := newTestFile(false).add(mkRecords(2, 2), codec.Identity)
			So(os.WriteFile(path, fresh.data, 0644), ShouldBeNil)

			So(cmp.Diff(flatten(mkRecords(1, 1), mkRecords(2, 2)), receive(3)), ShouldEqual, "")

			So(stop(), ShouldBeNil)
		})

		Convey(`stops on a callback error`, func() {
			boom := errors.New("boom")
			r2, err := Open(path, Options{})
			So(err, ShouldBeNil)
			defer r2.Close()
			err = r2.Follow(ctx, time.Millisecond, func(*format.Record) error { return boom })
			So(err, ShouldEqual, boom)
		})
	})
}
