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

package handler

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/Akanyi/clog/common/clock/testclock"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/reader"
	"github.com/Akanyi/clog/writer"
)

type collector struct {
	mu   sync.Mutex
	recs []*format.Record
	err  error
}

func (c *collector) Append(ctx context.Context, r *format.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := r.Validate(); err != nil {
		return err
	}
	c.recs = append(c.recs, r)
	// Exercises the recursion guard of Use.
	logging.Infof(ctx, "appended %q", r.Message)
	return c.err
}

func (c *collector) last() *format.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recs[len(c.recs)-1]
}

func TestHandler(t *testing.T) {
	t.Parallel()

	Convey(`A slog Handler`, t, func() {
		c := &collector{}
		h := NewHandler(c, &Options{Logger: "app"})
		log := slog.New(h)

		Convey(`converts levels and attributes`, func() {
			log.Warn("disk almost full",
				"free", 1024,
				"ratio", 0.03,
				"mount", "/data",
				"ok", false,
				"took", time.Second,
				"err", errors.New("ENOSPC"))

			r := c.last()
			So(r.Level, ShouldEqual, format.LevelWarning)
			So(r.Logger, ShouldEqual, "app")
			So(r.Message, ShouldEqual, "disk almost full")
			So(r.Time.IsZero(), ShouldBeFalse)
			So(cmp.Diff([]format.Field{
				format.F("free", int64(1024)),
				format.F("ratio", 0.03),
				format.F("mount", "/data"),
				format.F("ok", false),
				format.F("took", time.Second),
				format.F("err", "ENOSPC"),
			}, r.Fields), ShouldEqual, "")
		})

		Convey(`maps slog levels`, func() {
			So(Level(slog.LevelDebug-4), ShouldEqual, format.LevelDebug)
			So(Level(slog.LevelDebug), ShouldEqual, format.LevelDebug)
			So(Level(slog.LevelInfo), ShouldEqual, format.LevelInfo)
			So(Level(slog.LevelWarn+1), ShouldEqual, format.LevelWarning)
			So(Level(slog.LevelError), ShouldEqual, format.LevelError)
			So(Level(slog.LevelError+4), ShouldEqual, format.LevelCritical)
		})

		Convey(`filters by level`, func() {
			log.Debug("hidden")
			So(c.recs, ShouldBeEmpty)

			log = slog.New(NewHandler(c, &Options{Level: slog.LevelDebug}))
			log.Debug("shown")
			So(c.last().Level, ShouldEqual, format.LevelDebug)
		})

		Convey(`flattens groups with dots`, func() {
			log.WithGroup("req").With("id", "r1").Info("served",
				slog.Group("resp", "code", 200, slog.Group("", "bytes", 5)),
				slog.Group("empty"))

			So(c.last().Fields, ShouldResemble, []format.Field{
				format.F("req.id", "r1"),
				format.F("req.resp.code", int64(200)),
				format.F("req.resp.bytes", int64(5)),
			})
		})

		Convey(`lets later attributes win`, func() {
			log.With("user", "a").Info("x", "user", "b")
			So(c.last().Fields, ShouldResemble, []format.Field{format.F("user", "b")})
		})

		Convey(`takes the logger name from an attribute`, func() {
			log.With(LoggerKey, "db").Info("query")
			So(c.last().Logger, ShouldEqual, "db")
			So(c.last().Fields, ShouldBeEmpty)

			log.WithGroup("g").Info("query", LoggerKey, "nested")
			So(c.last().Logger, ShouldEqual, "app")
			So(c.last().Fields, ShouldResemble, []format.Field{format.F("g.logger", "nested")})
		})

		Convey(`adds the source position`, func() {
			log = slog.New(NewHandler(c, &Options{AddSource: true}))
			log.Info("here")
			src, ok := c.last().Field(SourceKey)
			So(ok, ShouldBeTrue)
			So(src.Str(), ShouldContainSubstring, "handler_test.go:")
		})

		Convey(`returns append errors`, func() {
			c.err = errors.New("boom")
			So(h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0)), ShouldEqual, c.err)
		})
	})
}

func TestLogger(t *testing.T) {
	t.Parallel()

	Convey(`Use routes context logging into an Appender`, t, func() {
		ctx, _ := testclock.UseTime(context.Background(), testclock.TestTimeUTC)
		c := &collector{}
		ctx = Use(ctx, c, "clog")

		logging.Debugf(ctx, "dropped by the default level")
		logging.Fields{"path": "/x", "n": 3}.Warningf(ctx, "hello %s", "world")

		So(c.recs, ShouldHaveLength, 1)
		r := c.recs[0]
		So(r.Level, ShouldEqual, format.LevelWarning)
		So(r.Logger, ShouldEqual, "clog")
		So(r.Message, ShouldEqual, "hello world")
		So(r.Time.Equal(testclock.TestTimeUTC), ShouldBeTrue)
		So(r.Fields, ShouldResemble, []format.Field{format.F("n", 3), format.F("path", "/x")})

		ctx = logging.SetLevel(ctx, logging.Debug)
		logging.Debugf(ctx, "now visible")
		So(c.recs, ShouldHaveLength, 2)
		So(c.recs[1].Level, ShouldEqual, format.LevelDebug)
	})
}

func TestHandlerWithWriter(t *testing.T) {
	t.Parallel()

	Convey(`Records logged through slog read back from the file`, t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "slog.clog")
		w, err := writer.Open(ctx, path, writer.Options{})
		So(err, ShouldBeNil)

		log := slog.New(NewHandler(w, &Options{Logger: "svc"}))
		for _, m := range []string{"one", "two", "three"} {
			log.Info(m, "len", len(m))
		}
		So(w.Close(ctx), ShouldBeNil)

		r, err := reader.Open(path, reader.Options{Strict: true})
		So(err, ShouldBeNil)
		defer r.Close()

		var got []string
		it := r.Iterate()
		for it.Next() {
			rec := it.Record()
			n, _ := rec.Field("len")
			So(n.Int64(), ShouldEqual, int64(len(rec.Message)))
			got = append(got, rec.Logger+":"+rec.Message)
		}
		So(it.Err(), ShouldBeNil)
		So(strings.Join(got, ","), ShouldEqual, "svc:one,svc:two,svc:three")
	})
}
