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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/maruel/subcommands"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Akanyi/clog/archive"
	"github.com/Akanyi/clog/common/clock/testclock"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/writer"

	. "github.com/smartystreets/goconvey/convey"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// runCmd runs the clog command line with args, feeding it stdin.
func runCmd(ctx context.Context, u archive.Uploader, stdin string, args ...string) result {
	var out, errOut bytes.Buffer
	app := getApplication()
	app.ctx = ctx
	app.in = strings.NewReader(stdin)
	app.out = &out
	app.err = &errOut
	app.isTTY = func(io.Writer) bool { return false }
	app.uploader = u
	code := subcommands.Run(app, args)
	return result{code, out.String(), errOut.String()}
}

// infoValue returns the value printed by "clog info" for key.
func infoValue(out, key string) string {
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, key+":"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func TestCLI(t *testing.T) {
	t.Parallel()

	Convey("With a clog file", t, func() {
		ctx, _ := testclock.UseTime(context.Background(), testclock.TestTimeUTC)
		path := filepath.Join(t.TempDir(), "app.clog")

		res := runCmd(ctx, nil, "one\ntwo\n\nthree\n", "write", "-logger", "app", path)
		So(res.code, ShouldEqual, 0)

		Convey("cat prints text", func() {
			res := runCmd(ctx, nil, "", "cat", path)
			So(res.code, ShouldEqual, 0)
			So(res.stdout, ShouldEqual,
				"2016-02-03T04:05:06.000Z INFO     app: one\n"+
					"2016-02-03T04:05:06.000Z INFO     app: two\n"+
					"2016-02-03T04:05:06.000Z INFO     app: three\n")
		})

		Convey("cat expands globs", func() {
			other := filepath.Join(filepath.Dir(path), "zz.clog")
			So(runCmd(ctx, nil, "last\n", "write", other).code, ShouldEqual, 0)

			res := runCmd(ctx, nil, "", "cat", filepath.Join(filepath.Dir(path), "*.clog"))
			So(res.code, ShouldEqual, 0)
			So(strings.Count(res.stdout, "\n"), ShouldEqual, 4)
			So(res.stdout, ShouldStartWith, "2016-02-03T04:05:06.000Z INFO     app: one\n")
			So(res.stdout, ShouldEndWith, "INFO     last\n")

			res = runCmd(ctx, nil, "", "cat", filepath.Join(filepath.Dir(path), "*.missing"))
			So(res.code, ShouldEqual, 2)
		})

		Convey("cat colors levels", func() {
			res := runCmd(ctx, nil, "", "cat", "-color", "always", path)
			So(res.code, ShouldEqual, 0)
			So(res.stdout, ShouldContainSubstring, "\x1b[")
			So(res.stdout, ShouldContainSubstring, "app: one")
		})

		Convey("cat prints JSON lines", func() {
			res := runCmd(ctx, nil, "", "cat", "-json", path)
			So(res.code, ShouldEqual, 0)
			lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
			So(lines, ShouldHaveLength, 3)
			var rec map[string]any
			So(json.Unmarshal([]byte(lines[1]), &rec), ShouldBeNil)
			So(rec["message"], ShouldEqual, "two")
			So(rec["level"], ShouldEqual, "INFO")
			So(rec["logger"], ShouldEqual, "app")
			So(rec["time"], ShouldEqual, "2016-02-03T04:05:06.000000007Z")
		})

		Convey("tail prints the last records", func() {
			res := runCmd(ctx, nil, "", "tail", "-n", "2", path)
			So(res.code, ShouldEqual, 0)
			So(res.stdout, ShouldNotContainSubstring, "app: one")
			So(strings.Count(res.stdout, "\n"), ShouldEqual, 2)
			So(res.stdout, ShouldEndWith, "app: three\n")
		})

		Convey("grep filters", func() {
			res := runCmd(ctx, nil, "", "grep", "-i", "T", path)
			So(res.code, ShouldEqual, 0)
			So(strings.Count(res.stdout, "\n"), ShouldEqual, 2)

			res = runCmd(ctx, nil, "", "grep", "-v", "o", path)
			So(res.code, ShouldEqual, 0)
			So(res.stdout, ShouldEndWith, "app: three\n")
			So(strings.Count(res.stdout, "\n"), ShouldEqual, 1)

			res = runCmd(ctx, nil, "", "grep", "-level", "error", ".", path)
			So(res.code, ShouldEqual, 0)
			So(res.stdout, ShouldEqual, "")
		})

		Convey("export writes a JSON array", func() {
			res := runCmd(ctx, nil, "", "export", path)
			So(res.code, ShouldEqual, 0)
			var recs []map[string]any
			So(json.Unmarshal([]byte(res.stdout), &recs), ShouldBeNil)
			So(recs, ShouldHaveLength, 3)
			So(recs[0]["message"], ShouldEqual, "one")
			So(recs[2]["message"], ShouldEqual, "three")
		})

		Convey("export writes compressed msgpack", func() {
			out := filepath.Join(t.TempDir(), "out.msgpack.gz")
			res := runCmd(ctx, nil, "", "export", "-format", "msgpack", "-compress", "gzip", "-o", out, path)
			So(res.code, ShouldEqual, 0)

			f, err := os.Open(out)
			So(err, ShouldBeNil)
			defer f.Close()
			gz, err := gzip.NewReader(f)
			So(err, ShouldBeNil)
			dec := msgpack.NewDecoder(gz)
			var msgs []string
			for {
				var e exported
				if err := dec.Decode(&e); err == io.EOF {
					break
				} else {
					So(err, ShouldBeNil)
				}
				So(e.Level, ShouldEqual, "INFO")
				msgs = append(msgs, e.Message)
			}
			So(msgs, ShouldResemble, []string{"one", "two", "three"})
		})

		Convey("export writes an empty array for an empty file", func() {
			empty := filepath.Join(t.TempDir(), "empty.clog")
			So(runCmd(ctx, nil, "", "write", empty).code, ShouldEqual, 0)
			res := runCmd(ctx, nil, "", "export", empty)
			So(res.code, ShouldEqual, 0)
			So(res.stdout, ShouldEqual, "[]\n")
		})

		Convey("info describes the file", func() {
			res := runCmd(ctx, nil, "", "info", path)
			So(res.code, ShouldEqual, 0)
			So(infoValue(res.stdout, "Codec"), ShouldEqual, "zstd")
			So(infoValue(res.stdout, "Records"), ShouldEqual, "3")
			So(infoValue(res.stdout, "Chunks"), ShouldEqual, "1 ok, 0 corrupt, 0 bad header, 0 truncated")
			So(res.stdout, ShouldContainSubstring, "OFFSET")

			res = runCmd(ctx, nil, "", "info", "-summary", path)
			So(res.code, ShouldEqual, 0)
			So(res.stdout, ShouldNotContainSubstring, "OFFSET")
		})

		Convey("write appends", func() {
			So(runCmd(ctx, nil, "four\n", "write", "-level", "warning", path).code, ShouldEqual, 0)
			res := runCmd(ctx, nil, "", "tail", "-n", "1", path)
			So(res.stdout, ShouldEqual, "2016-02-03T04:05:06.000Z WARNING  four\n")
		})

		Convey("bad command lines", func() {
			So(runCmd(ctx, nil, "", "cat", "-color", "rainbow", path).code, ShouldEqual, 1)
			So(runCmd(ctx, nil, "", "tail", path, path).code, ShouldEqual, 1)
			So(runCmd(ctx, nil, "", "export", "-format", "xml", path).code, ShouldEqual, 1)
			So(runCmd(ctx, nil, "", "write", "-level", "loud", path).code, ShouldEqual, 1)
			So(runCmd(ctx, nil, "", "write", "-rotate-schedule", "never", path).code, ShouldEqual, 1)
			So(runCmd(ctx, nil, "", "upload", path).code, ShouldEqual, 1)
		})

		Convey("missing files fail", func() {
			res := runCmd(ctx, nil, "", "cat", path+".missing")
			So(res.code, ShouldEqual, 2)
			So(res.stderr, ShouldContainSubstring, "Failed")
		})
	})
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	Convey("write -json maps keys onto records", t, func() {
		ctx, _ := testclock.UseTime(context.Background(), testclock.TestTimeUTC)
		path := filepath.Join(t.TempDir(), "app.clog")

		in := `{"msg":"boom","level":"error","logger":"db","attempt":3,"ok":false,"ctx":{"id":1}}` + "\n" +
			`{"message":"multi\nline","time":"2020-01-02T03:04:05Z","ratio":0.5}` + "\n"
		So(runCmd(ctx, nil, in, "write", "-json", "-codec", "gzip", path).code, ShouldEqual, 0)

		res := runCmd(ctx, nil, "", "cat", path)
		So(res.code, ShouldEqual, 0)
		So(res.stdout, ShouldEqual,
			"2016-02-03T04:05:06.000Z ERROR    db: boom attempt=3 ctx=\"{\\\"id\\\":1}\" ok=false\n"+
				"2020-01-02T03:04:05.000Z INFO     multi\n"+
				strings.Repeat(" ", 34)+"line ratio=0.5\n")

		Convey("and rejects garbage", func() {
			res := runCmd(ctx, nil, "not json\n", "write", "-json", path)
			So(res.code, ShouldEqual, 2)
			So(res.stderr, ShouldContainSubstring, "line 1")
		})
	})
}

func TestParseJSONLine(t *testing.T) {
	t.Parallel()

	Convey("Unknown levels stay fields", t, func() {
		r := &format.Record{Level: format.LevelInfo}
		So(parseJSONLine([]byte(`{"level":"loud","n":1.5,"big":18446744073709551615}`), r), ShouldBeNil)
		So(r.Level, ShouldEqual, format.LevelInfo)
		So(r.Fields, ShouldHaveLength, 3)
		So(r.Fields[0].Key, ShouldEqual, "big")
		So(r.Fields[0].Value.Kind(), ShouldEqual, format.KindFloat64)
		So(r.Fields[1].Key, ShouldEqual, "level")
		So(r.Fields[1].Value.Str(), ShouldEqual, "loud")
		So(r.Fields[2].Value.Float64(), ShouldEqual, 1.5)
	})
}

func TestUpload(t *testing.T) {
	t.Parallel()

	Convey("upload sends every archive", t, func() {
		ctx, _ := testclock.UseTime(context.Background(), testclock.TestTimeUTC)
		path := filepath.Join(t.TempDir(), "app.clog")

		w, err := writer.Open(ctx, path, writer.Options{})
		So(err, ShouldBeNil)
		for range 2 {
			So(w.Append(ctx, &format.Record{Time: testclock.TestTimeUTC, Level: format.LevelInfo, Message: "hi"}), ShouldBeNil)
			So(w.Rotate(ctx), ShouldBeNil)
		}
		So(w.Close(ctx), ShouldBeNil)

		u := &archive.Memory{}
		res := runCmd(ctx, u, "", "upload", "-prefix", "logs/", "-delete", path)
		So(res.code, ShouldEqual, 0)
		So(u.Keys(), ShouldResemble, []string{
			"logs/app.clog.20160203T040506Z.000001",
			"logs/app.clog.20160203T040506Z.000002",
		})
		archives, err := writer.ListArchives(path)
		So(err, ShouldBeNil)
		So(archives, ShouldBeEmpty)
	})
}
