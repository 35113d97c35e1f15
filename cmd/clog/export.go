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
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/maruel/subcommands"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/iotools"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/format"
)

var cmdExport = &subcommands.Command{
	UsageLine: "export [options] <file or glob>...",
	ShortDesc: "converts clog files to JSON, text or msgpack",
	LongDesc: `Converts the records of clog files into another format.

-format json writes a single JSON array, text writes one line per record and
msgpack writes a stream of msgpack maps. The output may be compressed with
-compress.`,
	CommandRun: func() subcommands.CommandRun {
		c := &exportRun{}
		c.Init()
		return c
	},
}

type exportRun struct {
	commonFlags
	format   string
	compress string
	output   string
}

func (c *exportRun) Init() {
	c.commonFlags.Init()
	c.initReaderFlags()
	c.Flags.StringVar(&c.format, "format", "json", "Output format: json, text or msgpack.")
	c.Flags.StringVar(&c.compress, "compress", "none", "Output compression: none, gzip or zstd.")
	c.Flags.StringVar(&c.output, "o", "-", "Output file, '-' for stdout.")
}

func (c *exportRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, 1, -1, c.main)
}

// recordEncoder writes records in one of the export formats.
type recordEncoder interface {
	encode(r *format.Record) error
	close() error
}

func (c *exportRun) main(ctx context.Context, app *application, args []string) (err error) {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	var out io.Writer = app.out
	if c.output != "-" {
		f, err := os.Create(c.output)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		out = f
	}
	counter := &iotools.CountingWriter{Writer: out}
	buf := bufio.NewWriter(counter)

	var compressed io.WriteCloser
	switch c.compress {
	case "none":
	case "gzip":
		compressed = gzip.NewWriter(buf)
	case "zstd":
		if compressed, err = zstd.NewWriter(buf); err != nil {
			return err
		}
	default:
		return errors.Reason("bad -compress %q, want none, gzip or zstd", c.compress).Tag(errUsage.With(true)).Err()
	}
	var w io.Writer = buf
	if compressed != nil {
		w = compressed
	}

	var enc recordEncoder
	switch c.format {
	case "json":
		enc = &jsonArrayEncoder{w: w}
	case "text":
		enc = &textEncoder{p: newPrinter(w, false, false)}
	case "msgpack":
		enc = &msgpackEncoder{enc: msgpack.NewEncoder(w)}
	default:
		return errors.Reason("bad -format %q, want json, text or msgpack", c.format).Tag(errUsage.With(true)).Err()
	}

	count := 0
	for _, path := range paths {
		err := c.cat(ctx, path, func(r *format.Record) error {
			count++
			return enc.encode(r)
		})
		if err != nil {
			return err
		}
	}
	if err := enc.close(); err != nil {
		return err
	}
	if compressed != nil {
		if err := compressed.Close(); err != nil {
			return err
		}
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	logging.Infof(ctx, "Exported %d records (%s).", count, humanize.Bytes(uint64(counter.Count)))
	return nil
}

// jsonArrayEncoder writes records as elements of one indented JSON array.
type jsonArrayEncoder struct {
	w     io.Writer
	count int
}

func (e *jsonArrayEncoder) encode(r *format.Record) error {
	blob, err := json.MarshalIndent(export(r), "  ", "  ")
	if err != nil {
		return err
	}
	sep := ",\n  "
	if e.count == 0 {
		sep = "[\n  "
	}
	e.count++
	if _, err := io.WriteString(e.w, sep); err != nil {
		return err
	}
	_, err = e.w.Write(blob)
	return err
}

func (e *jsonArrayEncoder) close() error {
	tail := "\n]\n"
	if e.count == 0 {
		tail = "[]\n"
	}
	_, err := io.WriteString(e.w, tail)
	return err
}

type textEncoder struct{ p *printer }

func (e *textEncoder) encode(r *format.Record) error { return e.p.print(r) }
func (e *textEncoder) close() error                  { return nil }

type msgpackEncoder struct{ enc *msgpack.Encoder }

func (e *msgpackEncoder) encode(r *format.Record) error { return e.enc.Encode(export(r)) }
func (e *msgpackEncoder) close() error                  { return nil }
