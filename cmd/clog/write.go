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
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorhill/cronexpr"
	"github.com/maruel/subcommands"

	"github.com/Akanyi/clog/async"
	"github.com/Akanyi/clog/codec"
	"github.com/Akanyi/clog/common/clock"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/iotools"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/config"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/writer"
)

// maxLineSize bounds a single line read from stdin.
const maxLineSize = 4 << 20

var cmdWrite = &subcommands.Command{
	UsageLine: "write [options] [<file>]",
	ShortDesc: "appends lines read from stdin to a clog file",
	LongDesc: `Appends one record per line read from stdin.

Plain lines become the record message. With -json every line must be a JSON
object: its "time", "level", "logger" and "message" (or "msg") keys fill the
record and all other keys become fields.

Writer settings come from flags, or from a YAML file given with -config, in
which case <file> overrides the configured path.`,
	CommandRun: func() subcommands.CommandRun {
		c := &writeRun{}
		c.Init()
		return c
	},
}

type writeRun struct {
	commonFlags
	configPath string
	json       bool
	level      string
	logger     string

	codec          string
	strictHeader   bool
	sync           bool
	maxRecords     int
	rotateSize     string
	rotateInterval time.Duration
	rotateSched    string
	maxArchives    int
}

func (c *writeRun) Init() {
	c.commonFlags.Init()
	c.Flags.StringVar(&c.configPath, "config", "", "YAML file with writer settings.")
	c.Flags.BoolVar(&c.json, "json", false, "Parse each line as a JSON object.")
	c.Flags.StringVar(&c.level, "level", "info", "Level of records without one.")
	c.Flags.StringVar(&c.logger, "logger", "", "Logger name of records without one.")
	c.Flags.StringVar(&c.codec, "codec", "zstd", "Chunk codec: identity, gzip, zstd or s2.")
	c.Flags.BoolVar(&c.strictHeader, "strict-header", false, "Mark new files as strict, making readers fail on corruption.")
	c.Flags.BoolVar(&c.sync, "sync", false, "Fsync after every chunk.")
	c.Flags.IntVar(&c.maxRecords, "max-records", 0, "Records per chunk; 0 for the default.")
	c.Flags.StringVar(&c.rotateSize, "rotate-size", "", "Rotate the file at this size, e.g. 64MiB.")
	c.Flags.DurationVar(&c.rotateInterval, "rotate-interval", 0, "Rotate the file at multiples of this interval.")
	c.Flags.StringVar(&c.rotateSched, "rotate-schedule", "", "Rotate the file at times matching this cron expression, in UTC.")
	c.Flags.IntVar(&c.maxArchives, "max-archives", 0, "Number of archives to keep; 0 keeps all.")
}

func (c *writeRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, 0, 1, c.main)
}

func (c *writeRun) main(ctx context.Context, app *application, args []string) (err error) {
	level, err := format.ParseLevel(c.level)
	if err != nil {
		return errors.Annotate(err, "bad -level").Tag(errUsage.With(true)).Err()
	}
	sink, err := c.open(ctx, args)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(ctx); err == nil {
			err = cerr
		}
	}()

	in := &iotools.CountingReader{Reader: app.in}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		r := &format.Record{Time: clock.Now(ctx), Level: level, Logger: c.logger}
		if c.json {
			if err := parseJSONLine(line, r); err != nil {
				return errors.Annotate(err, "line %d", count+1).Err()
			}
		} else {
			r.Message = string(line)
		}
		if err := sink.Append(ctx, r); err != nil {
			return err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return errors.Annotate(err, "reading stdin").Err()
	}
	logging.Infof(ctx, "Appended %d records (%s read).", count, humanize.Bytes(uint64(in.Count)))
	return nil
}

// open returns the sink records are appended to.
func (c *writeRun) open(ctx context.Context, args []string) (async.Sink, error) {
	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			cfg.Path = args[0]
		}
		return cfg.Open(ctx)
	}

	if len(args) == 0 {
		return nil, errors.Reason("either <file> or -config is required").Tag(errUsage.With(true)).Err()
	}
	opts := writer.Options{
		Strict:         c.strictHeader,
		Sync:           c.sync,
		MaxRecords:     c.maxRecords,
		RotateInterval: c.rotateInterval,
		MaxArchives:    c.maxArchives,
	}
	var err error
	if opts.Codec, err = codec.ParseID(c.codec); err != nil {
		return nil, errors.Annotate(err, "bad -codec").Tag(errUsage.With(true)).Err()
	}
	if c.rotateSize != "" {
		size, err := humanize.ParseBytes(c.rotateSize)
		if err != nil {
			return nil, errors.Annotate(err, "bad -rotate-size").Tag(errUsage.With(true)).Err()
		}
		opts.RotateSize = int64(size)
	}
	if c.rotateSched != "" {
		if opts.RotateSchedule, err = cronexpr.Parse(c.rotateSched); err != nil {
			return nil, errors.Annotate(err, "bad -rotate-schedule").Tag(errUsage.With(true)).Err()
		}
	}
	return writer.Open(ctx, args[0], opts)
}

// parseJSONLine fills r from a JSON object.
func parseJSONLine(line []byte, r *format.Record) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return errors.Annotate(err, "not a JSON object").Err()
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := obj[k]
		s, isStr := v.(string)
		switch {
		case (k == "message" || k == "msg") && isStr && r.Message == "":
			r.Message = s
			continue
		case k == "logger" && isStr:
			r.Logger = s
			continue
		case k == "level" && isStr:
			if l, err := format.ParseLevel(s); err == nil {
				r.Level = l
				continue
			}
		case k == "time" && isStr:
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				r.Time = t
				continue
			}
		}
		r.Fields = append(r.Fields, format.Field{Key: k, Value: jsonValue(v)})
	}
	return nil
}

func jsonValue(v any) format.Value {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return format.Int64Value(i)
		}
		if f, err := x.Float64(); err == nil {
			return format.Float64Value(f)
		}
		return format.StringValue(x.String())
	case map[string]any, []any:
		if blob, err := json.Marshal(x); err == nil {
			return format.StringValue(string(blob))
		}
		return format.AnyValue(x)
	default:
		return format.AnyValue(x)
	}
}
