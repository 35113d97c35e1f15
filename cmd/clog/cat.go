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
	"context"
	"flag"

	"github.com/maruel/subcommands"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/reader"
)

var cmdCat = &subcommands.Command{
	UsageLine: "cat [options] <file or glob>...",
	ShortDesc: "prints the records of clog files",
	LongDesc: `Prints every record of the given clog files, in file order.

Glob patterns such as 'app.clog.*' or 'logs/**/*.clog' are expanded and
sorted, so archives of one file print oldest first.

Corrupt chunks are skipped with a warning unless -strict is set or the file
was written in strict mode.`,
	CommandRun: func() subcommands.CommandRun {
		c := &catRun{}
		c.Init()
		return c
	},
}

type catRun struct {
	commonFlags
	outputFlags
}

// outputFlags are the flags of commands printing records.
type outputFlags struct {
	json  bool
	color string
}

func (c *catRun) Init() {
	c.commonFlags.Init()
	c.initReaderFlags()
	c.outputFlags.register(&c.Flags)
}

func (o *outputFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&o.json, "json", false, "Print records as JSON lines.")
	fs.StringVar(&o.color, "color", "auto", "Color levels: auto, always or never.")
}

func (o *outputFlags) printer(app *application) (*printer, error) {
	color, err := colorMode(o.color, app.out, app.isTTY)
	if err != nil {
		return nil, err
	}
	return newPrinter(app.out, o.json, color), nil
}

func (c *catRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, 1, -1, c.main)
}

func (c *catRun) main(ctx context.Context, app *application, args []string) error {
	p, err := c.printer(app)
	if err != nil {
		return err
	}
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := c.cat(ctx, path, p.print); err != nil {
			return err
		}
	}
	return nil
}

// cat calls fn with every record of the file at path.
func (c *commonFlags) cat(ctx context.Context, path string, fn func(*format.Record) error) error {
	r, err := c.openReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	it := r.Iterate()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(it.Record()); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return errors.Annotate(err, "reading %q", path).Err()
	}
	reportDamage(ctx, path, it.Stats())
	return nil
}

func reportDamage(ctx context.Context, path string, s reader.Stats) {
	if s.SkippedChunks > 0 {
		logging.Warningf(ctx, "%s: skipped %d damaged chunks.", path, s.SkippedChunks)
	}
	if s.Truncated {
		logging.Warningf(ctx, "%s: the last chunk is truncated.", path)
	}
}
