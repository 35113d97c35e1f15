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
	"time"

	"github.com/maruel/subcommands"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/format"
)

var cmdTail = &subcommands.Command{
	UsageLine: "tail [options] <file>",
	ShortDesc: "prints the last records of a clog file",
	LongDesc: `Prints the last -n records of a clog file.

With -f, keeps printing records as they are appended, following the file
across rotations, until interrupted.`,
	CommandRun: func() subcommands.CommandRun {
		c := &tailRun{}
		c.Init()
		return c
	},
}

type tailRun struct {
	commonFlags
	outputFlags
	n      int
	follow bool
	poll   time.Duration
}

func (c *tailRun) Init() {
	c.commonFlags.Init()
	c.initReaderFlags()
	c.outputFlags.register(&c.Flags)
	c.Flags.IntVar(&c.n, "n", 10, "Number of records to print.")
	c.Flags.BoolVar(&c.follow, "f", false, "Keep printing appended records.")
	c.Flags.DurationVar(&c.poll, "poll", 500*time.Millisecond, "How often to check for new records with -f.")
}

func (c *tailRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, 1, 1, c.main)
}

func (c *tailRun) main(ctx context.Context, app *application, args []string) error {
	if c.n < 0 {
		return errors.Reason("-n must not be negative").Tag(errUsage.With(true)).Err()
	}
	if c.follow && c.poll <= 0 {
		return errors.Reason("-poll must be positive").Tag(errUsage.With(true)).Err()
	}
	p, err := c.printer(app)
	if err != nil {
		return err
	}

	r, err := c.openReader(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	if !c.follow {
		recs, err := r.Tail(c.n)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := p.print(rec); err != nil {
				return err
			}
		}
		return nil
	}

	// Follow starts from the beginning, so skip all but the last n records
	// present now.
	total := 0
	it := r.Iterate()
	for it.Next() {
		total++
	}
	if err := it.Err(); err != nil {
		return err
	}
	skip := max(total-c.n, 0)
	return r.Follow(ctx, c.poll, func(rec *format.Record) error {
		if skip > 0 {
			skip--
			return nil
		}
		return p.print(rec)
	})
}
