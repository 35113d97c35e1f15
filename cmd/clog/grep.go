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
	"regexp"

	"github.com/maruel/subcommands"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/format"
)

var cmdGrep = &subcommands.Command{
	UsageLine: "grep [options] <pattern> <file or glob>...",
	ShortDesc: "prints records matching a regular expression",
	LongDesc: `Prints the records whose message, logger name or field values match a
regular expression.

-level restricts the output to records at or above a severity.`,
	CommandRun: func() subcommands.CommandRun {
		c := &grepRun{}
		c.Init()
		return c
	},
}

type grepRun struct {
	commonFlags
	outputFlags
	ignoreCase bool
	invert     bool
	level      string
	logger     string
}

func (c *grepRun) Init() {
	c.commonFlags.Init()
	c.initReaderFlags()
	c.outputFlags.register(&c.Flags)
	c.Flags.BoolVar(&c.ignoreCase, "i", false, "Match case insensitively.")
	c.Flags.BoolVar(&c.invert, "v", false, "Print records which do not match.")
	c.Flags.StringVar(&c.level, "level", "", "Minimum level of printed records.")
	c.Flags.StringVar(&c.logger, "logger", "", "Only print records of this logger.")
}

func (c *grepRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, 2, -1, c.main)
}

func (c *grepRun) main(ctx context.Context, app *application, args []string) error {
	expr := args[0]
	if c.ignoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return errors.Annotate(err, "bad pattern").Tag(errUsage.With(true)).Err()
	}
	var minLevel format.Level
	if c.level != "" {
		if minLevel, err = format.ParseLevel(c.level); err != nil {
			return errors.Annotate(err, "bad -level").Tag(errUsage.With(true)).Err()
		}
	}
	p, err := c.printer(app)
	if err != nil {
		return err
	}
	paths, err := expandPaths(args[1:])
	if err != nil {
		return err
	}

	for _, path := range paths {
		err := c.cat(ctx, path, func(r *format.Record) error {
			if r.Level < minLevel || (c.logger != "" && r.Logger != c.logger) {
				return nil
			}
			if matches(re, r) == c.invert {
				return nil
			}
			return p.print(r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func matches(re *regexp.Regexp, r *format.Record) bool {
	if re.MatchString(r.Message) || re.MatchString(r.Logger) {
		return true
	}
	for _, f := range r.Fields {
		if re.MatchString(f.Value.String()) {
			return true
		}
	}
	return false
}
