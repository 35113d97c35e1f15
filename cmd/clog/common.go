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
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/maruel/subcommands"

	"github.com/Akanyi/clog/archive"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/common/logging/gologger"
	"github.com/Akanyi/clog/reader"
)

// application is a subcommands.Application whose streams can be replaced in
// tests.
type application struct {
	subcommands.DefaultApplication

	ctx   context.Context
	in    io.Reader
	out   io.Writer
	err   io.Writer
	isTTY func(io.Writer) bool

	// uploader, if set, replaces the uploader built by the upload command.
	uploader archive.Uploader
}

func (a *application) GetOut() io.Writer { return a.out }
func (a *application) GetErr() io.Writer { return a.err }

// errUsage marks errors in the command line itself.
var errUsage = errors.BoolTag{Key: errors.NewTagKey("bad command line")}

type commonFlags struct {
	subcommands.CommandRunBase
	logLevel logging.Level
	strict   bool
}

func (c *commonFlags) Init() {
	c.logLevel = logging.Warning
	c.Flags.Var(&c.logLevel, "log-level", "Logging level: debug, info, warning or error.")
}

// initReaderFlags registers flags of commands reading clog files.
func (c *commonFlags) initReaderFlags() {
	c.Flags.BoolVar(&c.strict, "strict", false, "Fail on corrupt or truncated chunks instead of skipping them.")
}

// expandPaths expands glob patterns in args, "**" included. Matches are
// sorted, which puts archives of one file in rotation order.
func expandPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			out = append(out, arg)
			continue
		}
		matches, err := doublestar.Glob(arg)
		if err != nil {
			return nil, errors.Annotate(err, "bad pattern %q", arg).Tag(errUsage.With(true)).Err()
		}
		if len(matches) == 0 {
			return nil, errors.Reason("no files match %q", arg).Err()
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

func (c *commonFlags) openReader(path string) (*reader.Reader, error) {
	return reader.Open(path, reader.Options{Strict: c.strict, HonorHeaderStrict: true})
}

// run sets up the context and calls main, mapping its error to an exit code.
func (c *commonFlags) run(a subcommands.Application, args []string, minArgs, maxArgs int, main func(ctx context.Context, app *application, args []string) error) int {
	app := a.(*application)
	lc := gologger.LoggerConfig{Out: app.err, Format: gologger.PlainFormat}
	ctx := logging.SetLevel(lc.Use(app.ctx), c.logLevel)

	if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
		logging.Errorf(ctx, "Wrong number of positional arguments, see 'clog help'.")
		return 1
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := main(ctx, app, args); err != nil {
		logging.WithError(err).Errorf(ctx, "Failed.")
		if errUsage.In(err) {
			return 1
		}
		return 2
	}
	return 0
}
