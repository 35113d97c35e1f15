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

// Package gologger is a logging.Logger backed by github.com/op/go-logging.
package gologger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	gol "github.com/op/go-logging"

	"github.com/Akanyi/clog/common/logging"
)

// StandardFormat first prints process ID, time, filename and logging level,
// all colored. Then the message.
const StandardFormat = `%{color}[P%{pid} %{time:15:04:05.000} %{shortfile} %{level:.4s}]` +
	`%{color:reset} %{message}`

// PlainFormat is StandardFormat without terminal colors.
const PlainFormat = `[P%{pid} %{time:15:04:05.000} %{shortfile} %{level:.4s}] %{message}`

// LoggerConfig owns a go-logging logger, configured in some way.
//
// Despite its name it is not a static configuration. It holds the logger
// lazily built from the configuration on first use.
type LoggerConfig struct {
	Format string    // see go-logging's StringFormatter; StandardFormat if empty
	Out    io.Writer // where to write the log to; os.Stderr if nil

	once sync.Once
	l    *gol.Logger
}

// StdConfig writes colored records to stderr.
var StdConfig = LoggerConfig{Out: os.Stderr}

// Use registers a go-logging based logger as the default logger of the
// context.
func (lc *LoggerConfig) Use(ctx context.Context) context.Context {
	return logging.SetFactory(ctx, func(ctx context.Context) logging.Logger {
		return &loggerImpl{l: lc.get(), ctx: ctx}
	})
}

func (lc *LoggerConfig) get() *gol.Logger {
	lc.once.Do(func() {
		format := lc.Format
		if format == "" {
			format = StandardFormat
		}
		out := lc.Out
		if out == nil {
			out = os.Stderr
		}
		backend := gol.NewBackendFormatter(
			gol.NewLogBackend(out, "", 0),
			gol.MustStringFormatter(format))
		leveled := gol.AddModuleLevel(backend)
		// Level filtering happens in loggerImpl against the context level.
		leveled.SetLevel(gol.DEBUG, "")

		lc.l = &gol.Logger{Module: ""}
		lc.l.SetBackend(leveled)
		// logging.Infof -> loggerImpl.LogCall -> gol.Logger.Info
		lc.l.ExtraCalldepth = 2
	})
	return lc.l
}

type loggerImpl struct {
	l   *gol.Logger
	ctx context.Context
}

func (li *loggerImpl) Debugf(format string, args ...any) {
	li.LogCall(logging.Debug, 1, format, args)
}

func (li *loggerImpl) Infof(format string, args ...any) {
	li.LogCall(logging.Info, 1, format, args)
}

func (li *loggerImpl) Warningf(format string, args ...any) {
	li.LogCall(logging.Warning, 1, format, args)
}

func (li *loggerImpl) Errorf(format string, args ...any) {
	li.LogCall(logging.Error, 1, format, args)
}

func (li *loggerImpl) LogCall(l logging.Level, calldepth int, format string, args []any) {
	if !logging.IsLogging(li.ctx, l) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if fields := logging.GetFields(li.ctx); len(fields) > 0 {
		msg = msg + " " + fields.String()
	}

	switch l {
	case logging.Debug:
		li.l.Debug(msg)
	case logging.Info:
		li.l.Info(msg)
	case logging.Warning:
		li.l.Warning(msg)
	default:
		li.l.Error(msg)
	}
}
