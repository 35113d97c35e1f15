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
	"fmt"

	"github.com/Akanyi/clog/common/clock"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/format"
)

// Use installs a logging backend into ctx which appends every log line to app
// under the logger name.
//
// Fields set with logging.SetFields become record fields. Append is called
// with logging disabled in its context, so log lines emitted by app itself
// are dropped instead of looping back into it.
func Use(ctx context.Context, app Appender, name string) context.Context {
	quiet := logging.SetFactory(ctx, nil)
	return logging.SetFactory(ctx, func(ctx context.Context) logging.Logger {
		return &Logger{app: app, name: name, ctx: ctx, appendCtx: quiet}
	})
}

// Logger is a logging.Logger appending to a clog file.
type Logger struct {
	app       Appender
	name      string
	ctx       context.Context
	appendCtx context.Context
}

var _ logging.Logger = (*Logger)(nil)

func (l *Logger) Debugf(format string, args ...any) {
	l.LogCall(logging.Debug, 1, format, args)
}

func (l *Logger) Infof(format string, args ...any) {
	l.LogCall(logging.Info, 1, format, args)
}

func (l *Logger) Warningf(format string, args ...any) {
	l.LogCall(logging.Warning, 1, format, args)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.LogCall(logging.Error, 1, format, args)
}

// LogCall implements logging.Logger. Append errors are dropped.
func (l *Logger) LogCall(lvl logging.Level, calldepth int, f string, args []any) {
	if !logging.IsLogging(l.ctx, lvl) {
		return
	}
	fields := logging.GetFields(l.ctx)
	r := &format.Record{
		Time:    clock.Now(l.ctx),
		Level:   recordLevel(lvl),
		Logger:  l.name,
		Message: fmt.Sprintf(f, args...),
	}
	for _, k := range fields.SortedEntries() {
		r.Fields = append(r.Fields, format.F(k, fields[k]))
	}
	_ = l.app.Append(l.appendCtx, r)
}

func recordLevel(l logging.Level) format.Level {
	switch l {
	case logging.Debug:
		return format.LevelDebug
	case logging.Warning:
		return format.LevelWarning
	case logging.Error:
		return format.LevelError
	}
	return format.LevelInfo
}
