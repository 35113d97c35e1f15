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

// Package handler bridges logging frameworks to clog files.
//
// Handler is a log/slog Handler and Use installs a common/logging backend.
// Both turn log calls into format.Records and hand them to an Appender, which
// is usually a *writer.Writer or an *async.Queue.
package handler

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/Akanyi/clog/format"
)

// Appender receives the records produced by a Handler.
type Appender interface {
	Append(context.Context, *format.Record) error
}

// LoggerKey is the top-level attribute which, when it holds a string, names
// the Record's logger instead of becoming a field.
const LoggerKey = "logger"

// SourceKey is the field holding "file:line" of the log call when
// Options.AddSource is set.
const SourceKey = "source"

// Options configures a Handler.
type Options struct {
	// Logger is the logger name of records which carry no LoggerKey attribute.
	Logger string

	// Level is the minimum level handled. Defaults to slog.LevelInfo.
	Level slog.Leveler

	// AddSource records the position of the log call in the SourceKey field.
	AddSource bool
}

// Handler is a slog.Handler appending records to a clog file.
//
// Attributes inside groups become fields named after the dotted group path,
// e.g. "req.id".
type Handler struct {
	app    Appender
	opts   Options
	logger string
	fields []format.Field
	prefix string
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler returns a Handler appending to app.
func NewHandler(app Appender, opts *Options) *Handler {
	h := &Handler{app: app}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	h.logger = h.opts.Logger
	return h
}

// Level converts a slog level to a Record level.
func Level(l slog.Level) format.Level {
	switch {
	case l < slog.LevelInfo:
		return format.LevelDebug
	case l < slog.LevelWarn:
		return format.LevelInfo
	case l < slog.LevelError:
		return format.LevelWarning
	case l < slog.LevelError+4:
		return format.LevelError
	}
	return format.LevelCritical
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	fb := fieldBuilder{logger: h.logger}
	fb.addAll(h.fields)
	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		fb.set(SourceKey, format.StringValue(f.File+":"+strconv.Itoa(f.Line)))
	}
	r.Attrs(func(a slog.Attr) bool {
		fb.attr(h.prefix, a)
		return true
	})

	return h.app.Append(ctx, &format.Record{
		Time:    r.Time,
		Level:   Level(r.Level),
		Logger:  fb.logger,
		Message: r.Message,
		Fields:  fb.fields,
	})
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	fb := fieldBuilder{logger: h.logger}
	fb.addAll(h.fields)
	for _, a := range attrs {
		fb.attr(h.prefix, a)
	}

	h2 := *h
	h2.logger = fb.logger
	h2.fields = fb.fields
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// fieldBuilder accumulates fields, a later value replacing an earlier one with
// the same key.
type fieldBuilder struct {
	logger string
	fields []format.Field
	index  map[string]int
}

func (b *fieldBuilder) addAll(fields []format.Field) {
	for _, f := range fields {
		b.set(f.Key, f.Value)
	}
}

func (b *fieldBuilder) set(key string, v format.Value) {
	if b.index == nil {
		b.index = map[string]int{}
	}
	if i, ok := b.index[key]; ok {
		b.fields[i].Value = v
		return
	}
	b.index[key] = len(b.fields)
	b.fields = append(b.fields, format.Field{Key: key, Value: v})
}

func (b *fieldBuilder) attr(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if len(group) == 0 {
			return
		}
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range group {
			b.attr(prefix, ga)
		}
		return
	}

	if a.Key == "" {
		return
	}
	if prefix == "" && a.Key == LoggerKey && a.Value.Kind() == slog.KindString {
		b.logger = a.Value.String()
		return
	}
	b.set(prefix+a.Key, value(a.Value))
}

func value(v slog.Value) format.Value {
	switch v.Kind() {
	case slog.KindBool:
		return format.BoolValue(v.Bool())
	case slog.KindInt64:
		return format.Int64Value(v.Int64())
	case slog.KindUint64:
		return format.Uint64Value(v.Uint64())
	case slog.KindFloat64:
		return format.Float64Value(v.Float64())
	case slog.KindString:
		return format.StringValue(v.String())
	case slog.KindDuration:
		return format.DurationValue(v.Duration())
	case slog.KindTime:
		return format.TimeValue(v.Time())
	}
	return format.AnyValue(v.Any())
}
