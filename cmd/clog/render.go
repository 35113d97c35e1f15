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
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/format"
)

// TimeLayout is the timestamp layout of text output.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// levelWidth is the width of the widest level name.
const levelWidth = len("CRITICAL")

var levelColors = map[format.Level]string{
	format.LevelDebug:    "blue",
	format.LevelInfo:     "green",
	format.LevelWarning:  "yellow",
	format.LevelError:    "red",
	format.LevelCritical: "red+b",
}

// exported is the JSON and msgpack representation of a record.
type exported struct {
	Time    time.Time      `json:"time" msgpack:"time"`
	Level   string         `json:"level" msgpack:"level"`
	Logger  string         `json:"logger,omitempty" msgpack:"logger,omitempty"`
	Message string         `json:"message" msgpack:"message"`
	Fields  map[string]any `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

func export(r *format.Record) *exported {
	e := &exported{
		Time:    r.Time.UTC(),
		Level:   r.Level.String(),
		Logger:  r.Logger,
		Message: r.Message,
	}
	if len(r.Fields) > 0 {
		e.Fields = make(map[string]any, len(r.Fields))
		for _, f := range r.Fields {
			v := f.Value.Any()
			// JSON has no representation for these.
			if x, ok := v.(float64); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
				v = f.Value.String()
			}
			e.Fields[f.Key] = v
		}
	}
	return e
}

// printer writes records one per line, either as text or as JSON.
type printer struct {
	out   io.Writer
	json  bool
	color bool
	enc   *json.Encoder
}

func newPrinter(out io.Writer, asJSON, color bool) *printer {
	p := &printer{out: out, json: asJSON, color: color && !asJSON}
	if asJSON {
		p.enc = json.NewEncoder(out)
		p.enc.SetEscapeHTML(false)
	}
	return p
}

func (p *printer) print(r *format.Record) error {
	if p.json {
		return p.enc.Encode(export(r))
	}
	_, err := io.WriteString(p.out, p.text(r))
	return err
}

// text renders r as a line of the form
//
//	TIME LEVEL    logger: message key=value
//
// Continuation lines of multi-line messages are indented to the message
// column.
func (p *printer) text(r *format.Record) string {
	var sb strings.Builder

	ts := r.Time.UTC().Format(TimeLayout)
	level := fmt.Sprintf("%-*s", levelWidth, r.Level)
	sb.WriteString(ts)
	sb.WriteByte(' ')
	if p.color {
		sb.WriteString(ansi.Color(level, levelColors[r.Level]))
	} else {
		sb.WriteString(level)
	}
	sb.WriteByte(' ')

	prefix := ""
	if r.Logger != "" {
		prefix = r.Logger + ": "
	}
	sb.WriteString(prefix)

	indent := strings.Repeat(" ", len(ts)+levelWidth+2+len(prefix))
	for i, line := range strings.Split(r.Message, "\n") {
		if i > 0 {
			sb.WriteByte('\n')
			sb.WriteString(indent)
		}
		sb.WriteString(line)
	}

	for _, f := range r.Fields {
		sb.WriteByte(' ')
		sb.WriteString(f.Key)
		sb.WriteByte('=')
		sb.WriteString(quote(f.Value))
	}
	sb.WriteByte('\n')
	return sb.String()
}

// quote renders v, quoting strings that would be ambiguous unquoted.
func quote(v format.Value) string {
	s := v.String()
	if v.Kind() != format.KindString {
		return s
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// colorMode parses the -color flag against the output stream.
func colorMode(mode string, out io.Writer, isTTY func(io.Writer) bool) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "", "auto":
		return isTTY(out), nil
	}
	return false, errors.Reason("bad -color %q, want auto, always or never", mode).Tag(errUsage.With(true)).Err()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
