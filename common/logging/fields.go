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

package logging

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ErrorKey is the Fields key used by WithError.
const ErrorKey = "error"

// Fields maps string keys to arbitrary values. Loggers render them after the
// message.
type Fields map[string]any

// WithError returns a Fields instance containing an error.
func WithError(err error) Fields {
	return Fields{ErrorKey: err}
}

// Copy returns a copy of f with the entries of other layered on top.
func (f Fields) Copy(other Fields) Fields {
	ret := make(Fields, len(f)+len(other))
	for k, v := range f {
		ret[k] = v
	}
	for k, v := range other {
		ret[k] = v
	}
	return ret
}

// SortedEntries returns the keys of f in sorted order.
func (f Fields) SortedEntries() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the fields as `{"k":v, ...}` in key order.
func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range f.SortedEntries() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q:", k)
		switch v := f[k].(type) {
		case string:
			fmt.Fprintf(&sb, "%q", v)
		case error:
			fmt.Fprintf(&sb, "%q", v.Error())
		default:
			fmt.Fprintf(&sb, "%#v", v)
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

// SetFields adds fields to the context. Existing fields with the same keys are
// overridden.
func SetFields(ctx context.Context, fields Fields) context.Context {
	return context.WithValue(ctx, fieldsKey, GetFields(ctx).Copy(fields))
}

// SetField is a convenience wrapper around SetFields for a single key.
func SetField(ctx context.Context, key string, value any) context.Context {
	return SetFields(ctx, Fields{key: value})
}

// GetFields returns the fields attached to the context.
func GetFields(ctx context.Context) Fields {
	if f, ok := ctx.Value(fieldsKey).(Fields); ok {
		return f
	}
	return nil
}

// Debugf logs at Debug level with f attached to the context.
func (f Fields) Debugf(ctx context.Context, fmt string, args ...any) {
	Get(SetFields(ctx, f)).LogCall(Debug, 1, fmt, args)
}

// Infof logs at Info level with f attached to the context.
func (f Fields) Infof(ctx context.Context, fmt string, args ...any) {
	Get(SetFields(ctx, f)).LogCall(Info, 1, fmt, args)
}

// Warningf logs at Warning level with f attached to the context.
func (f Fields) Warningf(ctx context.Context, fmt string, args ...any) {
	Get(SetFields(ctx, f)).LogCall(Warning, 1, fmt, args)
}

// Errorf logs at Error level with f attached to the context.
func (f Fields) Errorf(ctx context.Context, fmt string, args ...any) {
	Get(SetFields(ctx, f)).LogCall(Error, 1, fmt, args)
}
