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

package format

import (
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Akanyi/clog/common/errors"
)

// Level is the severity of a Record.
type Level uint8

// Record severities. These are persisted, never renumber them.
const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = map[Level]string{
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarning:  "WARNING",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l >= LevelDebug && l <= LevelCritical
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", uint8(l))
}

// ParseLevel parses a level name, case insensitively. "warn" and "fatal" are
// accepted as aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	}
	return 0, errors.Reason("unknown level %q", s).Err()
}

// MaxLoggerNameLen is the maximum length of Record.Logger, in bytes.
const MaxLoggerNameLen = 1024

// Field is a single structured key/value attached to a Record.
type Field struct {
	Key   string
	Value Value
}

// F is shorthand for a Field holding AnyValue(v).
func F(key string, v any) Field {
	return Field{Key: key, Value: AnyValue(v)}
}

// Record is one structured log entry.
type Record struct {
	Time    time.Time
	Level   Level
	Logger  string
	Message string
	Fields  []Field
}

var (
	minTime = time.Unix(0, math.MinInt64)
	maxTime = time.Unix(0, math.MaxInt64)
)

// Validate checks that r can be encoded.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return errors.Annotate(ErrInvalidRecord, "nil record").Err()
	case !r.Level.Valid():
		return errors.Annotate(ErrInvalidRecord, "unknown level %d", uint8(r.Level)).Err()
	case len(r.Logger) > MaxLoggerNameLen:
		return errors.Annotate(ErrInvalidRecord, "logger name is %d bytes, limit is %d", len(r.Logger), MaxLoggerNameLen).Err()
	case r.Time.Before(minTime) || r.Time.After(maxTime):
		return errors.Annotate(ErrInvalidRecord, "timestamp %s is out of range", r.Time).Err()
	}

	seen := make(map[string]struct{}, len(r.Fields))
	for i, f := range r.Fields {
		if f.Key == "" {
			return errors.Annotate(ErrInvalidRecord, "field %d has an empty key", i).Err()
		}
		if _, dup := seen[f.Key]; dup {
			return errors.Annotate(ErrInvalidRecord, "duplicate field key %q", f.Key).Err()
		}
		seen[f.Key] = struct{}{}
		if f.Value.kind >= kindCount {
			return errors.Annotate(ErrInvalidRecord, "field %q has unsupported kind %s", f.Key, f.Value.kind).Err()
		}
	}
	return nil
}

// Field returns the value of the field named key.
func (r *Record) Field(key string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// EncodedSize returns the number of bytes AppendRecord would append for r.
func (r *Record) EncodedSize() int {
	n := bodySize(r)
	return protowire.SizeVarint(uint64(n)) + n
}

func bodySize(r *Record) int {
	n := protowire.SizeVarint(protowire.EncodeZigZag(r.Time.UnixNano())) + 1
	n += protowire.SizeBytes(len(r.Logger))
	n += protowire.SizeBytes(len(r.Message))
	n += protowire.SizeVarint(uint64(len(r.Fields)))
	for _, f := range r.Fields {
		n += protowire.SizeBytes(len(f.Key)) + 1
		switch f.Value.kind {
		case KindNull:
		case KindBool:
			n++
		case KindInt64, KindTime, KindDuration:
			n += protowire.SizeVarint(protowire.EncodeZigZag(int64(f.Value.num)))
		case KindUint64:
			n += protowire.SizeVarint(f.Value.num)
		case KindFloat64:
			n += protowire.SizeFixed64()
		case KindString, KindBytes:
			n += protowire.SizeBytes(len(f.Value.str))
		}
	}
	return n
}

// AppendRecord appends the encoding of r to dst.
//
// r must have passed Validate.
func AppendRecord(dst []byte, r *Record) []byte {
	dst = protowire.AppendVarint(dst, uint64(bodySize(r)))
	dst = protowire.AppendVarint(dst, protowire.EncodeZigZag(r.Time.UnixNano()))
	dst = append(dst, uint8(r.Level))
	dst = protowire.AppendString(dst, r.Logger)
	dst = protowire.AppendString(dst, r.Message)
	dst = protowire.AppendVarint(dst, uint64(len(r.Fields)))
	for _, f := range r.Fields {
		dst = protowire.AppendString(dst, f.Key)
		dst = append(dst, uint8(f.Value.kind))
		switch f.Value.kind {
		case KindNull:
		case KindBool:
			dst = append(dst, uint8(f.Value.num))
		case KindInt64, KindTime, KindDuration:
			dst = protowire.AppendVarint(dst, protowire.EncodeZigZag(int64(f.Value.num)))
		case KindUint64:
			dst = protowire.AppendVarint(dst, f.Value.num)
		case KindFloat64:
			dst = protowire.AppendFixed64(dst, f.Value.num)
		case KindString, KindBytes:
			dst = protowire.AppendString(dst, f.Value.str)
		}
	}
	return dst
}

// EncodeRecords validates and encodes records into an uncompressed payload.
func EncodeRecords(records []*Record) ([]byte, error) {
	size := 0
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, errors.Annotate(err, "record %d", i).Err()
		}
		size += r.EncodedSize()
	}
	buf := make([]byte, 0, size)
	for _, r := range records {
		buf = AppendRecord(buf, r)
	}
	return buf, nil
}

// DecodeRecords decodes exactly count records from an uncompressed payload.
//
// Any framing inconsistency, including trailing bytes, fails with
// ErrChecksum.
func DecodeRecords(payload []byte, count int) ([]*Record, error) {
	if count < 0 || count > len(payload) {
		return nil, errors.Annotate(ErrChecksum, "%d records cannot fit in %d bytes", count, len(payload)).Err()
	}
	records := make([]*Record, 0, count)
	for i := 0; i < count; i++ {
		size, n := protowire.ConsumeVarint(payload)
		if n < 0 || size > uint64(len(payload)-n) {
			return nil, errors.Annotate(ErrChecksum, "record %d: bad length prefix", i).Err()
		}
		payload = payload[n:]

		r, err := decodeBody(payload[:size])
		if err != nil {
			return nil, errors.Annotate(err, "record %d", i).Err()
		}
		records = append(records, r)
		payload = payload[size:]
	}
	if len(payload) != 0 {
		return nil, errors.Annotate(ErrChecksum, "%d trailing bytes after %d records", len(payload), count).Err()
	}
	return records, nil
}

// bodyDecoder consumes a record body, remembering the first failure.
type bodyDecoder struct {
	b   []byte
	err error
}

func (d *bodyDecoder) fail(what string) {
	if d.err == nil {
		d.err = errors.Annotate(ErrChecksum, "malformed %s", what).Err()
	}
}

func (d *bodyDecoder) varint(what string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.fail(what)
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *bodyDecoder) u8(what string) uint8 {
	if d.err != nil {
		return 0
	}
	if len(d.b) == 0 {
		d.fail(what)
		return 0
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v
}

func (d *bodyDecoder) bytes(what string) string {
	if d.err != nil {
		return ""
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.fail(what)
		return ""
	}
	d.b = d.b[n:]
	return string(v)
}

func (d *bodyDecoder) fixed64(what string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(d.b)
	if n < 0 {
		d.fail(what)
		return 0
	}
	d.b = d.b[n:]
	return v
}

func decodeBody(body []byte) (*Record, error) {
	d := bodyDecoder{b: body}
	r := &Record{
		Time:    time.Unix(0, protowire.DecodeZigZag(d.varint("timestamp"))).UTC(),
		Level:   Level(d.u8("level")),
		Logger:  d.bytes("logger"),
		Message: d.bytes("message"),
	}
	nfields := d.varint("field count")
	if d.err == nil && nfields > uint64(len(d.b)) {
		d.fail("field count")
	}
	if d.err == nil && nfields > 0 {
		r.Fields = make([]Field, 0, nfields)
	}
	for i := uint64(0); d.err == nil && i < nfields; i++ {
		f := Field{Key: d.bytes("field key")}
		f.Value.kind = Kind(d.u8("field kind"))
		switch f.Value.kind {
		case KindNull:
		case KindBool:
			f.Value.num = uint64(d.u8("bool"))
		case KindInt64, KindTime, KindDuration:
			f.Value.num = uint64(protowire.DecodeZigZag(d.varint("int")))
		case KindUint64:
			f.Value.num = d.varint("uint")
		case KindFloat64:
			f.Value.num = d.fixed64("float")
		case KindString, KindBytes:
			f.Value.str = d.bytes("string")
		default:
			d.fail(fmt.Sprintf("field kind %d", f.Value.kind))
		}
		r.Fields = append(r.Fields, f)
	}

	switch {
	case d.err != nil:
		return nil, d.err
	case len(d.b) != 0:
		return nil, errors.Annotate(ErrChecksum, "%d unconsumed body bytes", len(d.b)).Err()
	case !r.Level.Valid():
		return nil, errors.Annotate(ErrChecksum, "unknown level %d", uint8(r.Level)).Err()
	case len(r.Logger) > MaxLoggerNameLen:
		return nil, errors.Annotate(ErrChecksum, "logger name is %d bytes", len(r.Logger)).Err()
	}
	return r, nil
}
