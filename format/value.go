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
	"strconv"
	"time"
)

// Kind is the type of a structured field Value.
type Kind uint8

// Supported field value kinds. These are persisted, never renumber them.
const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindFloat64
	KindString
	KindBytes
	KindTime
	KindDuration

	kindCount
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt64:    "int64",
	KindUint64:   "uint64",
	KindFloat64:  "float64",
	KindString:   "string",
	KindBytes:    "bytes",
	KindTime:     "time",
	KindDuration: "duration",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a primitive structured field value.
//
// The zero Value is null.
type Value struct {
	kind Kind
	num  uint64
	str  string
}

// NullValue returns the null Value.
func NullValue() Value { return Value{} }

// BoolValue returns a bool Value.
func BoolValue(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

// Int64Value returns an int64 Value.
func Int64Value(v int64) Value { return Value{kind: KindInt64, num: uint64(v)} }

// Uint64Value returns a uint64 Value.
func Uint64Value(v uint64) Value { return Value{kind: KindUint64, num: v} }

// Float64Value returns a float64 Value.
func Float64Value(v float64) Value { return Value{kind: KindFloat64, num: math.Float64bits(v)} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{kind: KindString, str: v} }

// BytesValue returns a bytes Value. v is copied.
func BytesValue(v []byte) Value { return Value{kind: KindBytes, str: string(v)} }

// TimeValue returns a time Value with nanosecond precision.
func TimeValue(v time.Time) Value { return Value{kind: KindTime, num: uint64(v.UnixNano())} }

// DurationValue returns a duration Value.
func DurationValue(v time.Duration) Value { return Value{kind: KindDuration, num: uint64(v)} }

// AnyValue converts common Go types into a Value. Unsupported types are
// rendered with fmt into a string Value.
func AnyValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return NullValue()
	case Value:
		return x
	case bool:
		return BoolValue(x)
	case int:
		return Int64Value(int64(x))
	case int8:
		return Int64Value(int64(x))
	case int16:
		return Int64Value(int64(x))
	case int32:
		return Int64Value(int64(x))
	case int64:
		return Int64Value(x)
	case uint:
		return Uint64Value(uint64(x))
	case uint8:
		return Uint64Value(uint64(x))
	case uint16:
		return Uint64Value(uint64(x))
	case uint32:
		return Uint64Value(uint64(x))
	case uint64:
		return Uint64Value(x)
	case float32:
		return Float64Value(float64(x))
	case float64:
		return Float64Value(x)
	case string:
		return StringValue(x)
	case []byte:
		return BytesValue(x)
	case time.Time:
		return TimeValue(x)
	case time.Duration:
		return DurationValue(x)
	case error:
		return StringValue(x.Error())
	case fmt.Stringer:
		return StringValue(x.String())
	default:
		return StringValue(fmt.Sprint(x))
	}
}

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the value of a bool Value.
func (v Value) Bool() bool { return v.num != 0 }

// Int64 returns the value of an int64 Value.
func (v Value) Int64() int64 { return int64(v.num) }

// Uint64 returns the value of a uint64 Value.
func (v Value) Uint64() uint64 { return v.num }

// Float64 returns the value of a float64 Value.
func (v Value) Float64() float64 { return math.Float64frombits(v.num) }

// Str returns the value of a string Value.
func (v Value) Str() string { return v.str }

// Bytes returns a copy of the value of a bytes Value.
func (v Value) Bytes() []byte { return []byte(v.str) }

// Time returns the value of a time Value, in UTC.
func (v Value) Time() time.Time { return time.Unix(0, int64(v.num)).UTC() }

// Duration returns the value of a duration Value.
func (v Value) Duration() time.Duration { return time.Duration(v.num) }

// Any returns v as a plain Go value suitable for JSON or msgpack encoding.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.Bool()
	case KindInt64:
		return v.Int64()
	case KindUint64:
		return v.Uint64()
	case KindFloat64:
		return v.Float64()
	case KindString:
		return v.str
	case KindBytes:
		return v.Bytes()
	case KindTime:
		return v.Time()
	case KindDuration:
		return v.Duration().String()
	default:
		return nil
	}
}

// Equal reports whether v and o hold the same kind and value.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.num == o.num && v.str == o.str
}

// String renders v for text output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case KindUint64:
		return strconv.FormatUint(v.num, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case KindString:
		return v.str
	case KindBytes:
		return fmt.Sprintf("%x", v.str)
	case KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case KindDuration:
		return v.Duration().String()
	default:
		return v.kind.String()
	}
}
