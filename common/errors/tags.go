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

package errors

type tagDescription struct {
	description string
}

// TagKey identifies a tag. Compare keys by identity.
type TagKey *tagDescription

// NewTagKey creates a new TagKey.
func NewTagKey(description string) TagKey {
	return &tagDescription{description}
}

// TagValue is a (key, value) pair applied to an error.
type TagValue struct {
	Key   TagKey
	Value any
}

// Apply applies this tag value directly to the error.
//
// This is a shortcut for `errors.Annotate(err, "").Tag(t).Err()`.
func (t TagValue) Apply(err error) error {
	if err == nil {
		return nil
	}
	return Annotate(err, "").Tag(t).Err()
}

// TagValueIn returns the value of the outermost tag with key t found in err's
// chain (including MultiError members).
func TagValueIn(t TagKey, err error) (value any, ok bool) {
	Walk(err, func(err error) bool {
		ae, isAE := err.(*annotatedError)
		if !isAE {
			return true
		}
		for i := len(ae.tags) - 1; i >= 0; i-- {
			if ae.tags[i].Key == t {
				value, ok = ae.tags[i].Value, true
				return false
			}
		}
		return true
	})
	return
}

// BoolTag is an error tag implementation which holds a boolean value.
//
// It should be constructed like:
//
//	var myTag = errors.BoolTag{Key: errors.NewTagKey("some description")}
type BoolTag struct{ Key TagKey }

// With returns a TagValue for this tag holding v.
func (b BoolTag) With(v bool) TagValue { return TagValue{b.Key, v} }

// Apply tags err with this tag set to true.
func (b BoolTag) Apply(err error) error { return b.With(true).Apply(err) }

// In returns true iff this tag is in err and its value is true.
func (b BoolTag) In(err error) bool {
	v, ok := TagValueIn(b.Key, err)
	if !ok {
		return false
	}
	return v.(bool)
}

// Walk performs a depth-first traversal of err, invoking fn for each layer.
// The traversal stops as soon as fn returns false.
func Walk(err error, fn func(error) bool) {
	walk(err, fn)
}

func walk(err error, fn func(error) bool) bool {
	if err == nil {
		return true
	}
	if !fn(err) {
		return false
	}
	switch e := err.(type) {
	case MultiError:
		for _, inner := range e {
			if !walk(inner, fn) {
				return false
			}
		}
		return true
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if !walk(inner, fn) {
				return false
			}
		}
		return true
	case interface{ Unwrap() error }:
		return walk(e.Unwrap(), fn)
	}
	return true
}
