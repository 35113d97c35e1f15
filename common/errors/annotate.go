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

// Package errors is a thin layer over the standard errors package which adds
// annotation (a chain of human readable reasons wrapped around a cause) and
// boolean tags which survive wrapping.
//
// Annotated errors always unwrap to their cause, so the standard Is and As
// functions (re-exported here) continue to work on them.
package errors

import (
	"errors"
	"fmt"
)

// Re-exports of the standard library so callers only need one import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// New returns an error with the supplied message, optionally tagged.
func New(msg string, tags ...TagValue) error {
	err := errors.New(msg)
	if len(tags) == 0 {
		return err
	}
	return (&Annotator{inner: err, tags: tags}).Err()
}

// annotatedError is an error with an optional reason wrapped around an
// optional inner error.
type annotatedError struct {
	inner  error
	reason string
	tags   []TagValue
}

func (e *annotatedError) Error() string {
	switch {
	case e.inner == nil:
		return e.reason
	case e.reason == "":
		return e.inner.Error()
	default:
		return e.reason + ": " + e.inner.Error()
	}
}

func (e *annotatedError) Unwrap() error { return e.inner }

// Annotator is a builder for annotating errors. Obtain one by calling Annotate
// on an existing error or using Reason.
type Annotator struct {
	inner  error
	reason string
	tags   []TagValue
}

// Annotate wraps err with a formatted reason.
//
// If err is nil, Annotate returns a nil *Annotator, and all Annotator methods
// (including Err) are safe to call on it, yielding a nil error:
//
//	return errors.Annotate(err, "failed to open %q", path).Err()
func Annotate(err error, reason string, args ...any) *Annotator {
	if err == nil {
		return nil
	}
	return &Annotator{inner: err, reason: sprintf(reason, args)}
}

// Reason builds a new error from a formatted reason.
//
// Prefer this form to errors.New(fmt.Sprintf("...")).
func Reason(reason string, args ...any) *Annotator {
	return &Annotator{reason: sprintf(reason, args)}
}

// Tag adds tags to this error.
func (a *Annotator) Tag(tags ...TagValue) *Annotator {
	if a == nil {
		return a
	}
	a.tags = append(a.tags, tags...)
	return a
}

// Err returns the finalized annotated error.
func (a *Annotator) Err() error {
	if a == nil {
		return nil
	}
	return &annotatedError{inner: a.inner, reason: a.reason, tags: a.tags}
}

func sprintf(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
