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

import "fmt"

// MultiError is a simple `error` implementation which represents multiple
// `error` objects in one.
type MultiError []error

// MaybeAdd will add `err` to `m` if `err` is not nil.
func (m *MultiError) MaybeAdd(err error) {
	if err == nil {
		return
	}
	*m = append(*m, err)
}

// AsError returns an `error` interface for this MultiError only if it has
// non-nil errors.
func (m MultiError) AsError() error {
	for _, e := range m {
		if e != nil {
			return m
		}
	}
	return nil
}

// Unwrap lets errors.Is and errors.As see every member.
func (m MultiError) Unwrap() []error { return m }

func (m MultiError) Error() string {
	n, first := m.Summary()
	switch n {
	case 0:
		return "(0 errors)"
	case 1:
		return first.Error()
	case 2:
		return fmt.Sprintf("%s (and 1 other error)", first)
	}
	return fmt.Sprintf("%s (and %d other errors)", first, n-1)
}

// Summary gets the total count of non-nil errors and returns the first one.
func (m MultiError) Summary() (n int, first error) {
	for _, e := range m {
		if e != nil {
			if n == 0 {
				first = e
			}
			n++
		}
	}
	return
}
