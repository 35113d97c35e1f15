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

// Package iotools contains small io.Reader and io.Writer wrappers.
package iotools

import (
	"io"
)

// CountingReader is an io.Reader that counts the number of bytes that are
// read.
type CountingReader struct {
	io.Reader // The underlying io.Reader.

	Count int64
}

var _ io.Reader = (*CountingReader)(nil)

// Read implements io.Reader.
func (c *CountingReader) Read(buf []byte) (int, error) {
	amount, err := c.Reader.Read(buf)
	c.Count += int64(amount)
	return amount, err
}

// CountingWriter is an io.Writer that counts the number of bytes that are
// written.
type CountingWriter struct {
	io.Writer // The underlying io.Writer.

	// Count is the number of bytes that have been written. It may be primed
	// with the size of data already present at the destination.
	Count int64
}

var _ io.Writer = (*CountingWriter)(nil)

// Write implements io.Writer.
func (c *CountingWriter) Write(buf []byte) (int, error) {
	amount, err := c.Writer.Write(buf)
	c.Count += int64(amount)
	return amount, err
}
