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

package iotools

import (
	"bytes"
	"io"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCounting(t *testing.T) {
	t.Parallel()

	Convey(`A CountingReader`, t, func() {
		cr := &CountingReader{Reader: strings.NewReader("hello world")}
		data, err := io.ReadAll(cr)
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, "hello world")
		So(cr.Count, ShouldEqual, int64(11))
	})

	Convey(`A primed CountingWriter`, t, func() {
		var buf bytes.Buffer
		cw := &CountingWriter{Writer: &buf, Count: 16}
		n, err := cw.Write([]byte("abc"))
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 3)
		So(cw.Count, ShouldEqual, int64(19))
	})
}
