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

package gologger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Akanyi/clog/common/logging"
)

func TestGoLogger(t *testing.T) {
	Convey(`A go-logging logger`, t, func() {
		buf := &bytes.Buffer{}
		lc := &LoggerConfig{Format: `%{level:.4s} %{message}`, Out: buf}
		ctx := lc.Use(context.Background())

		Convey(`writes at or above the context level`, func() {
			logging.Debugf(ctx, "hidden %d", 1)
			logging.Infof(ctx, "shown %d", 2)
			So(buf.String(), ShouldEqual, "INFO shown 2\n")
		})

		Convey(`honors a lowered level`, func() {
			ctx = logging.SetLevel(ctx, logging.Debug)
			logging.Debugf(ctx, "visible")
			So(buf.String(), ShouldEqual, "DEBU visible\n")
		})

		Convey(`appends fields`, func() {
			logging.Fields{"path": "a.clog"}.Warningf(ctx, "rotating")
			logging.WithError(errors.New("boom")).Errorf(ctx, "failed")
			So(buf.String(), ShouldEqual,
				"WARN rotating {\"path\":\"a.clog\"}\n"+
					"ERRO failed {\"error\":\"boom\"}\n")
		})
	})
}
