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

package testclock

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Akanyi/clog/common/clock"
)

func TestTestClock(t *testing.T) {
	t.Parallel()

	Convey(`A test clock`, t, func() {
		ctx, tc := UseTime(context.Background(), TestTimeUTC)

		Convey(`reports its time through the context`, func() {
			So(clock.Now(ctx), ShouldEqual, TestTimeUTC)
			tc.Add(time.Minute)
			So(clock.Since(ctx, TestTimeUTC), ShouldEqual, time.Minute)
		})

		Convey(`wakes sleepers when advanced`, func() {
			tc.SetTimerCallback(func(d time.Duration) { tc.Add(d) })
			tr := clock.Sleep(ctx, time.Hour)
			So(tr.Incomplete(), ShouldBeFalse)
			So(tr.Time, ShouldEqual, TestTimeUTC.Add(time.Hour))
		})

		Convey(`cancellation interrupts a sleep`, func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			tr := clock.Sleep(cctx, time.Hour)
			So(tr.Incomplete(), ShouldBeTrue)
			So(tr.Err, ShouldEqual, context.Canceled)
		})
	})
}
