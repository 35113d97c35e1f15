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

// Package transient allows you to tag and retry 'transient' errors (i.e.
// errors that are expected to go away on a retry, like lock contention).
package transient

import (
	"context"
	"time"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/retry"
)

// Tag is used to indicate that an error is transient (i.e. something is
// temporarily wrong).
var Tag = errors.BoolTag{Key: errors.NewTagKey("this error is temporary")}

// Only is an Iterator wrapper which only retries errors tagged as transient.
type Only struct {
	retry.Iterator
}

// Next implements the retry.Iterator interface.
func (i *Only) Next(ctx context.Context, err error) time.Duration {
	if !Tag.In(err) {
		return retry.Stop
	}
	return i.Iterator.Next(ctx, err)
}

// OnlyFactory wraps every Iterator produced by f in Only.
func OnlyFactory(f retry.Factory) retry.Factory {
	return func() retry.Iterator {
		it := f()
		if it == nil {
			return nil
		}
		return &Only{it}
	}
}
