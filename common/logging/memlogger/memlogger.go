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

// Package memlogger implements an in-memory logging.Logger for tests.
package memlogger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Akanyi/clog/common/logging"
)

// LogEntry is a single entry in a MemLogger.
type LogEntry struct {
	Level  logging.Level
	Msg    string
	Fields logging.Fields
}

// MemLogger is a logging.Logger which stores entries in memory.
type MemLogger struct {
	lock *sync.Mutex
	data *[]LogEntry
	ctx  context.Context
}

var _ logging.Logger = (*MemLogger)(nil)

func (m *MemLogger) Debugf(format string, args ...any) {
	m.LogCall(logging.Debug, 1, format, args)
}

func (m *MemLogger) Infof(format string, args ...any) {
	m.LogCall(logging.Info, 1, format, args)
}

func (m *MemLogger) Warningf(format string, args ...any) {
	m.LogCall(logging.Warning, 1, format, args)
}

func (m *MemLogger) Errorf(format string, args ...any) {
	m.LogCall(logging.Error, 1, format, args)
}

// LogCall implements logging.Logger. Level filtering is not applied.
func (m *MemLogger) LogCall(lvl logging.Level, calldepth int, format string, args []any) {
	m.lock.Lock()
	defer m.lock.Unlock()
	*m.data = append(*m.data, LogEntry{
		Level:  lvl,
		Msg:    fmt.Sprintf(format, args...),
		Fields: logging.GetFields(m.ctx),
	})
}

// Messages returns a copy of all logged entries.
func (m *MemLogger) Messages() []LogEntry {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]LogEntry(nil), *m.data...)
}

// HasSubstring reports whether any entry at level lvl contains substr.
func (m *MemLogger) HasSubstring(lvl logging.Level, substr string) bool {
	for _, e := range m.Messages() {
		if e.Level == lvl && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

// Use adds a memory backed Logger to the context and returns it.
func Use(ctx context.Context) (context.Context, *MemLogger) {
	lock := &sync.Mutex{}
	data := &[]LogEntry{}
	ctx = logging.SetFactory(ctx, func(ctx context.Context) logging.Logger {
		return &MemLogger{lock: lock, data: data, ctx: ctx}
	})
	return ctx, &MemLogger{lock: lock, data: data, ctx: ctx}
}
