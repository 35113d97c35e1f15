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

package writer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Akanyi/clog/common/clock"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/format"
)

// ArchiveTimeLayout is the timestamp layout used in archive names.
const ArchiveTimeLayout = "20060102T150405Z"

// Archive is a rotated clog file.
type Archive struct {
	Path string
	Time time.Time
	Seq  int
}

// ArchiveName returns the name of the seq'th archive of path, rotated at t.
func ArchiveName(path string, t time.Time, seq int) string {
	return fmt.Sprintf("%s.%s.%06d", path, t.UTC().Format(ArchiveTimeLayout), seq)
}

// ListArchives returns the archives of the clog file at path, oldest first.
func ListArchives(path string) ([]Archive, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Annotate(err, "listing archives of %q", path).Err()
	}

	var out []Archive
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rest, ok := strings.CutPrefix(e.Name(), base+".")
		if !ok {
			continue
		}
		ts, seqStr, ok := strings.Cut(rest, ".")
		if !ok || len(seqStr) < 6 {
			continue
		}
		t, err := time.Parse(ArchiveTimeLayout, ts)
		if err != nil {
			continue
		}
		seq, err := strconv.Atoi(seqStr)
		if err != nil || seq < 0 {
			continue
		}
		out = append(out, Archive{Path: filepath.Join(dir, e.Name()), Time: t, Seq: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// nextArchiveName picks a sequence number one past the highest one in use, so
// that archive names never collide.
func nextArchiveName(path string, now time.Time) (string, error) {
	archives, err := ListArchives(path)
	if err != nil {
		return "", err
	}
	seq := 1
	if n := len(archives); n > 0 {
		seq = archives[n-1].Seq + 1
	}
	return ArchiveName(path, now, seq), nil
}

// nextBoundary returns the next time based rotation after now: the next time
// matching RotateSchedule, or the first multiple of RotateInterval counted from
// midnight in RotateLocation. It is zero if there is none.
func (w *Writer) nextBoundary(now time.Time) time.Time {
	if w.opts.RotateSchedule != nil {
		return w.opts.RotateSchedule.Next(now.In(w.opts.RotateLocation))
	}
	interval := w.opts.RotateInterval
	if interval <= 0 {
		return time.Time{}
	}
	t := now.In(w.opts.RotateLocation)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, w.opts.RotateLocation)
	return midnight.Add((t.Sub(midnight)/interval + 1) * interval)
}

// Rotate flushes the buffer and rotates the file, regardless of the rotation
// policy. A file holding no chunks is not rotated.
func (w *Writer) Rotate(ctx context.Context) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return w.rotate(ctx, "manual")
}

func (w *Writer) rotate(ctx context.Context, reason string) error {
	ev, err := func() (*RotateEvent, error) {
		w.flushMu.Lock()
		defer w.flushMu.Unlock()
		return w.rotateLocked(ctx, reason)
	}()
	if ev != nil {
		w.afterRotate(ctx, *ev)
	}
	return err
}

func (w *Writer) rotateLocked(ctx context.Context, reason string) (*RotateEvent, error) {
	if w.f == nil {
		return nil, ErrClosed
	}
	if err := w.flushLocked(ctx); err != nil {
		return nil, errors.Annotate(err, "flushing before rotation").Err()
	}

	now := clock.Now(ctx)
	var ev *RotateEvent
	err := w.withLock(ctx, func() error {
		switch current, err := w.currentLocked(); {
		case err != nil:
			return err
		case !current:
			// Somebody else rotated it already.
			logging.Infof(ctx, "%q was rotated by another writer, reopening.", w.path)
			return w.openActiveLocked(ctx)
		}

		st, err := w.f.Stat()
		if err != nil {
			return errors.Annotate(err, "stat").Err()
		}
		if st.Size() <= format.HeaderSize {
			w.size = st.Size()
			return nil
		}

		archive, err := nextArchiveName(w.path, now)
		if err != nil {
			return err
		}
		if err := os.Rename(w.path, archive); err != nil {
			return errors.Annotate(err, "renaming to %q", archive).Err()
		}
		// The archive exists from here on, whatever happens to the fresh file.
		// The next flush creates it if this attempt fails.
		ev = &RotateEvent{Archive: archive, Active: w.path, Reason: reason, Time: now}
		if err := w.openActiveLocked(ctx); err != nil {
			return errors.Annotate(err, "starting a fresh file").Err()
		}
		return nil
	})
	if err == nil || ev != nil {
		w.mu.Lock()
		w.rotateDue = false
		w.nextRotate = w.nextBoundary(now)
		w.mu.Unlock()
	}

	if ev != nil {
		w.rotations.Add(1)
		w.opts.Metrics.rotated(reason)
		logging.Fields{
			"archive": ev.Archive,
			"reason":  reason,
		}.Infof(ctx, "Rotated %q.", w.path)
	}
	if err != nil {
		return ev, errors.Annotate(err, "rotating %q", w.path).Err()
	}
	return ev, nil
}

func (w *Writer) afterRotate(ctx context.Context, ev RotateEvent) {
	if w.opts.MaxArchives > 0 {
		if err := pruneArchives(ctx, w.path, w.opts.MaxArchives); err != nil {
			logging.WithError(err).Warningf(ctx, "Failed to prune archives of %q.", w.path)
		}
	}
	if w.opts.OnRotate != nil {
		w.opts.OnRotate(ctx, ev)
	}
}

// pruneArchives deletes all but the newest keep archives of path.
func pruneArchives(ctx context.Context, path string, keep int) error {
	archives, err := ListArchives(path)
	if err != nil || len(archives) <= keep {
		return err
	}

	var merr errors.MultiError
	for _, a := range archives[:len(archives)-keep] {
		switch err := os.Remove(a.Path); {
		case err == nil:
			logging.Debugf(ctx, "Deleted old archive %q.", a.Path)
		case !errors.Is(err, fs.ErrNotExist):
			merr.MaybeAdd(err)
		}
	}
	return merr.AsError()
}
