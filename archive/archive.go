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

// Package archive ships rotated clog files to remote storage.
//
// Hook plugs an Uploader into writer.Options.OnRotate so every archive is
// uploaded as soon as it is produced; UploadAll catches up on archives
// already on disk.
package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/common/retry"
	"github.com/Akanyi/clog/common/retry/transient"
	"github.com/Akanyi/clog/writer"
)

// ContentType is the MIME type archives are uploaded with.
const ContentType = "application/x-clog"

// Uploader stores objects remotely.
//
// Errors worth retrying are tagged with transient.Tag.
type Uploader interface {
	// Upload stores size bytes read from body under key.
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
}

// Options configures Hook and UploadAll.
type Options struct {
	// Prefix is prepended to the base name of each archive to form its key.
	Prefix string

	// DeleteLocal removes the local archive after a successful upload.
	DeleteLocal bool

	// Retry produces the retry policy for transient upload failures.
	//
	// Default: DefaultRetry.
	Retry retry.Factory

	// Parallelism bounds concurrent uploads in UploadAll. Defaults to 4.
	Parallelism int

	// OnError, if set, is called by Hook with every archive it failed to
	// upload. Otherwise the failure is logged.
	OnError func(ctx context.Context, path string, err error)
}

// DefaultRetry is the default value of Options.Retry.
func DefaultRetry() retry.Iterator {
	return &retry.ExponentialBackoff{
		Limited: retry.Limited{
			Delay:    time.Second,
			Retries:  5,
			MaxTotal: 2 * time.Minute,
		},
		MaxDelay: 30 * time.Second,
	}
}

func (o *Options) normalize() {
	if o.Retry == nil {
		o.Retry = DefaultRetry
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
}

// Key returns the object key an archive is uploaded under.
func (o *Options) Key(path string) string {
	return o.Prefix + filepath.Base(path)
}

// Hook returns a writer.Options.OnRotate callback uploading each new archive
// with u.
//
// The upload runs on the goroutine which rotated the file, so the Append
// which triggered the rotation waits for it.
func Hook(u Uploader, opts Options) func(context.Context, writer.RotateEvent) {
	opts.normalize()
	return func(ctx context.Context, ev writer.RotateEvent) {
		err := UploadFile(ctx, u, ev.Archive, opts)
		switch {
		case err == nil:
		case opts.OnError != nil:
			opts.OnError(ctx, ev.Archive, err)
		default:
			logging.WithError(err).Errorf(ctx, "Failed to upload archive %q.", ev.Archive)
		}
	}
}

// UploadFile uploads the file at path and deletes it afterwards if
// opts.DeleteLocal is set.
func UploadFile(ctx context.Context, u Uploader, path string, opts Options) error {
	opts.normalize()
	key := opts.Key(path)

	err := retry.Retry(ctx, transient.OnlyFactory(opts.Retry), func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Annotate(err, "opening archive").Err()
		}
		defer f.Close()

		st, err := f.Stat()
		if err != nil {
			return errors.Annotate(err, "stat").Err()
		}
		return u.Upload(ctx, key, f, st.Size())
	}, func(err error, d time.Duration) {
		logging.Fields{
			logging.ErrorKey: err,
			"key":            key,
			"delay":          d,
		}.Warningf(ctx, "Transient error uploading archive. Retrying...")
	})
	if err != nil {
		return errors.Annotate(err, "uploading %q as %q", path, key).Err()
	}
	logging.Infof(ctx, "Uploaded %q as %q.", path, key)

	if opts.DeleteLocal {
		if err := os.Remove(path); err != nil {
			return errors.Annotate(err, "deleting uploaded archive").Err()
		}
	}
	return nil
}

// UploadAll uploads every archive of the clog file at path, at most
// opts.Parallelism at a time. It returns the keys of the uploaded archives,
// oldest first, and a MultiError of the failures.
func UploadAll(ctx context.Context, u Uploader, path string, opts Options) ([]string, error) {
	opts.normalize()
	archives, err := writer.ListArchives(path)
	if err != nil {
		return nil, err
	}

	errs := make(errors.MultiError, len(archives))
	var eg errgroup.Group
	eg.SetLimit(opts.Parallelism)
	for i, a := range archives {
		eg.Go(func() error {
			errs[i] = UploadFile(ctx, u, a.Path, opts)
			return nil
		})
	}
	eg.Wait()

	var keys []string
	for i, a := range archives {
		if errs[i] == nil {
			keys = append(keys, opts.Key(a.Path))
		}
	}
	return keys, errs.AsError()
}
