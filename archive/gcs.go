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

package archive

import (
	"context"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/retry/transient"
)

// GCSConfig describes a Google Cloud Storage destination.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`

	// CredentialsFile is a service account key. Application default
	// credentials are used when empty.
	CredentialsFile string `yaml:"credentials_file"`

	// Endpoint overrides the service endpoint, e.g. for an emulator.
	Endpoint string `yaml:"endpoint"`
}

// GCSUploader uploads archives to a Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

var _ Uploader = (*GCSUploader)(nil)

// NewGCSUploader builds a GCSUploader from cfg.
func NewGCSUploader(ctx context.Context, cfg GCSConfig) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "creating Cloud Storage client").Err()
	}
	return &GCSUploader{client: client, bucket: cfg.Bucket}, nil
}

// Close releases the underlying client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// Upload implements Uploader.
func (u *GCSUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = ContentType
	if size < googleapi.DefaultUploadChunkSize {
		// Single request upload.
		w.ChunkSize = 0
	}

	if _, err := io.Copy(w, body); err != nil {
		// Cancelling the context aborts the upload.
		cancel()
		w.Close()
		return gcsError(err, "writing gs://%s/%s", u.bucket, key)
	}
	if err := w.Close(); err != nil {
		return gcsError(err, "finalizing gs://%s/%s", u.bucket, key)
	}
	return nil
}

// gcsError annotates err, tagging throttling and server side failures as
// transient.
func gcsError(err error, reason string, args ...any) error {
	a := errors.Annotate(err, reason, args...)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError {
			a.Tag(transient.Tag.With(true))
		}
	}
	return a.Err()
}
