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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	. "github.com/smartystreets/goconvey/convey"
	"google.golang.org/api/googleapi"

	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/retry"
	"github.com/Akanyi/clog/common/retry/transient"
	"github.com/Akanyi/clog/format"
	"github.com/Akanyi/clog/reader"
	"github.com/Akanyi/clog/writer"
)

var testTime = time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

func noDelay() retry.Iterator {
	return &retry.Limited{Retries: 2}
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestHook(t *testing.T) {
	t.Parallel()

	Convey(`Archives produced by a Writer`, t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "svc.clog")
		up := &Memory{}

		write := func(opts Options, n int) *writer.Writer {
			w, err := writer.Open(ctx, path, writer.Options{OnRotate: Hook(up, opts)})
			So(err, ShouldBeNil)
			for i := 0; i < n; i++ {
				So(w.Append(ctx, &format.Record{Level: format.LevelInfo, Message: "hello"}), ShouldBeNil)
				So(w.Rotate(ctx), ShouldBeNil)
			}
			return w
		}

		Convey(`are uploaded on rotation`, func() {
			w := write(Options{Prefix: "logs/", Retry: noDelay}, 2)
			So(w.Close(ctx), ShouldBeNil)

			archives, err := writer.ListArchives(path)
			So(err, ShouldBeNil)
			So(archives, ShouldHaveLength, 2)

			keys := up.Keys()
			So(keys, ShouldResemble, []string{
				"logs/" + filepath.Base(archives[0].Path),
				"logs/" + filepath.Base(archives[1].Path),
			})

			data, ok := up.Get(keys[0])
			So(ok, ShouldBeTrue)
			local, err := os.ReadFile(archives[0].Path)
			So(err, ShouldBeNil)
			So(data, ShouldResemble, local)
		})

		Convey(`can be deleted once uploaded`, func() {
			w := write(Options{DeleteLocal: true, Retry: noDelay}, 3)
			So(w.Close(ctx), ShouldBeNil)

			archives, err := writer.ListArchives(path)
			So(err, ShouldBeNil)
			So(archives, ShouldBeEmpty)
			So(up.Keys(), ShouldHaveLength, 3)
		})

		Convey(`are retried on transient errors`, func() {
			up.FailNext(transient.Tag.Apply(errors.New("503")))
			w := write(Options{Retry: noDelay}, 1)
			So(w.Close(ctx), ShouldBeNil)
			So(up.Keys(), ShouldHaveLength, 1)
		})

		Convey(`are kept when the upload fails`, func() {
			var failed []string
			up.FailNext(errors.New("denied"))
			w := write(Options{
				DeleteLocal: true,
				Retry:       noDelay,
				OnError:     func(_ context.Context, p string, _ error) { failed = append(failed, p) },
			}, 1)
			So(w.Close(ctx), ShouldBeNil)
			So(up.Keys(), ShouldBeEmpty)

			archives, err := writer.ListArchives(path)
			So(err, ShouldBeNil)
			So(archives, ShouldHaveLength, 1)
			So(failed, ShouldResemble, []string{archives[0].Path})

			Convey(`and caught up by UploadAll`, func() {
				keys, err := UploadAll(ctx, up, path, Options{Retry: noDelay})
				So(err, ShouldBeNil)
				So(keys, ShouldResemble, []string{filepath.Base(archives[0].Path)})

				r, err := reader.Open(archives[0].Path, reader.Options{Strict: true})
				So(err, ShouldBeNil)
				defer r.Close()
				recs, err := r.Tail(10)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
			})
		})
	})
}

func TestUploadAll(t *testing.T) {
	t.Parallel()

	Convey(`UploadAll`, t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		path := filepath.Join(dir, "a.clog")
		for seq := 1; seq <= 6; seq++ {
			p := writer.ArchiveName(path, testTime, seq)
			So(os.WriteFile(p, []byte(p), 0644), ShouldBeNil)
		}

		Convey(`uploads every archive`, func() {
			up := &Memory{}
			keys, err := UploadAll(ctx, up, path, Options{Parallelism: 2, Retry: noDelay})
			So(err, ShouldBeNil)
			So(keys, ShouldHaveLength, 6)
			So(keys[0], ShouldEndWith, ".000001")
			So(keys[5], ShouldEndWith, ".000006")
			So(up.Keys(), ShouldResemble, keys)
		})

		Convey(`reports failures`, func() {
			up := &Memory{}
			up.FailNext(errors.New("nope"))
			keys, err := UploadAll(ctx, up, path, Options{Parallelism: 1, Retry: noDelay})
			So(keys, ShouldHaveLength, 5)
			var merr errors.MultiError
			So(errors.As(err, &merr), ShouldBeTrue)
			n, _ := merr.Summary()
			So(n, ShouldEqual, 1)
		})
	})
}

func TestS3Uploader(t *testing.T) {
	t.Parallel()

	Convey(`S3Uploader`, t, func() {
		ctx := context.Background()
		api := &fakeS3{}
		u := &S3Uploader{bucket: "b", kmsKey: "arn:key", api: api}

		Convey(`puts the object`, func() {
			So(u.Upload(ctx, "k", strings.NewReader("payload"), 7), ShouldBeNil)
			So(api.inputs, ShouldHaveLength, 1)
			in := api.inputs[0]
			So(aws.ToString(in.Bucket), ShouldEqual, "b")
			So(aws.ToString(in.Key), ShouldEqual, "k")
			So(aws.ToInt64(in.ContentLength), ShouldEqual, int64(7))
			So(aws.ToString(in.ContentType), ShouldEqual, ContentType)
			So(in.ServerSideEncryption, ShouldEqual, types.ServerSideEncryptionAwsKms)
			So(string(api.bodies[0]), ShouldEqual, "payload")
		})

		Convey(`classifies errors`, func() {
			api.err = &smithy.GenericAPIError{Code: "SlowDown"}
			err := u.Upload(ctx, "k", strings.NewReader("x"), 1)
			So(transient.Tag.In(err), ShouldBeTrue)

			api.err = &smithy.GenericAPIError{Code: "AccessDenied"}
			err = u.Upload(ctx, "k", strings.NewReader("x"), 1)
			So(err, ShouldNotBeNil)
			So(transient.Tag.In(err), ShouldBeFalse)

			api.err = context.Canceled
			So(transient.Tag.In(u.Upload(ctx, "k", strings.NewReader("x"), 1)), ShouldBeFalse)

			api.err = errors.New("connection reset")
			So(transient.Tag.In(u.Upload(ctx, "k", strings.NewReader("x"), 1)), ShouldBeTrue)
		})

		Convey(`requires a bucket`, func() {
			_, err := NewS3Uploader(ctx, S3Config{})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestGCSErrors(t *testing.T) {
	t.Parallel()

	Convey(`gcsError`, t, func() {
		So(transient.Tag.In(gcsError(&googleapi.Error{Code: http.StatusServiceUnavailable}, "x")), ShouldBeTrue)
		So(transient.Tag.In(gcsError(&googleapi.Error{Code: http.StatusTooManyRequests}, "x")), ShouldBeTrue)
		So(transient.Tag.In(gcsError(&googleapi.Error{Code: http.StatusForbidden}, "x")), ShouldBeFalse)

		_, err := NewGCSUploader(context.Background(), GCSConfig{})
		So(err, ShouldNotBeNil)
	})
}
