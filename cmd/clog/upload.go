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

package main

import (
	"context"
	"io"

	"github.com/maruel/subcommands"

	"github.com/Akanyi/clog/archive"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/config"
)

var cmdUpload = &subcommands.Command{
	UsageLine: "upload [options] [<file>]",
	ShortDesc: "uploads the archives of a clog file",
	LongDesc: `Uploads every archive rotated from a clog file to S3 or Cloud Storage.

Use it to catch up after failed uploads. The destination comes from flags or
from the archive section of a YAML file given with -config.`,
	CommandRun: func() subcommands.CommandRun {
		c := &uploadRun{}
		c.Init()
		return c
	},
}

type uploadRun struct {
	commonFlags
	configPath  string
	s3          archive.S3Config
	gcs         archive.GCSConfig
	prefix      string
	deleteLocal bool
	parallelism int
}

func (c *uploadRun) Init() {
	c.commonFlags.Init()
	c.Flags.StringVar(&c.configPath, "config", "", "YAML file with the archive destination.")
	c.Flags.StringVar(&c.s3.Bucket, "s3-bucket", "", "Upload to this S3 bucket.")
	c.Flags.StringVar(&c.s3.Region, "s3-region", "", "AWS region of -s3-bucket.")
	c.Flags.StringVar(&c.s3.Endpoint, "s3-endpoint", "", "Custom S3 endpoint, e.g. for MinIO.")
	c.Flags.BoolVar(&c.s3.ForcePathStyle, "s3-path-style", false, "Use path style S3 addressing.")
	c.Flags.StringVar(&c.gcs.Bucket, "gcs-bucket", "", "Upload to this Cloud Storage bucket.")
	c.Flags.StringVar(&c.gcs.CredentialsFile, "gcs-credentials", "", "Service account key for -gcs-bucket.")
	c.Flags.StringVar(&c.prefix, "prefix", "", "Prefix of the object keys.")
	c.Flags.BoolVar(&c.deleteLocal, "delete", false, "Delete archives once uploaded.")
	c.Flags.IntVar(&c.parallelism, "parallelism", 4, "Number of concurrent uploads.")
}

func (c *uploadRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, 0, 1, c.main)
}

func (c *uploadRun) main(ctx context.Context, app *application, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	opts := archive.Options{Prefix: c.prefix, DeleteLocal: c.deleteLocal}

	u := app.uploader
	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		if cfg.Archive == nil {
			return errors.Reason("%s has no archive section", c.configPath).Tag(errUsage.With(true)).Err()
		}
		if path == "" {
			path = cfg.Path
		}
		opts = cfg.ArchiveOptions()
		if u == nil {
			if u, err = cfg.Uploader(ctx); err != nil {
				return err
			}
		}
	} else if u == nil {
		var err error
		if u, err = c.uploader(ctx); err != nil {
			return err
		}
	}
	if closer, ok := u.(io.Closer); ok {
		defer closer.Close()
	}
	if path == "" {
		return errors.Reason("either <file> or -config is required").Tag(errUsage.With(true)).Err()
	}
	opts.Parallelism = c.parallelism

	keys, err := archive.UploadAll(ctx, u, path, opts)
	logging.Infof(ctx, "Uploaded %d archives.", len(keys))
	return err
}

// uploader builds the uploader selected by flags.
func (c *uploadRun) uploader(ctx context.Context) (archive.Uploader, error) {
	switch {
	case c.s3.Bucket != "" && c.gcs.Bucket != "":
		return nil, errors.Reason("-s3-bucket and -gcs-bucket are mutually exclusive").Tag(errUsage.With(true)).Err()
	case c.s3.Bucket != "":
		return archive.NewS3Uploader(ctx, c.s3)
	case c.gcs.Bucket != "":
		return archive.NewGCSUploader(ctx, c.gcs)
	}
	return nil, errors.Reason("one of -s3-bucket, -gcs-bucket or -config is required").Tag(errUsage.With(true)).Err()
}
