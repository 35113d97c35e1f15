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

// Package config loads clog writer settings from YAML files.
//
// A minimal file:
//
//	path: /var/log/app.clog
//	codec: zstd
//	flush:
//	  max_records: 500
//	  max_bytes: 256KiB
//	  interval: 2s
//	rotate:
//	  size: 64MiB
//	  schedule: "0 0 * * *"
//	  location: Europe/Berlin
//	  max_archives: 14
//	archive:
//	  prefix: app/
//	  delete_local: true
//	  s3:
//	    bucket: my-logs
//	    region: eu-central-1
//	async:
//	  queue_size: 4096
//	  overflow: drop-oldest
//
// Sizes accept humanized values ("64MiB", "1.5 GB") and durations use Go
// syntax ("90s", "24h"). rotate.schedule is a cron expression and excludes
// rotate.interval. Paths may start with "~".
package config

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorhill/cronexpr"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"

	"github.com/Akanyi/clog/archive"
	"github.com/Akanyi/clog/async"
	"github.com/Akanyi/clog/codec"
	"github.com/Akanyi/clog/common/errors"
	"github.com/Akanyi/clog/common/logging"
	"github.com/Akanyi/clog/writer"
)

// Config is a parsed clog configuration file.
type Config struct {
	Path string

	Codec         codec.ID
	Strict        bool
	Sync          bool
	MaxRecords    int
	MaxBytes      int
	FlushInterval time.Duration
	LockTimeout   time.Duration

	RotateSize     int64
	RotateInterval time.Duration
	RotateSchedule *cronexpr.Expression
	RotateLocation *time.Location
	MaxArchives    int

	// Archive is nil when no archive destination is configured.
	Archive *Archive

	// Async is nil when records are appended synchronously.
	Async *Async
}

// Archive configures uploads of rotated files.
type Archive struct {
	Prefix      string
	DeleteLocal bool
	S3          *archive.S3Config
	GCS         *archive.GCSConfig
}

// Async configures an async.Queue in front of the writer.
type Async struct {
	QueueSize     int
	Overflow      async.Overflow
	FlushInterval time.Duration
}

type rawConfig struct {
	Path   string `yaml:"path"`
	Codec  string `yaml:"codec"`
	Strict bool   `yaml:"strict"`
	Sync   bool   `yaml:"sync"`
	Flush  struct {
		MaxRecords int    `yaml:"max_records"`
		MaxBytes   string `yaml:"max_bytes"`
		Interval   string `yaml:"interval"`
	} `yaml:"flush"`
	LockTimeout string `yaml:"lock_timeout"`
	Rotate      struct {
		Size        string `yaml:"size"`
		Interval    string `yaml:"interval"`
		Schedule    string `yaml:"schedule"`
		Location    string `yaml:"location"`
		MaxArchives int    `yaml:"max_archives"`
	} `yaml:"rotate"`
	Archive *struct {
		Prefix      string             `yaml:"prefix"`
		DeleteLocal bool               `yaml:"delete_local"`
		S3          *archive.S3Config  `yaml:"s3"`
		GCS         *archive.GCSConfig `yaml:"gcs"`
	} `yaml:"archive"`
	Async *struct {
		QueueSize     int    `yaml:"queue_size"`
		Overflow      string `yaml:"overflow"`
		FlushInterval string `yaml:"flush_interval"`
	} `yaml:"async"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading config").Err()
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Annotate(err, "parsing %q", path).Err()
	}
	return cfg, nil
}

// Parse parses a YAML configuration. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return nil, err
	}

	c := &Config{
		Path:        raw.Path,
		Codec:       codec.Zstd,
		Strict:      raw.Strict,
		Sync:        raw.Sync,
		MaxRecords:  raw.Flush.MaxRecords,
		MaxArchives: raw.Rotate.MaxArchives,
	}

	var err error
	if c.Path, err = homedir.Expand(c.Path); err != nil {
		return nil, errors.Annotate(err, "path").Err()
	}
	if raw.Codec != "" {
		if c.Codec, err = codec.ParseID(raw.Codec); err != nil {
			return nil, err
		}
	}

	var maxBytes int64
	if maxBytes, err = parseSize("flush.max_bytes", raw.Flush.MaxBytes); err != nil {
		return nil, err
	}
	c.MaxBytes = int(maxBytes)
	if c.RotateSize, err = parseSize("rotate.size", raw.Rotate.Size); err != nil {
		return nil, err
	}

	if c.FlushInterval, err = parseDuration("flush.interval", raw.Flush.Interval); err != nil {
		return nil, err
	}
	if c.LockTimeout, err = parseDuration("lock_timeout", raw.LockTimeout); err != nil {
		return nil, err
	}
	if c.RotateInterval, err = parseDuration("rotate.interval", raw.Rotate.Interval); err != nil {
		return nil, err
	}
	if raw.Rotate.Schedule != "" {
		if c.RotateInterval > 0 {
			return nil, errors.New("rotate: interval and schedule are mutually exclusive")
		}
		if c.RotateSchedule, err = cronexpr.Parse(raw.Rotate.Schedule); err != nil {
			return nil, errors.Annotate(err, "rotate.schedule").Err()
		}
	}
	if raw.Rotate.Location != "" {
		if c.RotateLocation, err = time.LoadLocation(raw.Rotate.Location); err != nil {
			return nil, errors.Annotate(err, "rotate.location").Err()
		}
	}

	if a := raw.Archive; a != nil {
		if (a.S3 == nil) == (a.GCS == nil) {
			return nil, errors.New("archive: exactly one of s3 and gcs must be set")
		}
		if a.GCS != nil {
			if a.GCS.CredentialsFile, err = homedir.Expand(a.GCS.CredentialsFile); err != nil {
				return nil, errors.Annotate(err, "archive.gcs.credentials_file").Err()
			}
		}
		c.Archive = &Archive{Prefix: a.Prefix, DeleteLocal: a.DeleteLocal, S3: a.S3, GCS: a.GCS}
	}

	if a := raw.Async; a != nil {
		c.Async = &Async{QueueSize: a.QueueSize}
		if c.Async.Overflow, err = ParseOverflow(a.Overflow); err != nil {
			return nil, err
		}
		if c.Async.FlushInterval, err = parseDuration("async.flush_interval", a.FlushInterval); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func parseSize(key, v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, errors.Annotate(err, "%s", key).Err()
	}
	return int64(n), nil
}

func parseDuration(key, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Annotate(err, "%s", key).Err()
	}
	return d, nil
}

// ParseOverflow parses an async.Overflow name. An empty name means
// async.Block.
func ParseOverflow(v string) (async.Overflow, error) {
	for _, o := range []async.Overflow{async.Block, async.DropNewest, async.DropOldest} {
		if v == o.String() {
			return o, nil
		}
	}
	if v == "" {
		return async.Block, nil
	}
	return 0, errors.Reason("unknown overflow policy %q", v).Err()
}

// WriterOptions returns the writer.Options described by c, without an
// archive hook.
func (c *Config) WriterOptions() writer.Options {
	return writer.Options{
		Codec:          c.Codec,
		Strict:         c.Strict,
		MaxRecords:     c.MaxRecords,
		MaxBytes:       c.MaxBytes,
		FlushInterval:  c.FlushInterval,
		RotateSize:     c.RotateSize,
		RotateInterval: c.RotateInterval,
		RotateSchedule: c.RotateSchedule,
		RotateLocation: c.RotateLocation,
		MaxArchives:    c.MaxArchives,
		Sync:           c.Sync,
		LockTimeout:    c.LockTimeout,
	}
}

// Uploader builds the configured archive uploader, or returns nil if there is
// none.
func (c *Config) Uploader(ctx context.Context) (archive.Uploader, error) {
	switch {
	case c.Archive == nil:
		return nil, nil
	case c.Archive.S3 != nil:
		return archive.NewS3Uploader(ctx, *c.Archive.S3)
	default:
		return archive.NewGCSUploader(ctx, *c.Archive.GCS)
	}
}

// ArchiveOptions returns the archive.Options described by c.
func (c *Config) ArchiveOptions() archive.Options {
	if c.Archive == nil {
		return archive.Options{}
	}
	return archive.Options{Prefix: c.Archive.Prefix, DeleteLocal: c.Archive.DeleteLocal}
}

// Open opens the configured clog file.
//
// The returned sink is a *writer.Writer, or an *async.Queue wrapping it when
// c.Async is set. Rotated files are uploaded when c.Archive is set.
func (c *Config) Open(ctx context.Context) (async.Sink, error) {
	if c.Path == "" {
		return nil, errors.New("no path configured")
	}

	opts := c.WriterOptions()
	u, err := c.Uploader(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "creating archive uploader").Err()
	}
	if u != nil {
		opts.OnRotate = archive.Hook(u, c.ArchiveOptions())
	}

	w, err := writer.Open(ctx, c.Path, opts)
	if err != nil {
		return nil, err
	}
	if c.Async == nil {
		return w, nil
	}

	q, err := async.New(ctx, w, async.Options{
		QueueSize:     c.Async.QueueSize,
		Overflow:      c.Async.Overflow,
		FlushInterval: c.Async.FlushInterval,
	})
	if err != nil {
		if cerr := w.Close(ctx); cerr != nil {
			logging.WithError(cerr).Warningf(ctx, "Failed to close %q.", c.Path)
		}
		return nil, err
	}
	return q, nil
}
