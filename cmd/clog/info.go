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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"github.com/Akanyi/clog/reader"
	"github.com/Akanyi/clog/writer"
)

var cmdInfo = &subcommands.Command{
	UsageLine: "info [options] <file>",
	ShortDesc: "describes the layout of a clog file",
	LongDesc: `Prints the file header, one line per chunk with its offset, size, codec,
record count and status, totals, and the archives rotated from the file.`,
	CommandRun: func() subcommands.CommandRun {
		c := &infoRun{}
		c.Init()
		return c
	},
}

type infoRun struct {
	commonFlags
	summary bool
}

func (c *infoRun) Init() {
	c.commonFlags.Init()
	c.Flags.BoolVar(&c.summary, "summary", false, "Omit the chunk table.")
}

func (c *infoRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, 1, 1, c.main)
}

func (c *infoRun) main(ctx context.Context, app *application, args []string) error {
	path := args[0]
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	// Damage is what this command reports, so never stop at it.
	r, err := reader.Open(path, reader.Options{})
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	tw := tabwriter.NewWriter(app.out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "File:\t%s\n", path)
	fmt.Fprintf(tw, "Version:\t%d\n", h.Version)
	fmt.Fprintf(tw, "Codec:\t%s\n", h.Codec)
	fmt.Fprintf(tw, "Strict:\t%v\n", h.Strict)
	fmt.Fprintf(tw, "Size:\t%s\n", humanize.IBytes(uint64(st.Size())))
	if err := tw.Flush(); err != nil {
		return err
	}

	var records, stored, raw int64
	counts := map[reader.Status]int{}
	if !c.summary {
		fmt.Fprintln(app.out)
		fmt.Fprintln(tw, "OFFSET\tSIZE\tCODEC\tRECORDS\tRATIO\tSTATUS")
	}
	chunks := r.Chunks()
	for chunks.Next() {
		info := chunks.Chunk()
		counts[info.Status]++
		stored += info.Size
		if info.Status == reader.StatusOK {
			records += int64(info.Header.RecordCount)
			raw += int64(info.Header.UncompressedLen)
		}
		if c.summary {
			continue
		}
		codec, nrec, ratio := "-", "-", "-"
		if info.Status != reader.StatusBadHeader {
			codec = info.Header.Codec.String()
			nrec = fmt.Sprint(info.Header.RecordCount)
			if info.Header.UncompressedLen > 0 {
				ratio = fmt.Sprintf("%.2f", float64(info.Header.CompressedLen)/float64(info.Header.UncompressedLen))
			}
		}
		status := info.Status.String()
		if info.Err != nil {
			status = fmt.Sprintf("%s (%s)", status, info.Err)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", info.Offset, humanize.IBytes(uint64(info.Size)), codec, nrec, ratio, status)
	}
	if err := chunks.Err(); err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(app.out)
	fmt.Fprintf(tw, "Chunks:\t%d ok, %d corrupt, %d bad header, %d truncated\n",
		counts[reader.StatusOK], counts[reader.StatusCorrupt], counts[reader.StatusBadHeader], counts[reader.StatusTruncated])
	fmt.Fprintf(tw, "Records:\t%d\n", records)
	fmt.Fprintf(tw, "Stored:\t%s\n", humanize.IBytes(uint64(stored)))
	fmt.Fprintf(tw, "Uncompressed:\t%s\n", humanize.IBytes(uint64(raw)))

	archives, err := writer.ListArchives(path)
	if err != nil {
		return err
	}
	for i, a := range archives {
		label := ""
		if i == 0 {
			label = "Archives:"
		}
		size := "?"
		if ast, err := os.Stat(a.Path); err == nil {
			size = humanize.IBytes(uint64(ast.Size()))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", label, a.Path, size)
	}
	return tw.Flush()
}
