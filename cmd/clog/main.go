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

// Command clog reads, writes and maintains clog files.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"
)

func getApplication() *application {
	return &application{
		DefaultApplication: subcommands.DefaultApplication{
			Name:  "clog",
			Title: "Reads, writes and maintains chunked, compressed log files.",
			Commands: []*subcommands.Command{
				cmdCat,
				cmdTail,
				cmdGrep,
				cmdExport,
				cmdInfo,
				cmdWrite,
				cmdUpload,
				subcommands.CmdHelp,
			},
		},
		ctx:   context.Background(),
		in:    os.Stdin,
		out:   os.Stdout,
		err:   os.Stderr,
		isTTY: isTerminal,
	}
}

func main() {
	os.Exit(subcommands.Run(getApplication(), nil))
}
