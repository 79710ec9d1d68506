// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
)

func rootCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "beacon",
		Summary:     "Command-line telemetry client",
		Description: "Track telemetry events with batching, retry, and a persisted queue.",
		Subcommands: []*cli.Command{
			sendCommand(stdin, stdout),
			identifyCommand(stdout),
			queueCommand(stdout),
			versionCommand(stdout),
		},
		Examples: []cli.Example{
			{
				Description: "Track one event",
				Command:     "beacon send --api-key $KEY --event signup --prop plan=pro --prop seats=3",
			},
			{
				Description: "Track a stream of events read from a file",
				Command:     "beacon send --config beacon.yaml < events.ndjson",
			},
			{
				Description: "Show what is waiting for the next run",
				Command:     "beacon queue --state-dir /var/lib/beacon",
			},
		},
	}
}
