// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
)

type queueParams struct {
	session sessionFlags
	clear   bool
}

func queueCommand(stdout io.Writer) *cli.Command {
	var params queueParams
	return &cli.Command{
		Name:    "queue",
		Summary: "Print the persisted queue",
		Description: `Print the events waiting in the persisted queue as a JSON array, in
delivery order. The queue is not modified unless --clear is given.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("queue", pflag.ContinueOnError)
			params.session.register(flagSet)
			flagSet.BoolVar(&params.clear, "clear", false, "remove the persisted queue after printing it")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runQueue(&params, stdout)
		},
	}
}

func runQueue(params *queueParams, stdout io.Writer) error {
	cfg, err := params.session.load()
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(cfg.Debug).With("command", "queue")

	bridge, release, err := openBridge(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	events, err := bridge.Peek()
	if err != nil {
		return fmt.Errorf("reading queue: %w", err)
	}
	if err := cli.WriteJSON(stdout, events); err != nil {
		return err
	}
	if params.clear {
		bridge.Clear()
		logger.Info("persisted queue cleared", "events", len(events))
	}
	return nil
}
