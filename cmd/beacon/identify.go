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

type identifyParams struct {
	session sessionFlags
	props   []string
}

type identifySummary struct {
	UserID      string `json:"user_id"`
	AnonymousID string `json:"anonymous_id"`
}

func identifyCommand(stdout io.Writer) *cli.Command {
	var params identifyParams
	return &cli.Command{
		Name:    "identify",
		Summary: "Associate the anonymous id with a user id",
		Description: `Send an identify call linking this state directory's anonymous id to
a known user. The call is delivered immediately, with the same retry
policy as event batches, and is not queued.`,
		Usage: "beacon identify <user-id> [--prop key=value]... [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("identify", pflag.ContinueOnError)
			params.session.register(flagSet)
			flagSet.StringArrayVarP(&params.props, "prop", "p", nil, "user property key=value")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("identify takes exactly one user id")
			}
			return runIdentify(ctx, &params, args[0], stdout)
		},
	}
}

func runIdentify(ctx context.Context, params *identifyParams, userID string, stdout io.Writer) error {
	properties, err := parsePropertyFlags(params.props)
	if err != nil {
		return err
	}
	cfg, err := params.session.load()
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(cfg.Debug).With("command", "identify")

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.stop()

	if err := s.client.Identify(ctx, userID, properties); err != nil {
		return fmt.Errorf("identify %s: %w", userID, err)
	}
	return cli.WriteJSON(stdout, identifySummary{
		UserID:      userID,
		AnonymousID: s.client.AnonymousID(),
	})
}
