// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree used by the beacon binary.
//
// A [Command] has a name, help text, an optional [pflag.FlagSet]
// factory, and either a Run function or nested Subcommands. Execute
// dispatches on the first positional argument, parses flags, and
// suggests the closest command or flag name on typos.
//
// [NewCommandLogger] picks a text or JSON slog handler depending on
// whether stderr is a terminal. [WriteJSON] is the one output path for
// machine-readable results.
package cli
