// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the beacon CLI configuration file.
//
// Configuration is loaded from a single file specified by either the
// BEACON_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file search.
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas; anything else is read as YAML.
//
// The file supports environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on the API key and state paths after
// loading: ${HOME} and ${VAR:-default} patterns are expanded, so a file
// can say api_key: ${BEACON_API_KEY} without committing the secret.
//
// Key exports:
//
//   - [Config] -- file settings with State and Transport sections
//   - [Default] -- returns a Config matching telemetry.DefaultConfig
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Telemetry] -- converts to a telemetry.Config
package config
