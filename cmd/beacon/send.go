// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
	"github.com/bureau-foundation/beacon/lib/delivery"
	"github.com/bureau-foundation/beacon/lib/event"
)

// maxInputLine bounds one NDJSON line on stdin.
const maxInputLine = 1 << 20

// exitPending is the exit status when events remain queued.
const exitPending = 2

type sendParams struct {
	session sessionFlags
	event   string
	kind    string
	props   []string
	unload  bool
}

// trackedInput is one event to track.
type trackedInput struct {
	Kind       event.Kind
	Name       string
	Properties event.Properties
}

// sendSummary is printed to stdout when send finishes.
type sendSummary struct {
	Tracked     int    `json:"tracked"`
	Outcome     string `json:"outcome"`
	Pending     int    `json:"pending"`
	AnonymousID string `json:"anonymous_id"`
	SessionID   string `json:"session_id"`
}

func sendCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	var params sendParams
	return &cli.Command{
		Name:    "send",
		Summary: "Track events and flush them",
		Description: `Track events and deliver them before exiting.

With --event, one event is tracked with the --prop properties. Without
it, stdin is read as newline-delimited JSON, one object per line:

  {"event": "signup", "kind": "custom", "properties": {"plan": "pro"}}

Events left over from earlier failed runs are delivered first. Events
that still cannot be delivered stay in the persisted queue and the exit
status is 2; with --unload they are dropped instead.`,
		Usage: "beacon send [--event NAME [--prop key=value]...] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			params.session.register(flagSet)
			flagSet.StringVar(&params.event, "event", "", "event name (default: read NDJSON from stdin)")
			flagSet.StringVar(&params.kind, "kind", string(event.KindCustom), "event kind for --event")
			flagSet.StringArrayVarP(&params.props, "prop", "p", nil, "property key=value; the value is parsed as JSON when it can be")
			flagSet.BoolVar(&params.unload, "unload", false, "drop undeliverable events instead of keeping them queued")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runSend(ctx, &params, stdin, stdout)
		},
	}
}

func runSend(ctx context.Context, params *sendParams, stdin io.Reader, stdout io.Writer) error {
	cfg, err := params.session.load()
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(cfg.Debug).With("command", "send")

	var inputs []trackedInput
	if params.event != "" {
		input, err := flagInput(params.kind, params.event, params.props)
		if err != nil {
			return err
		}
		inputs = []trackedInput{input}
	} else {
		if len(params.props) > 0 {
			return fmt.Errorf("--prop requires --event")
		}
		inputs, err = readInputs(stdin)
		if err != nil {
			return err
		}
	}

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	client := s.client

	if !client.CollectingData() && len(inputs) > 0 {
		logger.Warn("data collection is disabled; events are not tracked", "events", len(inputs))
	}
	for _, input := range inputs {
		client.Track(input.Kind, input.Name, input.Properties)
	}
	client.Wait()

	summary := sendSummary{
		Tracked:     len(inputs),
		AnonymousID: client.AnonymousID(),
		SessionID:   client.SessionID(),
	}

	var result delivery.Result
	if params.unload {
		result = s.close(ctx)
	} else {
		result = client.Flush(ctx, false)
		summary.Pending = client.Pending()
		s.stop()
	}
	summary.Outcome = result.Outcome.String()

	if result.Err != nil {
		logger.Warn("final flush failed",
			"outcome", result.Outcome,
			"events", result.Events,
			"attempts", result.Attempts,
			"error", result.Err,
		)
	}
	if err := cli.WriteJSON(stdout, summary); err != nil {
		return err
	}
	if summary.Pending > 0 {
		logger.Warn("events left in the persisted queue", "pending", summary.Pending)
		return &cli.ExitError{Code: exitPending}
	}
	return nil
}

func flagInput(kindName, name string, props []string) (trackedInput, error) {
	kind, err := event.ParseKind(kindName)
	if err != nil {
		return trackedInput{}, fmt.Errorf("--kind: %w", err)
	}
	properties, err := parsePropertyFlags(props)
	if err != nil {
		return trackedInput{}, err
	}
	return trackedInput{Kind: kind, Name: name, Properties: properties}, nil
}

// parsePropertyFlags turns key=value pairs into Properties. A value
// that parses as JSON keeps its JSON type (so seats=3 is a number and
// beta=true a bool); anything else is a string.
func parsePropertyFlags(pairs []string) (event.Properties, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	properties := make(event.Properties, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("--prop %q: want key=value", pair)
		}
		properties[key] = parsePropertyValue(raw)
	}
	return properties, nil
}

func parsePropertyValue(raw string) event.Value {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil || decoder.More() {
		return event.String(raw)
	}
	value, err := event.FromAny(decoded)
	if err != nil {
		return event.String(raw)
	}
	return value
}

// inputLine is the NDJSON shape read by send.
type inputLine struct {
	Event      string          `json:"event"`
	Kind       string          `json:"kind"`
	Properties json.RawMessage `json:"properties"`
}

// readInputs parses NDJSON from r. Blank lines are skipped. Errors name
// the offending line.
func readInputs(r io.Reader) ([]trackedInput, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxInputLine)

	var inputs []trackedInput
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		input, err := parseInputLine(line)
		if err != nil {
			return nil, fmt.Errorf("stdin line %d: %w", lineNumber, err)
		}
		inputs = append(inputs, input)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return inputs, nil
}

func parseInputLine(line []byte) (trackedInput, error) {
	var parsed inputLine
	if err := json.Unmarshal(line, &parsed); err != nil {
		return trackedInput{}, err
	}
	if parsed.Event == "" {
		return trackedInput{}, fmt.Errorf(`missing "event"`)
	}
	kind := event.KindCustom
	if parsed.Kind != "" {
		var err error
		if kind, err = event.ParseKind(parsed.Kind); err != nil {
			return trackedInput{}, err
		}
	}

	var properties event.Properties
	if raw := bytes.TrimSpace(parsed.Properties); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var err error
		if properties, err = event.ParseProperties(string(raw)); err != nil {
			return trackedInput{}, err
		}
	}
	return trackedInput{Kind: kind, Name: parsed.Event, Properties: properties}, nil
}
