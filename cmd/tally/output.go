// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"text/tabwriter"
	"time"

	"github.com/blinklabs-io/tally"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/internal/node"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
	outputJSON  = "json"

	defaultCommandTimeout = 2 * time.Minute
)

type outputFlags struct {
	format  string
	timeout time.Duration
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().
		StringVarP(&o.format, "output", "o", outputTable, "output format: table, yaml or json")
	cmd.Flags().
		DurationVar(&o.timeout, "timeout", defaultCommandTimeout, "time allowed for ledger reads")
}

// writeOutput renders v as YAML or JSON, or calls table for the table format
func writeOutput(
	w io.Writer,
	format string,
	v any,
	table func(*tabwriter.Writer),
) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// withEngine starts an engine without periodic refresh, runs fn and stops
// the engine
func withEngine(
	cmd *cobra.Command,
	timeout time.Duration,
	fn func(context.Context, *tally.Engine) error,
) error {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return fmt.Errorf("no config found in context")
	}
	// Logs go to stderr so they don't mix with the command output
	logger := commonRun(os.Stderr)
	engine, err := node.NewEngine(
		cfg,
		logger,
		tally.WithRefreshInterval(0),
	)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			slog.Error("shutdown errors occurred", "error", err)
		}
	}()
	return fn(ctx, engine)
}

// formatWeight renders a 1e18-scaled share as a percentage
func formatWeight(v *big.Int) string {
	return fixedpoint.FormatDecimal(v, fixedpoint.Decimals-2) + "%"
}

// formatScaled renders a 1e18-scaled amount
func formatScaled(v *big.Int) string {
	return fixedpoint.FormatDecimal(v, fixedpoint.Decimals)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
