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
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/blinklabs-io/tally"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/spf13/cobra"
)

type epochView struct {
	Start      time.Time `yaml:"start"      json:"start"`
	End        time.Time `yaml:"end"        json:"end"`
	VotingOpen bool      `yaml:"votingOpen" json:"votingOpen"`
	Remaining  string    `yaml:"remaining"  json:"remaining"`
}

func epochCommand() *cobra.Command {
	var flags outputFlags
	cmd := &cobra.Command{
		Use:   "epoch",
		Short: "Show the current epoch and the time left until it ends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags.timeout, func(ctx context.Context, e *tally.Engine) error {
				ep, err := e.Clock().Refresh(ctx)
				if err != nil {
					return err
				}
				view := epochView{
					Start:      ep.Start,
					End:        ep.End,
					VotingOpen: ep.Open,
					Remaining:  epoch.CountdownUntil(time.Now(), ep.End).String(),
				}
				return writeOutput(cmd.OutOrStdout(), flags.format, view, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "START\t%s\n", formatTime(view.Start))
					fmt.Fprintf(tw, "END\t%s\n", formatTime(view.End))
					fmt.Fprintf(tw, "VOTING OPEN\t%t\n", view.VotingOpen)
					fmt.Fprintf(tw, "REMAINING\t%s\n", view.Remaining)
				})
			})
		},
	}
	flags.register(cmd)
	return cmd
}
