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
	"github.com/blinklabs-io/tally/gauge"
	"github.com/spf13/cobra"
)

type gaugeView struct {
	ID             uint64 `yaml:"id"                       json:"id"`
	Name           string `yaml:"name"                     json:"name"`
	Active         bool   `yaml:"active"                   json:"active"`
	CurrentWeight  string `yaml:"currentWeight"            json:"currentWeight"`
	NextWeight     string `yaml:"nextWeight"               json:"nextWeight"`
	VotePower      string `yaml:"votePower"                json:"votePower"`
	RateOnLine     string `yaml:"rateOnLine"               json:"rateOnLine"`
	Capacity       string `yaml:"capacity"                 json:"capacity"`
	StartTimestamp uint64 `yaml:"startTimestamp,omitempty" json:"startTimestamp,omitempty"`
}

type catalogView struct {
	ComputedAt        time.Time   `yaml:"computedAt"        json:"computedAt"`
	EpochEnd          time.Time   `yaml:"epochEnd"          json:"epochEnd"`
	VotingOpen        bool        `yaml:"votingOpen"        json:"votingOpen"`
	Stale             bool        `yaml:"stale"             json:"stale"`
	TotalVotePower    string      `yaml:"totalVotePower"    json:"totalVotePower"`
	InsuranceCapacity string      `yaml:"insuranceCapacity" json:"insuranceCapacity"`
	Gauges            []gaugeView `yaml:"gauges"            json:"gauges"`
}

func newCatalogView(cat *gauge.Catalog) catalogView {
	view := catalogView{
		ComputedAt:        cat.ComputedAt,
		EpochEnd:          cat.Epoch.End,
		VotingOpen:        cat.Epoch.Open,
		Stale:             cat.Stale,
		TotalVotePower:    cat.TotalVotePower.String(),
		InsuranceCapacity: cat.InsuranceCapacity.String(),
		Gauges:            make([]gaugeView, 0, len(cat.Gauges)),
	}
	for _, g := range cat.Gauges {
		view.Gauges = append(view.Gauges, gaugeView{
			ID:             g.ID,
			Name:           g.Name,
			Active:         g.Active,
			CurrentWeight:  formatWeight(g.CurrentWeight),
			NextWeight:     formatWeight(g.NextWeight),
			VotePower:      cat.Power(g.ID).String(),
			RateOnLine:     g.RateOnLine.String(),
			Capacity:       g.Capacity.String(),
			StartTimestamp: g.StartTimestamp,
		})
	}
	return view
}

func gaugesCommand() *cobra.Command {
	var flags outputFlags
	var stored bool
	cmd := &cobra.Command{
		Use:   "gauges",
		Short: "Show the gauge catalog with current and projected weights",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags.timeout, func(ctx context.Context, e *tally.Engine) error {
				cat := e.Catalog()
				if !stored || cat == nil {
					var err error
					cat, err = e.RefreshCatalog(ctx)
					if err != nil {
						return err
					}
				}
				view := newCatalogView(cat)
				return writeOutput(cmd.OutOrStdout(), flags.format, view, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "computed %s, epoch ends %s", formatTime(view.ComputedAt), formatTime(view.EpochEnd))
					if view.Stale {
						fmt.Fprint(tw, " (stale)")
					}
					fmt.Fprintln(tw)
					fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tCURRENT\tNEXT\tVOTE POWER\tCAPACITY")
					for _, g := range view.Gauges {
						fmt.Fprintf(
							tw,
							"%d\t%s\t%t\t%s\t%s\t%s\t%s\n",
							g.ID,
							g.Name,
							g.Active,
							g.CurrentWeight,
							g.NextWeight,
							g.VotePower,
							g.Capacity,
						)
					}
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().
		BoolVar(&stored, "stored", false, "show the stored catalog instead of recomputing it")
	return cmd
}
