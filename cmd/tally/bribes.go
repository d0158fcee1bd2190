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
	"github.com/blinklabs-io/tally/bribe"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

type offerView struct {
	Token  string `yaml:"token"  json:"token"`
	Symbol string `yaml:"symbol" json:"symbol"`
	Amount string `yaml:"amount" json:"amount"`
}

type gaugeMarketView struct {
	GaugeID        uint64      `yaml:"gaugeId"        json:"gaugeId"`
	GaugeName      string      `yaml:"gaugeName"      json:"gaugeName"`
	PoolUSD        string      `yaml:"poolUsd"        json:"poolUsd"`
	CommittedPower string      `yaml:"committedPower" json:"committedPower"`
	Voters         int         `yaml:"voters"         json:"voters"`
	Offers         []offerView `yaml:"offers"         json:"offers"`
}

type marketView struct {
	ComputedAt time.Time         `yaml:"computedAt" json:"computedAt"`
	Gauges     []gaugeMarketView `yaml:"gauges"     json:"gauges"`
}

type projectionView struct {
	Voter        string `yaml:"voter"        json:"voter"`
	GaugeID      uint64 `yaml:"gaugeId"      json:"gaugeId"`
	Percentage   string `yaml:"percentage"   json:"percentage"`
	Contribution string `yaml:"contribution" json:"contribution"`
	TotalPower   string `yaml:"totalPower"   json:"totalPower"`
	PoolUSD      string `yaml:"poolUsd"      json:"poolUsd"`
	RewardUSD    string `yaml:"rewardUsd"    json:"rewardUsd"`
}

func newMarketView(snap *bribe.Snapshot) marketView {
	view := marketView{
		ComputedAt: snap.ComputedAt,
		Gauges:     make([]gaugeMarketView, 0, len(snap.Gauges)),
	}
	for _, g := range snap.Gauges {
		gv := gaugeMarketView{
			GaugeID:        g.GaugeID,
			GaugeName:      g.GaugeName,
			PoolUSD:        formatScaled(g.PoolUSD),
			CommittedPower: g.CommittedPower.String(),
			Voters:         len(g.Votes),
			Offers:         make([]offerView, 0, len(g.Offers)),
		}
		for _, o := range g.Offers {
			token := snap.Tokens[o.Token]
			gv.Offers = append(gv.Offers, offerView{
				Token:  o.Token.Hex(),
				Symbol: token.Symbol,
				Amount: fixedpoint.FormatDecimal(o.Amount, int(token.Decimals)),
			})
		}
		view.Gauges = append(view.Gauges, gv)
	}
	return view
}

func bribesCommand() *cobra.Command {
	var flags outputFlags
	var voter string
	var gaugeID uint64
	var percentage string
	cmd := &cobra.Command{
		Use:   "bribes",
		Short: "Show the bribe market, or project a voter's reward with --voter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var voterAddr common.Address
			var bps uint64
			if voter != "" {
				if !common.IsHexAddress(voter) {
					return fmt.Errorf("invalid voter address: %s", voter)
				}
				voterAddr = common.HexToAddress(voter)
				var err error
				bps, err = fixedpoint.ParsePercent(percentage)
				if err != nil {
					return err
				}
			}
			return withEngine(cmd, flags.timeout, func(ctx context.Context, e *tally.Engine) error {
				market := e.Bribes()
				if market == nil {
					return tally.ErrBribesDisabled
				}
				if _, err := e.RefreshCatalog(ctx); err != nil {
					return err
				}
				if err := market.Refresh(ctx); err != nil {
					return err
				}
				if voter == "" {
					return writeMarket(cmd, flags.format, market.Snapshot())
				}
				proj, err := market.Project(ctx, voterAddr, gaugeID, bps)
				if err != nil {
					return err
				}
				view := projectionView{
					Voter:        voterAddr.Hex(),
					GaugeID:      gaugeID,
					Percentage:   fixedpoint.FormatBPS(bps),
					Contribution: proj.Contribution.String(),
					TotalPower:   proj.TotalPower.String(),
					PoolUSD:      formatScaled(proj.PoolUSD),
					RewardUSD:    formatScaled(proj.RewardUSD),
				}
				return writeOutput(cmd.OutOrStdout(), flags.format, view, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "VOTER\t%s\n", view.Voter)
					fmt.Fprintf(tw, "GAUGE\t%d\n", view.GaugeID)
					fmt.Fprintf(tw, "PERCENTAGE\t%s%%\n", view.Percentage)
					fmt.Fprintf(tw, "CONTRIBUTION\t%s\n", view.Contribution)
					fmt.Fprintf(tw, "TOTAL POWER\t%s\n", view.TotalPower)
					fmt.Fprintf(tw, "POOL USD\t%s\n", view.PoolUSD)
					fmt.Fprintf(tw, "REWARD USD\t%s\n", view.RewardUSD)
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&voter, "voter", "", "voter address to project a reward for")
	cmd.Flags().Uint64Var(&gaugeID, "gauge", 0, "gauge ID to project a reward for")
	cmd.Flags().StringVar(&percentage, "percentage", "100", "share of the voter's power to project, 0-100")
	return cmd
}

func writeMarket(cmd *cobra.Command, format string, snap *bribe.Snapshot) error {
	view := newMarketView(snap)
	return writeOutput(cmd.OutOrStdout(), format, view, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "computed %s\n", formatTime(view.ComputedAt))
		fmt.Fprintln(tw, "ID\tNAME\tPOOL USD\tCOMMITTED POWER\tVOTERS\tOFFERS")
		for _, g := range view.Gauges {
			fmt.Fprintf(
				tw,
				"%d\t%s\t%s\t%s\t%d\t%d\n",
				g.GaugeID,
				g.GaugeName,
				g.PoolUSD,
				g.CommittedPower,
				g.Voters,
				len(g.Offers),
			)
		}
	})
}
