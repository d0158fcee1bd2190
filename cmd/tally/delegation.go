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

	"github.com/blinklabs-io/tally"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

type delegationView struct {
	Address    string   `yaml:"address"            json:"address"`
	Delegate   string   `yaml:"delegate,omitempty" json:"delegate,omitempty"`
	Delegators []string `yaml:"delegators"         json:"delegators"`
}

func delegationCommand() *cobra.Command {
	var flags outputFlags
	cmd := &cobra.Command{
		Use:   "delegation <address>",
		Short: "Show the delegate of an address and the addresses delegating to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid address: %s", args[0])
			}
			addr := common.HexToAddress(args[0])
			return withEngine(cmd, flags.timeout, func(ctx context.Context, e *tally.Engine) error {
				registry := e.Delegation()
				delegate, ok, err := registry.GetDelegate(ctx, addr)
				if err != nil {
					return err
				}
				delegators, err := registry.GetDelegators(ctx, addr)
				if err != nil {
					return err
				}
				view := delegationView{
					Address:    addr.Hex(),
					Delegators: make([]string, 0, len(delegators)),
				}
				if ok {
					view.Delegate = delegate.Hex()
				}
				for _, d := range delegators {
					view.Delegators = append(view.Delegators, d.Hex())
				}
				return writeOutput(cmd.OutOrStdout(), flags.format, view, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "ADDRESS\t%s\n", view.Address)
					if view.Delegate == "" {
						fmt.Fprintln(tw, "DELEGATE\t-")
					} else {
						fmt.Fprintf(tw, "DELEGATE\t%s\n", view.Delegate)
					}
					for _, d := range view.Delegators {
						fmt.Fprintf(tw, "DELEGATOR\t%s\n", d)
					}
				})
			})
		},
	}
	flags.register(cmd)
	return cmd
}
