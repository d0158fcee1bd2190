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
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/spf13/cobra"
)

type operationView struct {
	ID          string    `yaml:"id"              json:"id"`
	Kind        string    `yaml:"kind"            json:"kind"`
	Status      string    `yaml:"status"          json:"status"`
	Actor       string    `yaml:"actor"           json:"actor"`
	Owner       string    `yaml:"owner"           json:"owner"`
	GaugeIDs    []uint64  `yaml:"gaugeIds"        json:"gaugeIds"`
	TxHash      string    `yaml:"txHash"          json:"txHash"`
	Error       string    `yaml:"error,omitempty" json:"error,omitempty"`
	SubmittedAt time.Time `yaml:"submittedAt"     json:"submittedAt"`
	UpdatedAt   time.Time `yaml:"updatedAt"       json:"updatedAt"`
}

func newOperationView(op contract.Operation) operationView {
	return operationView{
		ID:          op.ID.String(),
		Kind:        string(op.Kind),
		Status:      string(op.Status),
		Actor:       op.Actor.Hex(),
		Owner:       op.Owner.Hex(),
		GaugeIDs:    op.GaugeIDs,
		TxHash:      op.TxHash.Hex(),
		Error:       op.Error,
		SubmittedAt: op.SubmittedAt,
		UpdatedAt:   op.UpdatedAt,
	}
}

func operationsCommand() *cobra.Command {
	var format string
	var pending bool
	var limit int
	cmd := &cobra.Command{
		Use:   "operations",
		Short: "List recorded write operations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return fmt.Errorf("no config found in context")
			}
			db, err := database.New(database.Config{
				Logger:  commonRun(os.Stderr),
				DataDir: cfg.DatabasePath,
			})
			if err != nil {
				return err
			}
			defer db.Close()
			var ops []contract.Operation
			if pending {
				ops, err = db.PendingOperations()
			} else {
				ops, err = db.RecentOperations(limit)
			}
			if err != nil {
				return err
			}
			views := make([]operationView, 0, len(ops))
			for _, op := range ops {
				views = append(views, newOperationView(op))
			}
			return writeOutput(cmd.OutOrStdout(), format, views, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tACTOR\tGAUGES\tSUBMITTED")
				for _, v := range views {
					gauges := make([]string, 0, len(v.GaugeIDs))
					for _, id := range v.GaugeIDs {
						gauges = append(gauges, fmt.Sprintf("%d", id))
					}
					fmt.Fprintf(
						tw,
						"%s\t%s\t%s\t%s\t%s\t%s\n",
						v.ID,
						v.Kind,
						v.Status,
						v.Actor,
						strings.Join(gauges, ","),
						formatTime(v.SubmittedAt),
					)
				}
			})
		},
	}
	cmd.Flags().
		StringVarP(&format, "output", "o", outputTable, "output format: table, yaml or json")
	cmd.Flags().BoolVar(&pending, "pending", false, "only show operations awaiting confirmation")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of operations to show, 0 for all")
	return cmd
}
