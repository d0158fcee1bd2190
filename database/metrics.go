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

package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type databaseMetrics struct {
	operationWrites  *prometheus.CounterVec
	operationsPruned prometheus.Counter
	snapshotWrites   *prometheus.CounterVec
	snapshotGauges   prometheus.Gauge
}

func newDatabaseMetrics(promRegistry prometheus.Registerer) *databaseMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &databaseMetrics{
		operationWrites: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_database_operation_writes_total",
			Help: "operation records written by status",
		}, []string{"status"}),
		operationsPruned: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tally_database_operations_pruned_total",
			Help: "finished operation records removed by maintenance",
		}),
		snapshotWrites: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_database_snapshot_writes_total",
			Help: "catalog snapshot writes by result",
		}, []string{"result"}),
		snapshotGauges: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "tally_database_snapshot_gauges",
			Help: "gauges in the stored catalog snapshot",
		}),
	}
}
