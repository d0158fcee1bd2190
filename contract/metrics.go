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

package contract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type submitterMetrics struct {
	operations *prometheus.CounterVec
	pending    prometheus.Gauge
}

func newSubmitterMetrics(promRegistry prometheus.Registerer) *submitterMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &submitterMetrics{
		operations: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_operations_total",
				Help: "write operation state changes, by kind and status",
			},
			[]string{"kind", "status"},
		),
		pending: promautoFactory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_operations_pending",
				Help: "submitted writes awaiting confirmation",
			},
		),
	}
}
