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

package gauge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	runResultSuccess   = "success"
	runResultFailure   = "failure"
	runResultCoalesced = "coalesced"
)

type aggregatorMetrics struct {
	runs       *prometheus.CounterVec
	stale      prometheus.Counter
	duration   prometheus.Histogram
	gauges     prometheus.Gauge
	voters     prometheus.Gauge
	nextWeight *prometheus.GaugeVec
}

func newAggregatorMetrics(promRegistry prometheus.Registerer) *aggregatorMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &aggregatorMetrics{
		runs: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_gauge_refresh_total",
			Help: "gauge catalog refresh attempts by result",
		}, []string{"result"}),
		stale: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tally_gauge_refresh_stale_total",
			Help: "catalogs published after the epoch rolled over mid-computation",
		}),
		duration: promautoFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tally_gauge_refresh_duration_seconds",
			Help:    "time spent computing the gauge catalog",
			Buckets: prometheus.DefBuckets,
		}),
		gauges: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "tally_gauge_count",
			Help: "gauges in the current catalog",
		}),
		voters: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "tally_gauge_voters",
			Help: "voters in the current catalog",
		}),
		nextWeight: promautoFactory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tally_gauge_next_weight_ratio",
			Help: "projected next-epoch weight of each gauge as a fraction of 1",
		}, []string{"gauge"}),
	}
}
