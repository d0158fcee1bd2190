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

package bribe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type marketMetrics struct {
	refreshes *prometheus.CounterVec
	poolUSD   *prometheus.GaugeVec
}

func newMarketMetrics(promRegistry prometheus.Registerer) *marketMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &marketMetrics{
		refreshes: promautoFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_bribe_refresh_total",
			Help: "bribe market refreshes by result",
		}, []string{"result"}),
		poolUSD: promautoFactory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tally_bribe_pool_usd",
			Help: "USD value of the bribes offered for each gauge",
		}, []string{"gauge"}),
	}
}
