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

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type executorMetrics struct {
	calls         prometheus.Counter
	chunks        prometheus.Counter
	retries       prometheus.Counter
	chunkFailures prometheus.Counter
	chunkDuration prometheus.Histogram
}

func newExecutorMetrics(promRegistry prometheus.Registerer) *executorMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &executorMetrics{
		calls: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tally_batch_calls_total",
			Help: "read calls executed through the batch executor",
		}),
		chunks: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tally_batch_chunks_total",
			Help: "chunks dispatched",
		}),
		retries: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tally_batch_retries_total",
			Help: "chunk retries after a transient failure",
		}),
		chunkFailures: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tally_batch_chunk_failures_total",
			Help: "chunks that failed after exhausting retries",
		}),
		chunkDuration: promautoFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tally_batch_chunk_duration_seconds",
			Help:    "time spent executing a chunk, including retries",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
