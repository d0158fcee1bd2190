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

package tally

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
)

// Ledger is the read and write surface of the governance contracts. It is
// satisfied by *contract.Client.
type Ledger interface {
	contract.Reader
	contract.Writer
}

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	ledger            Ledger
	rpcURL            string
	contracts         contract.Addresses
	indexerURL        string
	priceURL          string
	priceCacheTTL     time.Duration
	databasePath      string
	batchChunkSize    int
	batchConcurrency  int
	batchMaxAttempts  int
	batchRetryBase    time.Duration
	batchRetryMax     time.Duration
	confirmationDepth uint64
	refreshInterval   time.Duration
	shutdownTimeout   time.Duration
	tracing           bool
	tracingStdout     bool
}

func (c *Config) validate() error {
	if c.ledger == nil && c.rpcURL == "" {
		return errors.New("no RPC URL or ledger configured")
	}
	if c.contracts.GaugeController == (common.Address{}) {
		return errors.New("no gauge controller address configured")
	}
	if c.contracts.Voting == (common.Address{}) {
		return errors.New("no voting contract address configured")
	}
	if c.batchChunkSize < 0 || c.batchConcurrency < 0 || c.batchMaxAttempts < 0 {
		return errors.New("batch settings must not be negative")
	}
	if c.refreshInterval < 0 {
		return errors.New("refresh interval must not be negative")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the Engine config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new tally config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		refreshInterval: DefaultRefreshInterval,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithRPCURL specifies the JSON-RPC endpoint of the ledger node
func WithRPCURL(rpcURL string) ConfigOptionFunc {
	return func(c *Config) {
		c.rpcURL = rpcURL
	}
}

// WithLedger specifies a ledger to use instead of dialing the RPC URL
func WithLedger(ledger Ledger) ConfigOptionFunc {
	return func(c *Config) {
		c.ledger = ledger
	}
}

// WithContracts specifies the deployment addresses of the governance contracts. A zero address marks a contract as
// not deployed on the active network
func WithContracts(addresses contract.Addresses) ConfigOptionFunc {
	return func(c *Config) {
		c.contracts = addresses
	}
}

// WithIndexerURL specifies the base URL of the transaction indexer. Gauge start timestamps are unavailable without it
func WithIndexerURL(indexerURL string) ConfigOptionFunc {
	return func(c *Config) {
		c.indexerURL = indexerURL
	}
}

// WithPriceURL specifies the base URL of the token price provider. The bribe market is disabled without it
func WithPriceURL(priceURL string) ConfigOptionFunc {
	return func(c *Config) {
		c.priceURL = priceURL
	}
}

// WithPriceCacheTTL specifies how long token prices are cached
func WithPriceCacheTTL(ttl time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.priceCacheTTL = ttl
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.databasePath = dataDir
	}
}

// WithBatchChunkSize specifies the maximum number of calls sent in one batch request
func WithBatchChunkSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.batchChunkSize = size
	}
}

// WithBatchConcurrency specifies how many batch requests may be in flight at once
func WithBatchConcurrency(concurrency int) ConfigOptionFunc {
	return func(c *Config) {
		c.batchConcurrency = concurrency
	}
}

// WithBatchRetry specifies the attempts per batch request and the bounds of the backoff between them
func WithBatchRetry(
	maxAttempts int,
	base time.Duration,
	maxBackoff time.Duration,
) ConfigOptionFunc {
	return func(c *Config) {
		c.batchMaxAttempts = maxAttempts
		c.batchRetryBase = base
		c.batchRetryMax = maxBackoff
	}
}

// WithConfirmationDepth specifies how many blocks a write must be buried under before it is confirmed
func WithConfirmationDepth(depth uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.confirmationDepth = depth
	}
}

// WithRefreshInterval specifies how often the gauge catalog and bribe market are recomputed. Zero disables the
// periodic refresh, leaving only the refresh at startup and on epoch rollover
func WithRefreshInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.refreshInterval = interval
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
