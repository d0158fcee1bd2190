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

// Package batch executes groups of independent ledger reads in bounded
// chunks with bounded concurrency, retrying transient chunk failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize   = 100
	DefaultConcurrency = 2
	DefaultMaxAttempts = 3
	DefaultRetryBase   = 200 * time.Millisecond
	DefaultRetryMax    = 2 * time.Second

	retryJitterPercent = 10
)

type Config struct {
	Reader       contract.Reader
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	ChunkSize    int
	Concurrency  int
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
}

type Executor struct {
	config  Config
	metrics *executorMetrics
}

func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Reader == nil {
		return nil, errors.New("no reader configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	e := &Executor{config: cfg}
	if cfg.PromRegistry != nil {
		e.metrics = newExecutorMetrics(cfg.PromRegistry)
	}
	return e, nil
}

// Execute runs calls and returns their results in call order. The calls are
// split into chunks of at most ChunkSize, with at most Concurrency chunks in
// flight. A chunk that still fails after MaxAttempts fails the whole call
// with a *ChunkError.
func (e *Executor) Execute(
	ctx context.Context,
	calls []contract.Call,
) ([]contract.Result, error) {
	results := make([]contract.Result, len(calls))
	if len(calls) == 0 {
		return results, nil
	}
	if e.metrics != nil {
		e.metrics.calls.Add(float64(len(calls)))
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for chunk, start := 0, 0; start < len(calls); chunk, start = chunk+1, start+e.config.ChunkSize {
		end := min(start+e.config.ChunkSize, len(calls))
		g.Go(func() error {
			chunkResults, err := e.executeChunk(gctx, chunk, start, end, calls[start:end])
			if err != nil {
				return err
			}
			// Chunks write disjoint ranges of the result slice
			copy(results[start:end], chunkResults)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) executeChunk(
	ctx context.Context,
	chunk int,
	start int,
	end int,
	calls []contract.Call,
) ([]contract.Result, error) {
	backoff := retry.NewExponential(e.config.RetryBase)
	backoff = retry.WithCappedDuration(e.config.RetryMax, backoff)
	backoff = retry.WithJitterPercent(retryJitterPercent, backoff)
	backoff = retry.WithMaxRetries(uint64(e.config.MaxAttempts-1), backoff) // #nosec G115
	var (
		attempts int
		results  []contract.Result
	)
	startTime := time.Now()
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && e.metrics != nil {
			e.metrics.retries.Inc()
		}
		res, err := e.config.Reader.BatchCall(ctx, calls)
		if err != nil {
			if contract.IsPermanent(err) || ctx.Err() != nil {
				return err
			}
			e.config.Logger.Debug(
				"batch chunk failed, retrying",
				"component", "batch",
				"chunk", chunk,
				"attempt", attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		if len(res) != len(calls) {
			return fmt.Errorf(
				"%w: chunk returned %d results for %d calls",
				contract.ErrMalformedResult,
				len(res),
				len(calls),
			)
		}
		results = res
		return nil
	})
	if e.metrics != nil {
		e.metrics.chunks.Inc()
		e.metrics.chunkDuration.Observe(time.Since(startTime).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.chunkFailures.Inc()
		}
		e.config.Logger.Warn(
			"batch chunk failed",
			"component", "batch",
			"chunk", chunk,
			"start", start,
			"end", end,
			"attempts", attempts,
			"error", err,
		)
		return nil, &ChunkError{
			Chunk:    chunk,
			Start:    start,
			End:      end,
			Attempts: attempts,
			Err:      err,
		}
	}
	return results, nil
}
