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

// Package tally wires the governance readers, aggregators and write path into
// a single engine.
package tally

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/allocation"
	"github.com/blinklabs-io/tally/batch"
	"github.com/blinklabs-io/tally/bribe"
	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/delegation"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/gauge"
	"github.com/blinklabs-io/tally/indexer"
	"github.com/blinklabs-io/tally/pricing"
	"github.com/ethereum/go-ethereum/common"
)

const refreshRetryInterval = 50 * time.Millisecond

var (
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrBribesDisabled = errors.New("bribe market not configured")
)

type Engine struct {
	config        Config
	eventBus      *event.EventBus
	db            *database.Database
	client        *contract.Client
	executor      *batch.Executor
	clock         *epoch.Clock
	aggregator    *gauge.Aggregator
	delegation    *delegation.Registry
	bribes        *bribe.Market
	submitter     *contract.Submitter
	shutdownFuncs []func(context.Context) error
	ready         chan struct{}
	readyOnce     sync.Once
	mu            sync.Mutex
	started       bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Engine{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		ready:    make(chan struct{}),
	}, nil
}

// Start builds the components, serves the last stored catalog and starts the
// background refresh. It returns once the first refresh has been requested.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.start(); err != nil {
		return errors.Join(err, e.Stop())
	}
	return nil
}

func (e *Engine) start() error {
	logger := e.config.logger
	// Configure tracing
	if e.config.tracing {
		if err := e.setupTracing(e.ctx); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(database.Config{
		Logger:       logger,
		PromRegistry: e.config.promRegistry,
		DataDir:      e.config.databasePath,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db
	// Connect to the ledger
	ledger := e.config.ledger
	if ledger == nil {
		client, err := contract.NewClient(e.ctx, contract.ClientConfig{
			Logger:    logger,
			RPCURL:    e.config.rpcURL,
			Addresses: e.config.contracts,
		})
		if err != nil {
			return err
		}
		e.client = client
		ledger = client
	}
	executor, err := batch.NewExecutor(batch.Config{
		Reader:       ledger,
		Logger:       logger,
		PromRegistry: e.config.promRegistry,
		ChunkSize:    e.config.batchChunkSize,
		Concurrency:  e.config.batchConcurrency,
		MaxAttempts:  e.config.batchMaxAttempts,
		RetryBase:    e.config.batchRetryBase,
		RetryMax:     e.config.batchRetryMax,
	})
	if err != nil {
		return err
	}
	e.executor = executor
	clock, err := epoch.NewClock(epoch.ClockConfig{
		Executor: executor,
		EventBus: e.eventBus,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	e.clock = clock
	aggCfg := gauge.AggregatorConfig{
		Executor:       executor,
		Clock:          clock,
		EventBus:       e.eventBus,
		Logger:         logger,
		PromRegistry:   e.config.promRegistry,
		VotingContract: e.config.contracts.Voting,
	}
	if e.config.indexerURL != "" {
		idx, err := indexer.NewClient(indexer.ClientConfig{
			Logger:     logger,
			BaseURL:    e.config.indexerURL,
			Controller: e.config.contracts.GaugeController,
		})
		if err != nil {
			return err
		}
		aggCfg.Additions = idx
	}
	aggregator, err := gauge.NewAggregator(aggCfg)
	if err != nil {
		return err
	}
	e.aggregator = aggregator
	e.submitter = contract.NewSubmitter(contract.SubmitterConfig{
		Writer: ledger,
		Notifier: contract.Notifiers{
			db,
			contract.EventNotifier{EventBus: e.eventBus},
		},
		Logger:            logger,
		PromRegistry:      e.config.promRegistry,
		ConfirmationDepth: e.config.confirmationDepth,
	})
	registry, err := delegation.NewRegistry(delegation.RegistryConfig{
		Executor:  executor,
		Submitter: e.submitter,
		EventBus:  e.eventBus,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	e.delegation = registry
	if e.config.priceURL != "" {
		prices, err := pricing.NewClient(pricing.ClientConfig{
			Logger:   logger,
			BaseURL:  e.config.priceURL,
			CacheTTL: e.config.priceCacheTTL,
		})
		if err != nil {
			return err
		}
		market, err := bribe.NewMarket(bribe.MarketConfig{
			Executor:     executor,
			Submitter:    e.submitter,
			Gauges:       aggregator,
			Prices:       prices,
			Logger:       logger,
			PromRegistry: e.config.promRegistry,
		})
		if err != nil {
			return err
		}
		e.bribes = market
	}
	e.loadState()
	// Subscribe before the first refresh so its catalog is persisted
	_, catalogCh := e.eventBus.Subscribe(event.CatalogUpdatedEventType)
	_, rolledCh := e.eventBus.Subscribe(event.EpochRolledEventType)
	clock.Start(e.ctx)
	aggregator.Start(e.ctx)
	e.wg.Add(1)
	go e.run(catalogCh, rolledCh)
	aggregator.Trigger()
	return nil
}

// loadState serves the stored catalog until the first refresh completes and
// reports writes left pending by a previous run
func (e *Engine) loadState() {
	logger := e.config.logger
	cat, err := e.db.LoadCatalog()
	switch {
	case errors.Is(err, database.ErrNoSnapshot):
	case err != nil:
		logger.Warn(
			"failed to load stored gauge catalog",
			"component", "tally",
			"error", err,
		)
	default:
		e.aggregator.Seed(cat)
		logger.Info(
			"serving stored gauge catalog",
			"component", "tally",
			"computed_at", cat.ComputedAt,
			"gauges", len(cat.Gauges),
		)
	}
	pending, err := e.db.PendingOperations()
	if err != nil {
		logger.Warn(
			"failed to load pending operations",
			"component", "tally",
			"error", err,
		)
		return
	}
	for _, op := range pending {
		logger.Warn(
			"operation left pending by a previous run",
			"component", "tally",
			"id", op.ID.String(),
			"kind", string(op.Kind),
			"actor", op.Actor.Hex(),
			"tx_hash", op.TxHash.Hex(),
		)
	}
}

func (e *Engine) run(catalogCh <-chan event.Event, rolledCh <-chan event.Event) {
	defer e.wg.Done()
	var tickerCh <-chan time.Time
	if e.config.refreshInterval > 0 {
		ticker := time.NewTicker(e.config.refreshInterval)
		defer ticker.Stop()
		tickerCh = ticker.C
	}
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-tickerCh:
			e.aggregator.Trigger()
		case _, ok := <-rolledCh:
			if !ok {
				rolledCh = nil
				continue
			}
			e.aggregator.Trigger()
		case _, ok := <-catalogCh:
			if !ok {
				catalogCh = nil
				continue
			}
			e.catalogUpdated()
		}
	}
}

func (e *Engine) catalogUpdated() {
	cat := e.aggregator.Catalog()
	if cat == nil {
		return
	}
	if err := e.db.SaveCatalog(cat); err != nil {
		e.config.logger.Error(
			"failed to persist gauge catalog",
			"component", "tally",
			"error", err,
		)
	}
	e.readyOnce.Do(func() { close(e.ready) })
	if e.bribes == nil {
		return
	}
	if err := e.bribes.Refresh(e.ctx); err != nil && e.ctx.Err() == nil {
		e.config.logger.Error(
			"failed to refresh bribe market",
			"component", "tally",
			"error", err,
		)
	}
}

// Catalog returns the gauge catalog currently served, or nil when none is
// available yet
func (e *Engine) Catalog() *gauge.Catalog {
	if e.aggregator == nil {
		return nil
	}
	return e.aggregator.Catalog()
}

// RefreshCatalog recomputes the gauge catalog and returns it. While a
// background refresh is running it retries until its own refresh runs or
// the background one publishes a catalog.
func (e *Engine) RefreshCatalog(ctx context.Context) (*gauge.Catalog, error) {
	if e.aggregator == nil {
		return nil, ErrNotStarted
	}
	for {
		ran, err := e.aggregator.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		if ran {
			return e.aggregator.Catalog(), nil
		}
		select {
		case <-e.ready:
			return e.aggregator.Catalog(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(refreshRetryInterval):
		}
	}
}

// Allocation returns a vote allocation manager for actor acting on the votes
// of owner. A zero owner means actor votes for itself. Call Load on the
// manager before use.
func (e *Engine) Allocation(actor, owner common.Address) (*allocation.Manager, error) {
	if e.aggregator == nil {
		return nil, ErrNotStarted
	}
	return allocation.NewManager(allocation.ManagerConfig{
		Executor:       e.executor,
		Submitter:      e.submitter,
		Gauges:         e.aggregator,
		Epoch:          e.clock,
		Delegation:     e.delegation,
		Logger:         e.config.logger,
		VotingContract: e.config.contracts.Voting,
		Actor:          actor,
		Owner:          owner,
	})
}

func (e *Engine) Delegation() *delegation.Registry {
	return e.delegation
}

// Bribes returns the bribe market, or nil when no price provider is configured
func (e *Engine) Bribes() *bribe.Market {
	return e.bribes
}

func (e *Engine) Clock() *epoch.Clock {
	return e.clock
}

func (e *Engine) Database() *database.Database {
	return e.db
}

func (e *Engine) EventBus() *event.EventBus {
	return e.eventBus
}

// Run starts the engine and blocks until ctx is done, then shuts it down
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop()
}

func (e *Engine) Stop() error {
	var err error
	e.shutdownOnce.Do(func() {
		err = e.shutdown()
	})
	return err
}

func (e *Engine) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := DefaultShutdownTimeout
	if e.config.shutdownTimeout > 0 {
		shutdownTimeout = e.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	e.config.logger.Debug("starting graceful shutdown", "component", "tally")

	// Phase 1: Stop background refreshes
	if e.cancel != nil {
		e.cancel()
	}
	if e.aggregator != nil {
		e.aggregator.Stop()
	}
	if e.clock != nil {
		e.clock.Stop()
	}
	e.wg.Wait()

	// Phase 2: Stop waiting for confirmations
	if e.submitter != nil {
		e.submitter.Close()
	}
	if e.eventBus != nil {
		e.eventBus.Stop()
	}

	// Phase 3: Close storage and connections
	if e.db != nil {
		if closeErr := e.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}
	if e.client != nil {
		e.client.Close()
	}

	// Call registered shutdown functions
	for _, fn := range e.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	e.shutdownFuncs = nil

	e.config.logger.Debug("graceful shutdown complete", "component", "tally")
	return err
}
