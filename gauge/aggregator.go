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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/indexer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	tracerName = "github.com/blinklabs-io/tally/gauge"

	// maxGauges bounds the gauge count reported by the controller
	maxGauges = 1 << 16

	gaugeReads = 4
	voterReads = 2
)

// Executor runs a group of reads. It is satisfied by *batch.Executor.
type Executor interface {
	Execute(ctx context.Context, calls []contract.Call) ([]contract.Result, error)
}

// EpochSource is satisfied by *epoch.Clock
type EpochSource interface {
	Refresh(ctx context.Context) (epoch.Epoch, error)
}

// AdditionSource is satisfied by *indexer.Client
type AdditionSource interface {
	GaugeAdditions(ctx context.Context) ([]indexer.GaugeAddition, error)
}

type AggregatorConfig struct {
	Executor       Executor
	Clock          EpochSource
	Additions      AdditionSource
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	VotingContract common.Address
}

// Aggregator computes the gauge catalog. At most one computation runs at a
// time and readers only ever see a fully computed catalog.
type Aggregator struct {
	config     AggregatorConfig
	metrics    *aggregatorMetrics
	catalog    atomic.Pointer[Catalog]
	refreshing atomic.Bool
	trigger    chan struct{}
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	wg         sync.WaitGroup
	nowFunc    func() time.Time
}

func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Executor == nil {
		return nil, errors.New("no executor configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a := &Aggregator{
		config:  cfg,
		trigger: make(chan struct{}, 1),
		nowFunc: time.Now,
	}
	if cfg.PromRegistry != nil {
		a.metrics = newAggregatorMetrics(cfg.PromRegistry)
	}
	return a, nil
}

// Catalog returns the most recently published catalog, or nil before the
// first successful refresh
func (a *Aggregator) Catalog() *Catalog {
	return a.catalog.Load()
}

// Seed publishes a previously persisted catalog. It has no effect once a
// catalog has been published.
func (a *Aggregator) Seed(c *Catalog) bool {
	if c == nil {
		return false
	}
	return a.catalog.CompareAndSwap(nil, c)
}

// Trigger requests a refresh from the run loop. Requests made while one is
// already queued are merged.
func (a *Aggregator) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Start runs the loop serving Trigger requests. Returns immediately.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run()
}

func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Aggregator) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.trigger:
		}
		if _, err := a.Refresh(a.ctx); err != nil && a.ctx.Err() == nil {
			a.config.Logger.Error(
				"failed to refresh gauge catalog",
				"component", "gauge",
				"error", err,
			)
		}
	}
}

// Refresh recomputes and publishes the catalog. It returns false without
// doing anything when another refresh is already in flight. On failure the
// previous catalog stays published.
func (a *Aggregator) Refresh(ctx context.Context) (bool, error) {
	if !a.refreshing.CompareAndSwap(false, true) {
		if a.metrics != nil {
			a.metrics.runs.WithLabelValues(runResultCoalesced).Inc()
		}
		a.config.Logger.Debug(
			"gauge catalog refresh already in progress",
			"component", "gauge",
		)
		return false, nil
	}
	defer a.refreshing.Store(false)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "gauge.Refresh")
	defer span.End()
	start := a.nowFunc()

	cat, err := a.refresh(ctx)
	if a.metrics != nil {
		a.metrics.duration.Observe(a.nowFunc().Sub(start).Seconds())
	}
	if err != nil {
		if a.metrics != nil {
			a.metrics.runs.WithLabelValues(runResultFailure).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return false, err
	}
	span.SetAttributes(
		attribute.Int("gauges", len(cat.Gauges)),
		attribute.Int("voters", len(cat.Voters)),
		attribute.Bool("stale", cat.Stale),
	)
	a.publish(cat)
	if cat.Stale {
		a.Trigger()
	}
	return true, nil
}

func (a *Aggregator) refresh(ctx context.Context) (*Catalog, error) {
	var before epoch.Epoch
	if a.config.Clock != nil {
		ep, err := a.config.Clock.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("read epoch: %w", err)
		}
		before = ep
	}
	cat, err := a.compute(ctx)
	if err != nil {
		return nil, err
	}
	cat.Epoch = before
	if a.config.Clock != nil {
		after, err := a.config.Clock.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("read epoch: %w", err)
		}
		if !after.End.Equal(before.End) {
			a.config.Logger.Warn(
				"epoch rolled over during gauge catalog computation",
				"component", "gauge",
				"previous_end", before.End,
				"end", after.End,
			)
			cat.Epoch = after
			cat.Stale = true
		}
	}
	cat.ComputedAt = a.nowFunc()
	return cat, nil
}

func (a *Aggregator) compute(ctx context.Context) (*Catalog, error) {
	vc := a.config.VotingContract
	results, err := a.config.Executor.Execute(ctx, []contract.Call{
		contract.GetVoters(vc),
		contract.TotalGauges(),
		contract.GetInsuranceCapacity(),
		contract.LeverageFactor(),
		contract.GetVotePowerSum(),
		contract.ValueOfPool(),
	})
	if err != nil {
		return nil, fmt.Errorf("read gauge controller: %w", err)
	}
	voters, err := results[0].Addresses(0)
	if err != nil {
		return nil, err
	}
	totalGauges, err := results[1].Uint64(0)
	if err != nil {
		return nil, err
	}
	if totalGauges > maxGauges {
		return nil, fmt.Errorf("%w: %d gauges", contract.ErrMalformedResult, totalGauges)
	}
	cat := &Catalog{}
	if cat.InsuranceCapacity, err = results[2].Uint(0); err != nil {
		return nil, err
	}
	if cat.LeverageFactor, err = results[3].Uint(0); err != nil {
		return nil, err
	}
	if cat.VotePowerSum, err = results[4].Uint(0); err != nil {
		return nil, err
	}
	if cat.PoolValue, err = results[5].Uint(0); err != nil {
		return nil, err
	}

	// Gauge IDs start at 1
	numGauges := int(totalGauges) // #nosec G115
	calls := make([]contract.Call, 0, numGauges*gaugeReads+len(voters)*voterReads)
	for id := uint64(1); id <= totalGauges; id++ {
		calls = append(calls,
			contract.GetGaugeName(id),
			contract.IsGaugeActive(id),
			contract.GetGaugeWeight(id),
			contract.GetRateOnLineOfGauge(id),
		)
	}
	for _, voter := range voters {
		calls = append(calls,
			contract.GetVotePower(voter),
			contract.GetVotes(vc, voter),
		)
	}
	results, err = a.config.Executor.Execute(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("read gauges and voters: %w", err)
	}

	cat.Gauges = make([]Gauge, numGauges)
	ids := make([]uint64, numGauges)
	for i := range numGauges {
		res := results[i*gaugeReads : (i+1)*gaugeReads]
		g := Gauge{ID: uint64(i) + 1} // #nosec G115
		if g.Name, err = res[0].String(0); err != nil {
			return nil, err
		}
		if g.Active, err = res[1].Bool(0); err != nil {
			return nil, err
		}
		if g.CurrentWeight, err = res[2].Uint(0); err != nil {
			return nil, err
		}
		if g.RateOnLine, err = res[3].Uint(0); err != nil {
			return nil, err
		}
		cat.Gauges[i] = g
		ids[i] = g.ID
	}

	offset := numGauges * gaugeReads
	allocs := make([]VoterAllocation, len(voters))
	for i, voter := range voters {
		res := results[offset+i*voterReads : offset+(i+1)*voterReads]
		power, err := res[0].Uint(0)
		if err != nil {
			return nil, err
		}
		votes, err := res[1].Votes(0)
		if err != nil {
			return nil, err
		}
		allocs[i] = VoterAllocation{Voter: voter, Power: power, Votes: votes}
	}

	accum, excluded := Accumulate(allocs)
	for _, voter := range excluded {
		a.config.Logger.Warn(
			"voter allocation exceeds 100%, excluded from accumulation",
			"component", "gauge",
			"voter", voter.Hex(),
		)
	}
	weights := NextWeights(accum, ids)
	cat.GaugePower = make(map[uint64]*big.Int, len(accum))
	for id, power := range accum {
		cat.GaugePower[id] = power
	}
	for i := range cat.Gauges {
		g := &cat.Gauges[i]
		g.NextWeight = weights[g.ID]
		g.Capacity = fixedpoint.Mul(cat.InsuranceCapacity, g.NextWeight)
	}

	cat.TotalVotePower = new(big.Int)
	cat.Voters = make([]Voter, len(allocs))
	for i, alloc := range allocs {
		used := alloc.TotalBPS()
		cat.Voters[i] = Voter{
			Address:          alloc.Voter,
			TotalVotePower:   alloc.Power,
			UsedVotePowerBPS: used,
			Votes:            alloc.Votes,
			Excluded:         slices.Contains(excluded, alloc.Voter),
		}
		cat.TotalVotePower.Add(cat.TotalVotePower, alloc.Power)
	}

	a.attachStartTimestamps(ctx, cat)
	return cat, nil
}

// attachStartTimestamps resolves gauge creation times by name. Gauges that
// cannot be resolved keep a zero timestamp.
func (a *Aggregator) attachStartTimestamps(ctx context.Context, cat *Catalog) {
	if a.config.Additions == nil || len(cat.Gauges) == 0 {
		return
	}
	additions, err := a.config.Additions.GaugeAdditions(ctx)
	if err != nil {
		a.config.Logger.Warn(
			"failed to read gauge additions, start timestamps unavailable",
			"component", "gauge",
			"error", err,
		)
		return
	}
	byName := make(map[string]uint64, len(additions))
	for _, add := range additions {
		byName[add.GaugeName] = add.Timestamp
	}
	for i := range cat.Gauges {
		g := &cat.Gauges[i]
		ts, ok := byName[g.Name]
		if !ok {
			a.config.Logger.Warn(
				"no start timestamp for gauge",
				"component", "gauge",
				"gauge_id", g.ID,
				"gauge_name", g.Name,
			)
			continue
		}
		g.StartTimestamp = ts
	}
}

func (a *Aggregator) publish(cat *Catalog) {
	a.catalog.Store(cat)
	a.config.Logger.Info(
		"gauge catalog updated",
		"component", "gauge",
		"gauges", len(cat.Gauges),
		"voters", len(cat.Voters),
		"epoch_end", cat.Epoch.End,
		"stale", cat.Stale,
	)
	if a.metrics != nil {
		a.metrics.runs.WithLabelValues(runResultSuccess).Inc()
		if cat.Stale {
			a.metrics.stale.Inc()
		}
		a.metrics.gauges.Set(float64(len(cat.Gauges)))
		a.metrics.voters.Set(float64(len(cat.Voters)))
		for _, g := range cat.Gauges {
			ratio, _ := new(big.Rat).SetFrac(g.NextWeight, fixedpoint.Scale).Float64()
			a.metrics.nextWeight.WithLabelValues(strconv.FormatUint(g.ID, 10)).Set(ratio)
		}
	}
	if a.config.EventBus != nil {
		a.config.EventBus.Publish(
			event.CatalogUpdatedEventType,
			event.NewEvent(event.CatalogUpdatedEventType, event.CatalogUpdatedEvent{
				ComputedAt: cat.ComputedAt,
				EpochEnd:   cat.Epoch.End,
				GaugeCount: len(cat.Gauges),
				VoterCount: len(cat.Voters),
				Stale:      cat.Stale,
			}),
		)
	}
}
