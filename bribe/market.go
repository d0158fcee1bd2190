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
	"bytes"
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
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/gauge"
	"github.com/blinklabs-io/tally/pricing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/blinklabs-io/tally/bribe"

// Executor runs a group of reads. It is satisfied by *batch.Executor.
type Executor interface {
	Execute(ctx context.Context, calls []contract.Call) ([]contract.Result, error)
}

// Submitter is satisfied by *contract.Submitter
type Submitter interface {
	Submit(ctx context.Context, req contract.Request) (contract.Operation, error)
}

// GaugeSource is satisfied by *gauge.Aggregator
type GaugeSource interface {
	Catalog() *gauge.Catalog
}

// PriceSource is satisfied by *pricing.Client
type PriceSource interface {
	Tokens(ctx context.Context, addrs []common.Address) (map[common.Address]pricing.Token, error)
}

type MarketConfig struct {
	Executor     Executor
	Submitter    Submitter
	Gauges       GaugeSource
	Prices       PriceSource
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Market maintains the bribe market snapshot and issues bribe writes
type Market struct {
	config    MarketConfig
	metrics   *marketMetrics
	snapshot  atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
	nowFunc   func() time.Time
}

func NewMarket(cfg MarketConfig) (*Market, error) {
	if cfg.Executor == nil {
		return nil, errors.New("no executor configured")
	}
	if cfg.Gauges == nil {
		return nil, errors.New("no gauge source configured")
	}
	if cfg.Prices == nil {
		return nil, errors.New("no price source configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	m := &Market{
		config:  cfg,
		nowFunc: time.Now,
	}
	if cfg.PromRegistry != nil {
		m.metrics = newMarketMetrics(cfg.PromRegistry)
	}
	return m, nil
}

// Snapshot returns the last computed market, or nil before the first refresh
func (m *Market) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Refresh reads the offers and bribe votes of every catalog gauge and values
// each pool. The previous snapshot stays published on failure.
func (m *Market) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "bribe.Refresh")
	defer span.End()
	snap, err := m.compute(ctx)
	if err != nil {
		if m.metrics != nil {
			m.metrics.refreshes.WithLabelValues("failure").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return err
	}
	span.SetAttributes(
		attribute.Int("gauges", len(snap.Gauges)),
		attribute.Int("tokens", len(snap.Tokens)),
	)
	m.snapshot.Store(snap)
	if m.metrics != nil {
		m.metrics.refreshes.WithLabelValues("success").Inc()
		for _, g := range snap.Gauges {
			usd, _ := new(big.Rat).SetFrac(g.PoolUSD, fixedpoint.Scale).Float64()
			m.metrics.poolUSD.WithLabelValues(strconv.FormatUint(g.GaugeID, 10)).Set(usd)
		}
	}
	m.config.Logger.Debug(
		"bribe market updated",
		"component", "bribe",
		"gauges", len(snap.Gauges),
		"tokens", len(snap.Tokens),
	)
	return nil
}

func (m *Market) compute(ctx context.Context) (*Snapshot, error) {
	cat := m.config.Gauges.Catalog()
	if cat == nil {
		return nil, ErrNoCatalog
	}
	calls := make([]contract.Call, 0, len(cat.Gauges)*2)
	for _, g := range cat.Gauges {
		calls = append(calls,
			contract.GetProvidedBribesForGauge(g.ID),
			contract.GetVotesForGauge(g.ID),
		)
	}
	results, err := m.config.Executor.Execute(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("read bribes: %w", err)
	}
	snap := &Snapshot{Gauges: make([]GaugeMarket, len(cat.Gauges))}
	var tokens, voters []common.Address
	for i, g := range cat.Gauges {
		bribes, err := results[i*2].Bribes(0)
		if err != nil {
			return nil, err
		}
		votes, err := results[i*2+1].GaugeVotes(0)
		if err != nil {
			return nil, err
		}
		gm := GaugeMarket{
			GaugeID:   g.ID,
			GaugeName: g.Name,
			Offers:    make([]Offer, len(bribes)),
			Votes:     votes,
		}
		for j, b := range bribes {
			gm.Offers[j] = Offer{GaugeID: g.ID, Token: b.Token, Amount: b.Amount}
			tokens = append(tokens, b.Token)
		}
		for _, v := range votes {
			voters = append(voters, v.Voter)
		}
		snap.Gauges[i] = gm
	}

	power, err := m.votePowers(ctx, voters)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(tokens, compareAddress)
	tokens = slices.Compact(tokens)
	snap.Tokens = map[common.Address]pricing.Token{}
	if len(tokens) > 0 {
		if snap.Tokens, err = m.config.Prices.Tokens(ctx, tokens); err != nil {
			return nil, fmt.Errorf("read token prices: %w", err)
		}
	}
	for i := range snap.Gauges {
		gm := &snap.Gauges[i]
		gm.PoolUSD = new(big.Int)
		for _, o := range gm.Offers {
			gm.PoolUSD.Add(gm.PoolUSD, snap.Tokens[o.Token].ValueUSD(o.Amount))
		}
		gm.CommittedPower = new(big.Int)
		for _, v := range gm.Votes {
			gm.CommittedPower.Add(gm.CommittedPower, fixedpoint.ApplyBPS(power[v.Voter], v.VotePowerBPS))
		}
	}
	snap.ComputedAt = m.nowFunc()
	return snap, nil
}

// votePowers reads the vote power of each distinct voter in one batch
func (m *Market) votePowers(ctx context.Context, voters []common.Address) (map[common.Address]*big.Int, error) {
	voters = slices.Clone(voters)
	slices.SortFunc(voters, compareAddress)
	voters = slices.Compact(voters)
	ret := make(map[common.Address]*big.Int, len(voters))
	if len(voters) == 0 {
		return ret, nil
	}
	calls := make([]contract.Call, len(voters))
	for i, voter := range voters {
		calls[i] = contract.GetVotePower(voter)
	}
	results, err := m.config.Executor.Execute(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("read vote power: %w", err)
	}
	for i, voter := range voters {
		p, err := results[i].Uint(0)
		if err != nil {
			return nil, err
		}
		ret[voter] = p
	}
	return ret, nil
}

// voterState reads a voter's power and bribe allocations
func (m *Market) voterState(ctx context.Context, voter common.Address) (*big.Int, []contract.Vote, error) {
	results, err := m.config.Executor.Execute(ctx, []contract.Call{
		contract.GetVotePower(voter),
		contract.GetVotesForVoter(voter),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read bribe voter: %w", err)
	}
	power, err := results[0].Uint(0)
	if err != nil {
		return nil, nil, err
	}
	votes, err := results[1].Votes(0)
	if err != nil {
		return nil, nil, err
	}
	return power, votes, nil
}

func (m *Market) current(ctx context.Context) (*Snapshot, error) {
	if snap := m.Snapshot(); snap != nil {
		return snap, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	return m.Snapshot(), nil
}

// Project computes the reward a voter could expect for allocating bps of its
// vote power to a gauge. The gauge's committed power excludes the voter's
// current allocation there and includes the proposed one.
func (m *Market) Project(
	ctx context.Context,
	voter common.Address,
	gaugeID uint64,
	bps uint64,
) (Projection, error) {
	if bps > fixedpoint.MaxBPS {
		return Projection{}, ErrInvalidBPS
	}
	snap, err := m.current(ctx)
	if err != nil {
		return Projection{}, err
	}
	gm, ok := snap.Gauge(gaugeID)
	if !ok {
		return Projection{}, fmt.Errorf("%w: %d", ErrUnknownGauge, gaugeID)
	}
	power, votes, err := m.voterState(ctx, voter)
	if err != nil {
		return Projection{}, err
	}
	if power.Sign() == 0 {
		return Projection{}, ErrNoVotePower
	}
	existing := new(big.Int).Set(gm.CommittedPower)
	for _, v := range votes {
		if v.GaugeID == gaugeID {
			existing.Sub(existing, fixedpoint.ApplyBPS(power, v.VotePowerBPS))
		}
	}
	if existing.Sign() < 0 {
		existing.SetInt64(0)
	}
	contribution := fixedpoint.ApplyBPS(power, bps)
	total := new(big.Int).Add(existing, contribution)
	return Projection{
		GaugeID:      gaugeID,
		VotePowerBPS: bps,
		Contribution: contribution,
		TotalPower:   total,
		PoolUSD:      new(big.Int).Set(gm.PoolUSD),
		RewardUSD:    ProjectReward(gm.PoolUSD, power, bps, total),
	}, nil
}

// Allocations returns the voter's bribe votes
func (m *Market) Allocations(ctx context.Context, voter common.Address) ([]Allocation, error) {
	results, err := m.config.Executor.Execute(ctx, []contract.Call{
		contract.GetVotesForVoter(voter),
	})
	if err != nil {
		return nil, fmt.Errorf("read bribe allocations: %w", err)
	}
	votes, err := results[0].Votes(0)
	if err != nil {
		return nil, err
	}
	ret := make([]Allocation, len(votes))
	for i, v := range votes {
		ret[i] = Allocation{Voter: voter, GaugeID: v.GaugeID, VotePowerBPS: v.VotePowerBPS}
	}
	return ret, nil
}

// ClaimableBribes returns the bribes the voter can currently claim
func (m *Market) ClaimableBribes(ctx context.Context, voter common.Address) ([]contract.Bribe, error) {
	results, err := m.config.Executor.Execute(ctx, []contract.Call{
		contract.GetClaimableBribes(voter),
	})
	if err != nil {
		return nil, fmt.Errorf("read claimable bribes: %w", err)
	}
	return results[0].Bribes(0)
}

func compareAddress(a, b common.Address) int {
	return bytes.Compare(a[:], b[:])
}
