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

package gauge_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/batch"
	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/gauge"
	"github.com/blinklabs-io/tally/indexer"
	"github.com/blinklabs-io/tally/internal/test/testledger"
	"github.com/blinklabs-io/tally/internal/test/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticAdditions struct {
	additions []indexer.GaugeAddition
	err       error
}

func (s staticAdditions) GaugeAdditions(context.Context) ([]indexer.GaugeAddition, error) {
	return s.additions, s.err
}

type testEnv struct {
	ledger     *testledger.Ledger
	aggregator *gauge.Aggregator
	registry   *prometheus.Registry
}

func newTestEnv(t *testing.T, additions gauge.AdditionSource, eb *event.EventBus) *testEnv {
	t.Helper()
	ledger := testledger.New()
	ledger.SetEpoch(1000, 2000, true)
	exec, err := batch.NewExecutor(batch.Config{
		Reader:    ledger,
		ChunkSize: 5,
		RetryBase: time.Millisecond,
		RetryMax:  2 * time.Millisecond,
	})
	require.NoError(t, err)
	clock, err := epoch.NewClock(epoch.ClockConfig{Executor: exec})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	agg, err := gauge.NewAggregator(gauge.AggregatorConfig{
		Executor:       exec,
		Clock:          clock,
		Additions:      additions,
		EventBus:       eb,
		PromRegistry:   reg,
		VotingContract: ledger.VotingContract,
	})
	require.NoError(t, err)
	return &testEnv{ledger: ledger, aggregator: agg, registry: reg}
}

func runCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "tally_gauge_refresh_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRefreshBuildsCatalog(t *testing.T) {
	env := newTestEnv(t, staticAdditions{additions: []indexer.GaugeAddition{
		{GaugeName: "alpha", Timestamp: 111},
		{GaugeName: "beta", Timestamp: 222},
	}}, nil)
	ledger := env.ledger
	alpha := ledger.AddGauge("alpha", true)
	beta := ledger.AddGauge("beta", true)
	ledger.SetGaugeWeight(alpha, fixedpoint.Scale)
	ledger.SetRateOnLine(beta, big.NewInt(42))
	ledger.SetCapacity(big.NewInt(8000), big.NewInt(2), big.NewInt(4000))
	ledger.SetVotePower(voterA, big.NewInt(1000))
	ledger.SetVotes(voterA,
		contract.Vote{GaugeID: alpha, VotePowerBPS: 5000},
		contract.Vote{GaugeID: beta, VotePowerBPS: 5000},
	)

	assert.Nil(t, env.aggregator.Catalog())
	ok, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	cat := env.aggregator.Catalog()
	require.NotNil(t, cat)
	assert.False(t, cat.Stale)
	assert.Equal(t, time.Unix(2000, 0), cat.Epoch.End)
	require.Len(t, cat.Gauges, 2)

	a, found := cat.Gauge(alpha)
	require.True(t, found)
	assert.Equal(t, "alpha", a.Name)
	assert.True(t, a.Active)
	assert.Equal(t, uint64(111), a.StartTimestamp)
	assert.Equal(t, fixedpoint.Scale.String(), a.CurrentWeight.String())
	assert.Equal(t, half().String(), a.NextWeight.String())
	assert.Equal(t, "4000", a.Capacity.String())

	b, found := cat.GaugeByName("beta")
	require.True(t, found)
	assert.Equal(t, beta, b.ID)
	assert.Equal(t, uint64(222), b.StartTimestamp)
	assert.Equal(t, "42", b.RateOnLine.String())
	assert.Equal(t, half().String(), b.NextWeight.String())

	assert.Equal(t, "500", cat.Power(alpha).String())
	assert.Equal(t, "1000", cat.TotalVotePower.String())
	assert.Equal(t, "1000", cat.VotePowerSum.String())
	assert.Equal(t, "4000", cat.PoolValue.String())
	assert.Equal(t, "2", cat.LeverageFactor.String())
	v, found := cat.Voter(voterA)
	require.True(t, found)
	assert.Equal(t, uint64(10000), v.UsedVotePowerBPS)
	assert.False(t, v.Excluded)
	assert.InDelta(t, 1, runCount(t, env.registry, "success"), 0)
}

func TestRefreshTwoVotersOneGauge(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ledger := env.ledger
	alpha := ledger.AddGauge("alpha", true)
	beta := ledger.AddGauge("beta", true)
	ledger.SetVotePower(voterA, big.NewInt(1000))
	ledger.SetVotePower(voterB, big.NewInt(2000))
	ledger.SetVotes(voterA, contract.Vote{GaugeID: alpha, VotePowerBPS: 10000})
	ledger.SetVotes(voterB, contract.Vote{GaugeID: alpha, VotePowerBPS: 10000})

	_, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	cat := env.aggregator.Catalog()
	a, _ := cat.Gauge(alpha)
	b, _ := cat.Gauge(beta)
	assert.Equal(t, fixedpoint.Scale.String(), a.NextWeight.String())
	assert.Equal(t, "0", b.NextWeight.String())
	assert.Equal(t, "3000", cat.Power(alpha).String())
}

func TestRefreshExcludesOverAllocatedVoter(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ledger := env.ledger
	alpha := ledger.AddGauge("alpha", true)
	beta := ledger.AddGauge("beta", true)
	ledger.SetVotePower(voterA, big.NewInt(1000))
	ledger.SetVotePower(voterB, big.NewInt(1000))
	ledger.SetVotes(voterA, contract.Vote{GaugeID: alpha, VotePowerBPS: 10000})
	ledger.SetVotes(voterB,
		contract.Vote{GaugeID: beta, VotePowerBPS: 8000},
		contract.Vote{GaugeID: alpha, VotePowerBPS: 8000},
	)

	_, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	cat := env.aggregator.Catalog()
	v, found := cat.Voter(voterB)
	require.True(t, found)
	assert.True(t, v.Excluded)
	a, _ := cat.Gauge(alpha)
	assert.Equal(t, fixedpoint.Scale.String(), a.NextWeight.String())
}

func TestRefreshMissingMetadata(t *testing.T) {
	for _, additions := range []gauge.AdditionSource{
		staticAdditions{additions: []indexer.GaugeAddition{{GaugeName: "alpha", Timestamp: 7}}},
		staticAdditions{err: errors.New("indexer down")},
	} {
		env := newTestEnv(t, additions, nil)
		alpha := env.ledger.AddGauge("alpha", true)
		beta := env.ledger.AddGauge("beta", false)
		ok, err := env.aggregator.Refresh(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		cat := env.aggregator.Catalog()
		require.Len(t, cat.Gauges, 2)
		b, found := cat.Gauge(beta)
		require.True(t, found)
		assert.Zero(t, b.StartTimestamp)
		assert.False(t, b.Active)
		a, _ := cat.Gauge(alpha)
		assert.Equal(t, "0", a.NextWeight.String())
	}
}

func TestRefreshUnavailableContract(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ledger.AddGauge("alpha", true)
	env.ledger.SetCapacity(big.NewInt(1), big.NewInt(1), big.NewInt(999))
	env.ledger.SetUnavailable(contract.UnderwritingPool, true)
	_, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	cat := env.aggregator.Catalog()
	assert.Equal(t, "0", cat.PoolValue.String())
	assert.Len(t, cat.Gauges, 1)
}

func TestRefreshFailureKeepsPreviousCatalog(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	alpha := env.ledger.AddGauge("alpha", true)
	env.ledger.SetVotePower(voterA, big.NewInt(1000))
	env.ledger.SetVotes(voterA, contract.Vote{GaugeID: alpha, VotePowerBPS: 10000})
	_, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	first := env.aggregator.Catalog()

	env.ledger.SetMalformed("getVotes", true)
	ok, err := env.aggregator.Refresh(context.Background())
	require.ErrorIs(t, err, contract.ErrMalformedResult)
	assert.False(t, ok)
	assert.Same(t, first, env.aggregator.Catalog())
	assert.InDelta(t, 1, runCount(t, env.registry, "failure"), 0)
}

func TestRefreshCoalesces(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ledger.AddGauge("alpha", true)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.ledger.SetReadHook(func(calls []contract.Call) {
		if calls[0].Method != "getVoters" {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	done := make(chan bool)
	go func() {
		ok, err := env.aggregator.Refresh(context.Background())
		assert.NoError(t, err)
		done <- ok
	}()
	<-entered
	ok, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, env.aggregator.Catalog())
	close(release)
	assert.True(t, <-done)
	assert.NotNil(t, env.aggregator.Catalog())
	assert.Equal(t, 1, env.ledger.MethodCalls("getVoters"))
	assert.InDelta(t, 1, runCount(t, env.registry, "coalesced"), 0)
}

func TestRefreshMarksStaleOnEpochRoll(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, updates := eb.Subscribe(event.CatalogUpdatedEventType)
	env := newTestEnv(t, nil, eb)
	env.ledger.AddGauge("alpha", true)
	var once sync.Once
	env.ledger.SetReadHook(func(calls []contract.Call) {
		if calls[0].Method != "getVoters" {
			return
		}
		once.Do(func() {
			env.ledger.SetEpoch(2000, 3000, true)
		})
	})

	ok, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	cat := env.aggregator.Catalog()
	assert.True(t, cat.Stale)
	assert.Equal(t, time.Unix(3000, 0), cat.Epoch.End)

	evt := testutil.RequireReceive(t, updates, 2*time.Second, "catalog update")
	data, ok := evt.Data.(event.CatalogUpdatedEvent)
	require.True(t, ok)
	assert.True(t, data.Stale)
	assert.Equal(t, 1, data.GaugeCount)

	// A recomputation was scheduled and produces a fresh catalog
	env.aggregator.Start(context.Background())
	defer env.aggregator.Stop()
	require.Eventually(t, func() bool {
		c := env.aggregator.Catalog()
		return c != cat && !c.Stale
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSeed(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	seeded := &gauge.Catalog{Gauges: []gauge.Gauge{{ID: 1, Name: "persisted"}}}
	assert.True(t, env.aggregator.Seed(seeded))
	assert.Same(t, seeded, env.aggregator.Catalog())
	assert.False(t, env.aggregator.Seed(&gauge.Catalog{}))

	env.ledger.AddGauge("live", true)
	_, err := env.aggregator.Refresh(context.Background())
	require.NoError(t, err)
	g, found := env.aggregator.Catalog().Gauge(1)
	require.True(t, found)
	assert.Equal(t, "live", g.Name)
}

func TestStartServesTriggers(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.ledger.AddGauge("alpha", true)
	env.aggregator.Start(context.Background())
	env.aggregator.Trigger()
	require.Eventually(t, func() bool {
		return env.aggregator.Catalog() != nil
	}, 2*time.Second, 5*time.Millisecond)
	env.aggregator.Stop()
	env.aggregator.Stop()
}
