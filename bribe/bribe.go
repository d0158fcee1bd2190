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

// Package bribe values the bribe market layered on the gauge vote: the USD
// pool offered for each gauge, the vote power committed to it and the reward
// a voter could expect for a proposed allocation.
package bribe

import (
	"errors"
	"math/big"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/pricing"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoSnapshot     = errors.New("bribe market not yet loaded")
	ErrNoCatalog      = errors.New("gauge catalog not yet loaded")
	ErrNoVotePower    = errors.New("voter has no vote power")
	ErrUnknownGauge   = errors.New("unknown gauge")
	ErrInactiveGauge  = errors.New("gauge is inactive")
	ErrInvalidBPS     = errors.New("vote power must be between 0.01% and 100%")
	ErrBudgetExceeded = errors.New("bribe allocation exceeds 100%")
	ErrNoAllocation   = errors.New("no bribe allocation on gauge")
	ErrNothingToClaim = errors.New("no claimable bribes")
	ErrInvalidDeposit = errors.New("invalid bribe deposit")
)

// Offer is one token deposit offered for a gauge
type Offer struct {
	GaugeID uint64
	Token   common.Address
	Amount  *big.Int
}

// Allocation is one voter's bribe vote on a gauge. The BPS budget for bribe
// votes is separate from the governance vote budget.
type Allocation struct {
	Voter        common.Address
	GaugeID      uint64
	VotePowerBPS uint64
}

// GaugeMarket is the bribe state of one gauge. PoolUSD is 1e18-scaled.
type GaugeMarket struct {
	GaugeID        uint64
	GaugeName      string
	Offers         []Offer
	PoolUSD        *big.Int
	CommittedPower *big.Int
	Votes          []contract.GaugeVote
}

// Snapshot is an immutable view of the whole market
type Snapshot struct {
	Gauges     []GaugeMarket
	Tokens     map[common.Address]pricing.Token
	ComputedAt time.Time
}

func (s *Snapshot) Gauge(id uint64) (GaugeMarket, bool) {
	if s == nil {
		return GaugeMarket{}, false
	}
	for _, g := range s.Gauges {
		if g.GaugeID == id {
			return g, true
		}
	}
	return GaugeMarket{}, false
}

// Projection is the expected outcome of a proposed bribe vote
type Projection struct {
	GaugeID      uint64
	VotePowerBPS uint64
	// Contribution is the vote power the proposal adds to the gauge
	Contribution *big.Int
	// TotalPower is the gauge's committed power with the proposal accepted
	TotalPower *big.Int
	PoolUSD    *big.Int
	RewardUSD  *big.Int
}

// ProjectReward returns pool * (power*bps/10000) / total. The result is zero
// when total is zero.
func ProjectReward(pool, power *big.Int, bps uint64, total *big.Int) *big.Int {
	if total == nil || total.Sign() <= 0 {
		return new(big.Int)
	}
	return fixedpoint.MulDiv(pool, fixedpoint.ApplyBPS(power, bps), total)
}
