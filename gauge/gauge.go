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

// Package gauge reconstructs the gauge catalog: the currently recorded weight
// of every gauge and its projected next-epoch weight, computed by replaying
// every voter's current allocation.
package gauge

import (
	"math/big"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/ethereum/go-ethereum/common"
)

// Gauge is one voting target. Weights are 1e18-scaled shares.
type Gauge struct {
	ID             uint64
	Name           string
	Active         bool
	CurrentWeight  *big.Int
	NextWeight     *big.Int
	StartTimestamp uint64
	RateOnLine     *big.Int
	// Capacity is the share of insurance capacity implied by NextWeight
	Capacity *big.Int
}

type Voter struct {
	Address          common.Address
	TotalVotePower   *big.Int
	UsedVotePowerBPS uint64
	Votes            []contract.Vote
	// Excluded is set when the voter's recorded allocation exceeds 100% and
	// was left out of the accumulation
	Excluded bool
}

// Catalog is an immutable snapshot of all gauges. A published catalog is
// never modified; refreshes replace it as a whole.
type Catalog struct {
	Gauges []Gauge
	Voters []Voter
	// GaugePower is the raw vote power accumulated per gauge
	GaugePower        map[uint64]*big.Int
	TotalVotePower    *big.Int
	VotePowerSum      *big.Int
	InsuranceCapacity *big.Int
	PoolValue         *big.Int
	LeverageFactor    *big.Int
	Epoch             epoch.Epoch
	ComputedAt        time.Time
	// Stale is set when the epoch rolled over during the computation, so the
	// projected weights may describe the wrong epoch
	Stale bool
}

// Gauge returns the gauge with the given ID
func (c *Catalog) Gauge(id uint64) (Gauge, bool) {
	if c == nil {
		return Gauge{}, false
	}
	for _, g := range c.Gauges {
		if g.ID == id {
			return g, true
		}
	}
	return Gauge{}, false
}

func (c *Catalog) GaugeByName(name string) (Gauge, bool) {
	if c == nil {
		return Gauge{}, false
	}
	for _, g := range c.Gauges {
		if g.Name == name {
			return g, true
		}
	}
	return Gauge{}, false
}

// Voter returns the recorded allocation of an address
func (c *Catalog) Voter(addr common.Address) (Voter, bool) {
	if c == nil {
		return Voter{}, false
	}
	for _, v := range c.Voters {
		if v.Address == addr {
			return v, true
		}
	}
	return Voter{}, false
}

// Power returns the accumulated vote power of a gauge
func (c *Catalog) Power(id uint64) *big.Int {
	if c == nil {
		return new(big.Int)
	}
	if p, ok := c.GaugePower[id]; ok {
		return new(big.Int).Set(p)
	}
	return new(big.Int)
}
