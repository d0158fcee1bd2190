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
	"math/big"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// VoterAllocation is a voter's power together with its recorded votes
type VoterAllocation struct {
	Voter common.Address
	Power *big.Int
	Votes []contract.Vote
}

// TotalBPS sums the voter's recorded BPS
func (a VoterAllocation) TotalBPS() uint64 {
	var total uint64
	for _, v := range a.Votes {
		total += v.VotePowerBPS
	}
	return total
}

// Accumulate adds power*bps/10000 to each voted gauge for every voter.
// Voters whose votes sum to more than 10000 BPS are left out and returned
// separately.
func Accumulate(allocs []VoterAllocation) (map[uint64]*big.Int, []common.Address) {
	accum := make(map[uint64]*big.Int)
	var excluded []common.Address
	for _, alloc := range allocs {
		if alloc.TotalBPS() > fixedpoint.MaxBPS {
			excluded = append(excluded, alloc.Voter)
			continue
		}
		for _, v := range alloc.Votes {
			part := fixedpoint.ApplyBPS(alloc.Power, v.VotePowerBPS)
			if cur, ok := accum[v.GaugeID]; ok {
				cur.Add(cur, part)
			} else {
				accum[v.GaugeID] = part
			}
		}
	}
	return accum, excluded
}

// NextWeights normalizes accumulated power into 1e18-scaled shares for every
// listed gauge. Gauges without accumulated power get zero, and so does every
// gauge when the total is zero.
func NextWeights(accum map[uint64]*big.Int, gaugeIDs []uint64) map[uint64]*big.Int {
	parts := make(map[uint64]*big.Int, len(gaugeIDs)+len(accum))
	for _, id := range gaugeIDs {
		parts[id] = new(big.Int)
	}
	for id, power := range accum {
		parts[id] = power
	}
	return fixedpoint.NormalizeWeights(parts)
}
