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

package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call constructors. Integer arguments are carried as *big.Int so they can
// be packed directly as uint256.

func GetVoters(votingContract common.Address) Call {
	return NewCall(GaugeController, "getVoters", votingContract)
}

func GetVotes(votingContract common.Address, voter common.Address) Call {
	return NewCall(GaugeController, "getVotes", votingContract, voter)
}

func GetGaugeWeight(gaugeID uint64) Call {
	return NewCall(GaugeController, "getGaugeWeight", bigID(gaugeID))
}

func GetAllGaugeWeights() Call {
	return NewCall(GaugeController, "getAllGaugeWeights")
}

func GetGaugeName(gaugeID uint64) Call {
	return NewCall(GaugeController, "getGaugeName", bigID(gaugeID))
}

func IsGaugeActive(gaugeID uint64) Call {
	return NewCall(GaugeController, "isGaugeActive", bigID(gaugeID))
}

func TotalGauges() Call {
	return NewCall(GaugeController, "totalGauges")
}

func GetEpochStartTimestamp() Call {
	return NewCall(GaugeController, "getEpochStartTimestamp")
}

func GetEpochEndTimestamp() Call {
	return NewCall(GaugeController, "getEpochEndTimestamp")
}

func GetVotePowerSum() Call {
	return NewCall(GaugeController, "getVotePowerSum")
}

func GetRateOnLineOfGauge(gaugeID uint64) Call {
	return NewCall(GaugeController, "getRateOnLineOfGauge", bigID(gaugeID))
}

func GetInsuranceCapacity() Call {
	return NewCall(GaugeController, "getInsuranceCapacity")
}

func LeverageFactor() Call {
	return NewCall(GaugeController, "leverageFactor")
}

func CastVote(voter common.Address, gaugeID uint64, bps uint64) Call {
	return NewCall(Voting, "vote", voter, bigID(gaugeID), bigID(bps))
}

func CastVoteMultiple(voter common.Address, votes []Vote) Call {
	gaugeIDs := make([]*big.Int, len(votes))
	bpss := make([]*big.Int, len(votes))
	for i, v := range votes {
		gaugeIDs[i] = bigID(v.GaugeID)
		bpss[i] = bigID(v.VotePowerBPS)
	}
	return NewCall(Voting, "voteMultiple", voter, gaugeIDs, bpss)
}

func RemoveVote(voter common.Address, gaugeID uint64) Call {
	return NewCall(Voting, "removeVote", voter, bigID(gaugeID))
}

func RemoveVoteMultiple(voter common.Address, gaugeIDs []uint64) Call {
	return NewCall(Voting, "removeVoteMultiple", voter, bigIDs(gaugeIDs))
}

func SetDelegate(delegate common.Address) Call {
	return NewCall(Voting, "setDelegate", delegate)
}

func DelegateOf(voter common.Address) Call {
	return NewCall(Voting, "delegateOf", voter)
}

func GetVotingDelegatorsOf(delegate common.Address) Call {
	return NewCall(Voting, "getVotingDelegatorsOf", delegate)
}

func GetVotePower(voter common.Address) Call {
	return NewCall(Voting, "getVotePower", voter)
}

func UsedVotePowerBPSOf(voter common.Address) Call {
	return NewCall(Voting, "usedVotePowerBPSOf", voter)
}

func IsVotingOpen() Call {
	return NewCall(Voting, "isVotingOpen")
}

func ProvideBribes(
	tokens []common.Address,
	amounts []*big.Int,
	gaugeID uint64,
) Call {
	return NewCall(BribeController, "provideBribes", tokens, amounts, bigID(gaugeID))
}

func VoteForBribe(voter common.Address, gaugeID uint64, bps uint64) Call {
	return NewCall(BribeController, "voteForBribe", voter, bigID(gaugeID), bigID(bps))
}

func RemoveVoteForBribe(voter common.Address, gaugeID uint64) Call {
	return NewCall(BribeController, "removeVoteForBribe", voter, bigID(gaugeID))
}

func ClaimBribes() Call {
	return NewCall(BribeController, "claimBribes")
}

func GetProvidedBribesForGauge(gaugeID uint64) Call {
	return NewCall(BribeController, "getProvidedBribesForGauge", bigID(gaugeID))
}

func GetVotesForVoter(voter common.Address) Call {
	return NewCall(BribeController, "getVotesForVoter", voter)
}

func GetVotesForGauge(gaugeID uint64) Call {
	return NewCall(BribeController, "getVotesForGauge", bigID(gaugeID))
}

func GetClaimableBribes(voter common.Address) Call {
	return NewCall(BribeController, "getClaimableBribes", voter)
}

func ValueOfPool() Call {
	return NewCall(UnderwritingPool, "valueOfPool")
}

func bigID(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

func bigIDs(ids []uint64) []*big.Int {
	ret := make([]*big.Int, len(ids))
	for i, id := range ids {
		ret[i] = bigID(id)
	}
	return ret
}

// Arg helpers for implementations that interpret calls directly

func (c Call) AddressArg(i int) (common.Address, error) {
	return callArg[common.Address](c, i)
}

func (c Call) AddressesArg(i int) ([]common.Address, error) {
	return callArg[[]common.Address](c, i)
}

func (c Call) Uint64Arg(i int) (uint64, error) {
	v, err := callArg[*big.Int](c, i)
	if err != nil {
		return 0, err
	}
	if v == nil || !v.IsUint64() {
		return 0, fmt.Errorf("%s: argument %d is not a uint64", c, i)
	}
	return v.Uint64(), nil
}

func (c Call) Uint64sArg(i int) ([]uint64, error) {
	v, err := callArg[[]*big.Int](c, i)
	if err != nil {
		return nil, err
	}
	ret := make([]uint64, len(v))
	for j, item := range v {
		if item == nil || !item.IsUint64() {
			return nil, fmt.Errorf("%s: argument %d[%d] is not a uint64", c, i, j)
		}
		ret[j] = item.Uint64()
	}
	return ret, nil
}

func (c Call) UintsArg(i int) ([]*big.Int, error) {
	return callArg[[]*big.Int](c, i)
}

func callArg[T any](c Call, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(c.Args) {
		return zero, fmt.Errorf("%s: missing argument %d", c, i)
	}
	v, ok := c.Args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%s: argument %d has type %T", c, i, c.Args[i])
	}
	return v, nil
}
