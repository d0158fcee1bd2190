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
	"strings"
	"sync"

	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const gaugeControllerABI = `[
{"type":"function","name":"getVoters","stateMutability":"view","inputs":[{"name":"votingContract","type":"address"}],"outputs":[{"name":"voters","type":"address[]"}]},
{"type":"function","name":"getVotes","stateMutability":"view","inputs":[{"name":"votingContract","type":"address"},{"name":"voter","type":"address"}],"outputs":[{"name":"votes","type":"tuple[]","components":[{"name":"gaugeID","type":"uint256"},{"name":"votePowerBPS","type":"uint256"}]}]},
{"type":"function","name":"getGaugeWeight","stateMutability":"view","inputs":[{"name":"gaugeID","type":"uint256"}],"outputs":[{"name":"weight","type":"uint256"}]},
{"type":"function","name":"getAllGaugeWeights","stateMutability":"view","inputs":[],"outputs":[{"name":"weights","type":"uint256[]"}]},
{"type":"function","name":"getGaugeName","stateMutability":"view","inputs":[{"name":"gaugeID","type":"uint256"}],"outputs":[{"name":"gaugeName","type":"string"}]},
{"type":"function","name":"isGaugeActive","stateMutability":"view","inputs":[{"name":"gaugeID","type":"uint256"}],"outputs":[{"name":"gaugeActive","type":"bool"}]},
{"type":"function","name":"totalGauges","stateMutability":"view","inputs":[],"outputs":[{"name":"gaugeCount","type":"uint256"}]},
{"type":"function","name":"getEpochStartTimestamp","stateMutability":"view","inputs":[],"outputs":[{"name":"timestamp","type":"uint256"}]},
{"type":"function","name":"getEpochEndTimestamp","stateMutability":"view","inputs":[],"outputs":[{"name":"timestamp","type":"uint256"}]},
{"type":"function","name":"getVotePowerSum","stateMutability":"view","inputs":[],"outputs":[{"name":"votePowerSum","type":"uint256"}]},
{"type":"function","name":"getRateOnLineOfGauge","stateMutability":"view","inputs":[{"name":"gaugeID","type":"uint256"}],"outputs":[{"name":"rateOnLine","type":"uint256"}]},
{"type":"function","name":"getInsuranceCapacity","stateMutability":"view","inputs":[],"outputs":[{"name":"capacity","type":"uint256"}]},
{"type":"function","name":"leverageFactor","stateMutability":"view","inputs":[],"outputs":[{"name":"factor","type":"uint256"}]}
]`

const votingABI = `[
{"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"},{"name":"gaugeID","type":"uint256"},{"name":"votePowerBPS","type":"uint256"}],"outputs":[]},
{"type":"function","name":"voteMultiple","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"},{"name":"gaugeIDs","type":"uint256[]"},{"name":"votePowerBPSs","type":"uint256[]"}],"outputs":[]},
{"type":"function","name":"removeVote","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"},{"name":"gaugeID","type":"uint256"}],"outputs":[]},
{"type":"function","name":"removeVoteMultiple","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"},{"name":"gaugeIDs","type":"uint256[]"}],"outputs":[]},
{"type":"function","name":"setDelegate","stateMutability":"nonpayable","inputs":[{"name":"delegate","type":"address"}],"outputs":[]},
{"type":"function","name":"delegateOf","stateMutability":"view","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"delegate","type":"address"}]},
{"type":"function","name":"getVotingDelegatorsOf","stateMutability":"view","inputs":[{"name":"delegate","type":"address"}],"outputs":[{"name":"delegators","type":"address[]"}]},
{"type":"function","name":"getVotePower","stateMutability":"view","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"votePower","type":"uint256"}]},
{"type":"function","name":"usedVotePowerBPSOf","stateMutability":"view","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"usedBPS","type":"uint256"}]},
{"type":"function","name":"isVotingOpen","stateMutability":"view","inputs":[],"outputs":[{"name":"open","type":"bool"}]}
]`

const bribeControllerABI = `[
{"type":"function","name":"provideBribes","stateMutability":"nonpayable","inputs":[{"name":"bribeTokens","type":"address[]"},{"name":"bribeAmounts","type":"uint256[]"},{"name":"gaugeID","type":"uint256"}],"outputs":[]},
{"type":"function","name":"voteForBribe","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"},{"name":"gaugeID","type":"uint256"},{"name":"votePowerBPS","type":"uint256"}],"outputs":[]},
{"type":"function","name":"removeVoteForBribe","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"},{"name":"gaugeID","type":"uint256"}],"outputs":[]},
{"type":"function","name":"claimBribes","stateMutability":"nonpayable","inputs":[],"outputs":[]},
{"type":"function","name":"getProvidedBribesForGauge","stateMutability":"view","inputs":[{"name":"gaugeID","type":"uint256"}],"outputs":[{"name":"bribes","type":"tuple[]","components":[{"name":"bribeToken","type":"address"},{"name":"bribeAmount","type":"uint256"}]}]},
{"type":"function","name":"getVotesForVoter","stateMutability":"view","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"votes","type":"tuple[]","components":[{"name":"gaugeID","type":"uint256"},{"name":"votePowerBPS","type":"uint256"}]}]},
{"type":"function","name":"getVotesForGauge","stateMutability":"view","inputs":[{"name":"gaugeID","type":"uint256"}],"outputs":[{"name":"votes","type":"tuple[]","components":[{"name":"voter","type":"address"},{"name":"votePowerBPS","type":"uint256"}]}]},
{"type":"function","name":"getClaimableBribes","stateMutability":"view","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"bribes","type":"tuple[]","components":[{"name":"bribeToken","type":"address"},{"name":"bribeAmount","type":"uint256"}]}]}
]`

const underwritingPoolABI = `[
{"type":"function","name":"valueOfPool","stateMutability":"view","inputs":[],"outputs":[{"name":"value","type":"uint256"}]}
]`

var (
	abiOnce   sync.Once
	abiByName map[Contract]abi.ABI
	abiErr    error
)

func contractABI(c Contract) (abi.ABI, error) {
	abiOnce.Do(func() {
		abiByName = make(map[Contract]abi.ABI)
		for name, def := range map[Contract]string{
			GaugeController:  gaugeControllerABI,
			Voting:           votingABI,
			BribeController:  bribeControllerABI,
			UnderwritingPool: underwritingPoolABI,
		} {
			parsed, err := abi.JSON(strings.NewReader(def))
			if err != nil {
				abiErr = fmt.Errorf("parse %s ABI: %w", name, err)
				return
			}
			abiByName[name] = parsed
		}
	})
	if abiErr != nil {
		return abi.ABI{}, abiErr
	}
	ret, ok := abiByName[c]
	if !ok {
		return abi.ABI{}, fmt.Errorf("%w: no ABI for contract %q", ErrUnknownMethod, c)
	}
	return ret, nil
}

func lookupMethod(call Call) (abi.ABI, abi.Method, error) {
	parsed, err := contractABI(call.Contract)
	if err != nil {
		return abi.ABI{}, abi.Method{}, err
	}
	method, ok := parsed.Methods[call.Method]
	if !ok {
		return abi.ABI{}, abi.Method{}, fmt.Errorf("%w: %s", ErrUnknownMethod, call)
	}
	return parsed, method, nil
}

// EncodeCall returns the calldata for a call
func EncodeCall(call Call) ([]byte, error) {
	parsed, _, err := lookupMethod(call)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", call, err)
	}
	return data, nil
}

// DecodeResult unpacks raw return data for a call into a Result
func DecodeResult(call Call, data []byte) (Result, error) {
	_, method, err := lookupMethod(call)
	if err != nil {
		return Result{}, err
	}
	values, err := method.Outputs.Unpack(data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrMalformedResult, call, err)
	}
	if len(values) != len(method.Outputs) {
		return Result{}, fmt.Errorf(
			"%w: %s returned %d values, wanted %d",
			ErrMalformedResult,
			call,
			len(values),
			len(method.Outputs),
		)
	}
	ret := make([]any, len(values))
	for i, arg := range method.Outputs {
		v, err := normalizeValue(arg.Type, values[i])
		if err != nil {
			return Result{}, fmt.Errorf("%s output %q: %w", call, arg.Name, err)
		}
		ret[i] = v
	}
	return NewResult(ret...), nil
}

type voteTuple struct {
	GaugeID      *big.Int
	VotePowerBPS *big.Int
}

type bribeTuple struct {
	BribeToken  common.Address
	BribeAmount *big.Int
}

type gaugeVoteTuple struct {
	Voter        common.Address
	VotePowerBPS *big.Int
}

func normalizeValue(t abi.Type, v any) (any, error) {
	if t.T != abi.SliceTy || t.Elem == nil || t.Elem.T != abi.TupleTy {
		return v, nil
	}
	switch strings.Join(t.Elem.TupleRawNames, ",") {
	case "gaugeID,votePowerBPS":
		tuples, err := convertTuples[voteTuple](v)
		if err != nil {
			return nil, err
		}
		ret := make([]Vote, len(tuples))
		for i, tuple := range tuples {
			if !tuple.GaugeID.IsUint64() || !tuple.VotePowerBPS.IsUint64() ||
				tuple.VotePowerBPS.Uint64() > fixedpoint.MaxBPS {
				return nil, fmt.Errorf("%w: vote %d out of range", ErrMalformedResult, i)
			}
			ret[i] = Vote{
				GaugeID:      tuple.GaugeID.Uint64(),
				VotePowerBPS: tuple.VotePowerBPS.Uint64(),
			}
		}
		return ret, nil
	case "bribeToken,bribeAmount":
		tuples, err := convertTuples[bribeTuple](v)
		if err != nil {
			return nil, err
		}
		ret := make([]Bribe, len(tuples))
		for i, tuple := range tuples {
			ret[i] = Bribe{Token: tuple.BribeToken, Amount: tuple.BribeAmount}
		}
		return ret, nil
	case "voter,votePowerBPS":
		tuples, err := convertTuples[gaugeVoteTuple](v)
		if err != nil {
			return nil, err
		}
		ret := make([]GaugeVote, len(tuples))
		for i, tuple := range tuples {
			if !tuple.VotePowerBPS.IsUint64() ||
				tuple.VotePowerBPS.Uint64() > fixedpoint.MaxBPS {
				return nil, fmt.Errorf("%w: gauge vote %d out of range", ErrMalformedResult, i)
			}
			ret[i] = GaugeVote{
				Voter:        tuple.Voter,
				VotePowerBPS: tuple.VotePowerBPS.Uint64(),
			}
		}
		return ret, nil
	default:
		return nil, fmt.Errorf("%w: unsupported tuple %v", ErrMalformedResult, t.Elem.TupleRawNames)
	}
}

// convertTuples copies the anonymous structs produced by the ABI decoder into
// a named struct slice. The ABI helper panics on a shape mismatch.
func convertTuples[T any](v any) (ret []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret = nil
			err = fmt.Errorf("%w: %v", ErrMalformedResult, r)
		}
	}()
	converted, ok := abi.ConvertType(v, new([]T)).(*[]T)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected tuple type %T", ErrMalformedResult, v)
	}
	return *converted, nil
}
