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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packOutputs(t *testing.T, call Call, values ...any) []byte {
	t.Helper()
	_, method, err := lookupMethod(call)
	require.NoError(t, err)
	data, err := method.Outputs.Pack(values...)
	require.NoError(t, err)
	return data
}

func TestEncodeCallSelector(t *testing.T) {
	data, err := EncodeCall(GetGaugeWeight(3))
	require.NoError(t, err)
	require.Len(t, data, 4+32)
	parsed, err := contractABI(GaugeController)
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["getGaugeWeight"].ID, data[:4])
	assert.Equal(t, byte(3), data[len(data)-1])
}

func TestEncodeCallErrors(t *testing.T) {
	_, err := EncodeCall(NewCall(GaugeController, "noSuchMethod"))
	require.ErrorIs(t, err, ErrUnknownMethod)

	_, err = EncodeCall(NewCall("nowhere", "getVoters"))
	require.ErrorIs(t, err, ErrUnknownMethod)

	// uint256 arguments must be *big.Int
	_, err = EncodeCall(NewCall(GaugeController, "getGaugeWeight", uint64(3)))
	require.Error(t, err)
}

func TestEncodeVoteMultiple(t *testing.T) {
	voter := common.HexToAddress("0x1111")
	call := CastVoteMultiple(voter, []Vote{
		{GaugeID: 1, VotePowerBPS: 2500},
		{GaugeID: 2, VotePowerBPS: 0},
	})
	data, err := EncodeCall(call)
	require.NoError(t, err)
	parsed, err := contractABI(Voting)
	require.NoError(t, err)
	args, err := parsed.Methods["voteMultiple"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, voter, args[0])
	assert.Equal(t, []string{"1", "2"}, bigStrings(t, args[1]))
	assert.Equal(t, []string{"2500", "0"}, bigStrings(t, args[2]))
}

func TestDecodeVotes(t *testing.T) {
	call := GetVotes(common.HexToAddress("0x01"), common.HexToAddress("0x02"))
	data := packOutputs(t, call, []voteTuple{
		{GaugeID: big.NewInt(1), VotePowerBPS: big.NewInt(4000)},
		{GaugeID: big.NewInt(7), VotePowerBPS: big.NewInt(6000)},
	})
	res, err := DecodeResult(call, data)
	require.NoError(t, err)
	votes, err := res.Votes(0)
	require.NoError(t, err)
	assert.Equal(t, []Vote{
		{GaugeID: 1, VotePowerBPS: 4000},
		{GaugeID: 7, VotePowerBPS: 6000},
	}, votes)
}

func TestDecodeVotesRejectsOutOfRangeBPS(t *testing.T) {
	call := GetVotesForVoter(common.HexToAddress("0x02"))
	data := packOutputs(t, call, []voteTuple{
		{GaugeID: big.NewInt(1), VotePowerBPS: big.NewInt(10001)},
	})
	_, err := DecodeResult(call, data)
	require.ErrorIs(t, err, ErrMalformedResult)
}

func TestDecodeBribesAndGaugeVotes(t *testing.T) {
	token := common.HexToAddress("0xdead")
	call := GetProvidedBribesForGauge(2)
	data := packOutputs(t, call, []bribeTuple{
		{BribeToken: token, BribeAmount: big.NewInt(500)},
	})
	res, err := DecodeResult(call, data)
	require.NoError(t, err)
	bribes, err := res.Bribes(0)
	require.NoError(t, err)
	require.Len(t, bribes, 1)
	assert.Equal(t, token, bribes[0].Token)
	assert.Equal(t, int64(500), bribes[0].Amount.Int64())

	voter := common.HexToAddress("0xbeef")
	call = GetVotesForGauge(2)
	data = packOutputs(t, call, []gaugeVoteTuple{
		{Voter: voter, VotePowerBPS: big.NewInt(10000)},
	})
	res, err = DecodeResult(call, data)
	require.NoError(t, err)
	gaugeVotes, err := res.GaugeVotes(0)
	require.NoError(t, err)
	assert.Equal(t, []GaugeVote{{Voter: voter, VotePowerBPS: 10000}}, gaugeVotes)
}

func TestDecodeScalars(t *testing.T) {
	call := GetGaugeName(1)
	res, err := DecodeResult(call, packOutputs(t, call, "Stables"))
	require.NoError(t, err)
	name, err := res.String(0)
	require.NoError(t, err)
	assert.Equal(t, "Stables", name)

	call = IsGaugeActive(1)
	res, err = DecodeResult(call, packOutputs(t, call, true))
	require.NoError(t, err)
	active, err := res.Bool(0)
	require.NoError(t, err)
	assert.True(t, active)
	// a bool is not an integer
	_, err = res.Uint(0)
	require.ErrorIs(t, err, ErrMalformedResult)
}

func TestDecodeTruncatedData(t *testing.T) {
	call := TotalGauges()
	_, err := DecodeResult(call, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrMalformedResult)
}

func bigStrings(t *testing.T, v any) []string {
	t.Helper()
	ints, ok := v.([]*big.Int)
	require.True(t, ok, "got %T", v)
	ret := make([]string, len(ints))
	for i, n := range ints {
		ret[i] = n.String()
	}
	return ret
}
