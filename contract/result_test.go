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

package contract_test

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/blinklabs-io/tally/contract"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailableResultNeutralDefaults(t *testing.T) {
	res := contract.UnavailableResult()
	assert.False(t, res.Available())

	power, err := res.Uint(0)
	require.NoError(t, err)
	assert.Equal(t, 0, power.Sign())

	open, err := res.Bool(0)
	require.NoError(t, err)
	assert.False(t, open)

	voters, err := res.Addresses(0)
	require.NoError(t, err)
	assert.Empty(t, voters)

	votes, err := res.Votes(0)
	require.NoError(t, err)
	assert.Empty(t, votes)

	bribes, err := res.Bribes(0)
	require.NoError(t, err)
	assert.Empty(t, bribes)
}

func TestResultTypeMismatch(t *testing.T) {
	res := contract.NewResult("not a number", big.NewInt(-1), new(big.Int).Lsh(big.NewInt(1), 70))
	testDefs := []struct {
		name string
		fn   func() error
	}{
		{"string as uint", func() error { _, err := res.Uint(0); return err }},
		{"negative uint", func() error { _, err := res.Uint(1); return err }},
		{"uint64 overflow", func() error { _, err := res.Uint64(2); return err }},
		{"index out of range", func() error { _, err := res.Bool(3); return err }},
		{"string as addresses", func() error { _, err := res.Addresses(0); return err }},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.ErrorIs(t, testDef.fn(), contract.ErrMalformedResult)
		})
	}
}

func TestResultUintIsCopy(t *testing.T) {
	orig := big.NewInt(42)
	res := contract.NewResult(orig)
	v, err := res.Uint(0)
	require.NoError(t, err)
	v.SetInt64(7)
	again, err := res.Uint(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), again.Int64())
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, contract.IsPermanent(fmt.Errorf("x: %w", contract.ErrMalformedResult)))
	assert.True(t, contract.IsPermanent(contract.ErrUnknownMethod))
	assert.False(t, contract.IsPermanent(fmt.Errorf("x: %w", contract.ErrTransientRead)))
	assert.False(t, contract.IsPermanent(errors.New("other")))
}

func TestWriteRejectedError(t *testing.T) {
	txHash := common.HexToHash("0xabc")
	err := contract.NewWriteRejectedError(txHash, "execution reverted")
	wrapped := fmt.Errorf("commit: %w", err)
	require.ErrorIs(t, wrapped, contract.ErrWriteRejected)
	var rejected contract.WriteRejectedError
	require.ErrorAs(t, wrapped, &rejected)
	assert.Equal(t, txHash, rejected.TxHash())
	assert.Equal(t, "execution reverted", rejected.Reason())
	assert.Contains(t, err.Error(), txHash.Hex())

	early := contract.NewWriteRejectedError(common.Hash{}, "nonce too low")
	assert.Contains(t, early.Error(), "before submission")
}
