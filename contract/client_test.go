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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testController = common.HexToAddress("0x00000000000000000000000000000000000000c0")

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcHandler func(method string, params json.RawMessage) (any, *rpcFailure)

// newRPCServer serves single and batched JSON-RPC requests from handler
func newRPCServer(t *testing.T, handler rpcHandler) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		body = bytes.TrimSpace(body)
		isBatch := len(body) > 0 && body[0] == '['
		var reqs []rpcRequest
		if isBatch {
			err = json.Unmarshal(body, &reqs)
		} else {
			var req rpcRequest
			err = json.Unmarshal(body, &req)
			reqs = []rpcRequest{req}
		}
		if !assert.NoError(t, err) {
			return
		}
		resps := make([]map[string]any, 0, len(reqs))
		for _, req := range reqs {
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			result, failure := handler(req.Method, req.Params)
			if failure != nil {
				resp["error"] = failure
			} else {
				resp["result"] = result
			}
			resps = append(resps, resp)
		}
		w.Header().Set("Content-Type", "application/json")
		if isBatch {
			_ = json.NewEncoder(w).Encode(resps)
		} else {
			_ = json.NewEncoder(w).Encode(resps[0])
		}
	}))
	t.Cleanup(func() {
		srv.Close()
		if tr, ok := http.DefaultTransport.(*http.Transport); ok {
			tr.CloseIdleConnections()
		}
	})
	return srv.URL
}

func newTestClient(t *testing.T, url string) *contract.Client {
	t.Helper()
	client, err := contract.NewClient(context.Background(), contract.ClientConfig{
		RPCURL:              url,
		Addresses:           contract.Addresses{GaugeController: testController},
		ReceiptPollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// callData returns the input data of an eth_call request
func callData(t *testing.T, params json.RawMessage) string {
	var args []json.RawMessage
	if !assert.NoError(t, json.Unmarshal(params, &args)) || !assert.NotEmpty(t, args) {
		return ""
	}
	var msg struct {
		Data hexutil.Bytes `json:"data"`
	}
	if !assert.NoError(t, json.Unmarshal(args[0], &msg)) {
		return ""
	}
	return msg.Data.String()
}

func encodeCall(t *testing.T, call contract.Call) string {
	data, err := contract.EncodeCall(call)
	require.NoError(t, err)
	return hexutil.Encode(data)
}

func uint256Word(v int64) string {
	return hexutil.Encode(common.LeftPadBytes(big.NewInt(v).Bytes(), 32))
}

func TestClientBatchCall(t *testing.T) {
	totalGauges := contract.TotalGauges()
	epochEnd := contract.GetEpochEndTimestamp()
	answers := map[string]string{
		encodeCall(t, totalGauges): uint256Word(4),
		encodeCall(t, epochEnd):    uint256Word(2000),
	}
	var ethCalls atomic.Int32
	url := newRPCServer(t, func(method string, params json.RawMessage) (any, *rpcFailure) {
		assert.Equal(t, "eth_call", method)
		ethCalls.Add(1)
		answer, ok := answers[callData(t, params)]
		if !assert.True(t, ok, "unexpected call data") {
			return nil, &rpcFailure{Code: -32602, Message: "unexpected call"}
		}
		return answer, nil
	})
	client := newTestClient(t, url)

	results, err := client.BatchCall(context.Background(), []contract.Call{
		totalGauges,
		contract.IsVotingOpen(),
		epochEnd,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	count, err := results[0].Uint64(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count)
	assert.False(t, results[1].Available(), "voting contract is not deployed")
	end, err := results[2].Uint64(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), end)
	assert.Equal(t, int32(2), ethCalls.Load())
}

func TestClientBatchCallErrors(t *testing.T) {
	testDefs := []struct {
		name      string
		failure   rpcFailure
		expected  error
		permanent bool
	}{
		{
			name:      "revert with reason",
			failure:   rpcFailure{Code: 3, Message: "execution reverted: paused"},
			expected:  contract.ErrCallReverted,
			permanent: true,
		},
		{
			name:      "revert without data",
			failure:   rpcFailure{Code: -32000, Message: "execution reverted"},
			expected:  contract.ErrCallReverted,
			permanent: true,
		},
		{
			name:     "node failure",
			failure:  rpcFailure{Code: -32000, Message: "header not found"},
			expected: contract.ErrTransientRead,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			url := newRPCServer(t, func(string, json.RawMessage) (any, *rpcFailure) {
				return nil, &testDef.failure
			})
			client := newTestClient(t, url)
			_, err := client.BatchCall(context.Background(), []contract.Call{contract.TotalGauges()})
			require.ErrorIs(t, err, testDef.expected)
			assert.Equal(t, testDef.permanent, contract.IsPermanent(err))
		})
	}
}

func receiptJSON(txHash common.Hash, status string, block uint64) map[string]any {
	return map[string]any{
		"type":              "0x0",
		"status":            status,
		"cumulativeGasUsed": "0x5208",
		"logsBloom":         hexutil.Encode(make([]byte, types.BloomByteLength)),
		"logs":              []any{},
		"transactionHash":   txHash.Hex(),
		"gasUsed":           "0x5208",
		"effectiveGasPrice": "0x1",
		"blockHash":         common.HexToHash("0xb10c").Hex(),
		"blockNumber":       hexutil.EncodeUint64(block),
		"transactionIndex":  "0x0",
	}
}

// newReceiptServer reports the receipt as pending for the first pendingPolls
// polls and mined at block 0x10 afterwards, with the chain head at 0x11
func newReceiptServer(
	t *testing.T,
	txHash common.Hash,
	status string,
	pendingPolls int32,
) (string, *atomic.Int32) {
	var polls atomic.Int32
	url := newRPCServer(t, func(method string, _ json.RawMessage) (any, *rpcFailure) {
		switch method {
		case "eth_getTransactionReceipt":
			if polls.Add(1) <= pendingPolls {
				return nil, nil
			}
			return receiptJSON(txHash, status, 0x10), nil
		case "eth_blockNumber":
			return "0x11", nil
		}
		return nil, &rpcFailure{Code: -32601, Message: "method not found"}
	})
	return url, &polls
}

func TestClientWaitConfirmed(t *testing.T) {
	txHash := common.HexToHash("0x7e57")
	url, polls := newReceiptServer(t, txHash, "0x1", 2)
	client := newTestClient(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.WaitConfirmed(ctx, txHash, 2))
	assert.Equal(t, int32(3), polls.Load())
}

func TestClientWaitConfirmedDepthNotReached(t *testing.T) {
	txHash := common.HexToHash("0x7e57")
	url, _ := newReceiptServer(t, txHash, "0x1", 0)
	client := newTestClient(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := client.WaitConfirmed(ctx, txHash, 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, contract.ErrWriteRejected)
}

func TestClientWaitConfirmedReverted(t *testing.T) {
	txHash := common.HexToHash("0xbad")
	url, _ := newReceiptServer(t, txHash, "0x0", 0)
	client := newTestClient(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.WaitConfirmed(ctx, txHash, 1)
	require.ErrorIs(t, err, contract.ErrWriteRejected)
	var rejected contract.WriteRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, txHash, rejected.TxHash())
}
