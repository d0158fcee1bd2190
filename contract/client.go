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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultReceiptPollInterval = 2 * time.Second

	// JSON-RPC error code for a reverted call that carries revert data
	executionRevertedCode = 3
)

var (
	errReceiptPending       = errors.New("transaction receipt not yet available")
	errAwaitingConfirmDepth = errors.New("awaiting confirmation depth")
)

// Addresses maps each contract to its deployment. A zero address means the
// contract is not deployed on the active network.
type Addresses struct {
	GaugeController  common.Address
	Voting           common.Address
	BribeController  common.Address
	UnderwritingPool common.Address
}

func (a Addresses) lookup(c Contract) (common.Address, bool) {
	var addr common.Address
	switch c {
	case GaugeController:
		addr = a.GaugeController
	case Voting:
		addr = a.Voting
	case BribeController:
		addr = a.BribeController
	case UnderwritingPool:
		addr = a.UnderwritingPool
	}
	return addr, addr != (common.Address{})
}

type ClientConfig struct {
	Logger              *slog.Logger
	RPCURL              string
	Addresses           Addresses
	ReceiptPollInterval time.Duration
}

// Client talks to an EVM JSON-RPC endpoint. Reads are sent as a single
// JSON-RPC batch of eth_call requests. Writes are handed to the node with
// eth_sendTransaction, which leaves signing to the node's account backend.
type Client struct {
	config ClientConfig
	rpc    *rpc.Client
	eth    *ethclient.Client
}

func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if cfg.RPCURL == "" {
		return nil, errors.New("no RPC URL configured")
	}
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to RPC: %w", err)
	}
	return &Client{
		config: cfg,
		rpc:    rpcClient,
		eth:    ethclient.NewClient(rpcClient),
	}, nil
}

// Address returns the deployment address of a contract
func (c *Client) Address(contract Contract) (common.Address, bool) {
	return c.config.Addresses.lookup(contract)
}

type callMsg struct {
	From *common.Address `json:"from,omitempty"`
	To   *common.Address `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// BatchCall implements Reader. Calls to undeployed contracts produce
// unavailable results without touching the network.
func (c *Client) BatchCall(ctx context.Context, calls []Call) ([]Result, error) {
	results := make([]Result, len(calls))
	elems := make([]rpc.BatchElem, 0, len(calls))
	elemCall := make([]int, 0, len(calls))
	for i, call := range calls {
		addr, ok := c.Address(call.Contract)
		if !ok {
			results[i] = UnavailableResult()
			continue
		}
		data, err := EncodeCall(call)
		if err != nil {
			return nil, err
		}
		elems = append(elems, rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				callMsg{To: &addr, Data: data},
				"latest",
			},
			Result: new(hexutil.Bytes),
		})
		elemCall = append(elemCall, i)
	}
	if len(elems) == 0 {
		return results, nil
	}
	if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransientRead, err)
	}
	for j, elem := range elems {
		call := calls[elemCall[j]]
		if elem.Error != nil {
			if isExecutionError(elem.Error) {
				return nil, fmt.Errorf("%w: %s: %w", ErrCallReverted, call, elem.Error)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrTransientRead, call, elem.Error)
		}
		raw, ok := elem.Result.(*hexutil.Bytes)
		if !ok || raw == nil {
			return nil, fmt.Errorf("%w: %s: empty response", ErrMalformedResult, call)
		}
		res, err := DecodeResult(call, *raw)
		if err != nil {
			return nil, err
		}
		results[elemCall[j]] = res
	}
	return results, nil
}

// isExecutionError reports whether a node rejected an eth_call because the
// call itself reverted
func isExecutionError(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.ErrorCode() == executionRevertedCode ||
		strings.Contains(rpcErr.Error(), "execution reverted")
}

// Submit implements Writer
func (c *Client) Submit(
	ctx context.Context,
	from common.Address,
	call Call,
) (common.Hash, error) {
	addr, ok := c.Address(call.Contract)
	if !ok {
		return common.Hash{}, fmt.Errorf("%s: %w", call, ErrContractUnavailable)
	}
	data, err := EncodeCall(call)
	if err != nil {
		return common.Hash{}, err
	}
	var txHash common.Hash
	if err := c.rpc.CallContext(
		ctx,
		&txHash,
		"eth_sendTransaction",
		callMsg{From: &from, To: &addr, Data: data},
	); err != nil {
		return common.Hash{}, NewWriteRejectedError(common.Hash{}, err.Error())
	}
	c.config.Logger.Debug(
		"submitted transaction",
		"component", "contract",
		"call", call.String(),
		"from", from.Hex(),
		"tx", txHash.Hex(),
	)
	return txHash, nil
}

// WaitConfirmed implements Writer. It polls until the transaction has been
// included and has depth confirmations. There is no deadline other than the
// context.
func (c *Client) WaitConfirmed(
	ctx context.Context,
	txHash common.Hash,
	depth uint64,
) error {
	if depth == 0 {
		depth = 1
	}
	backoff := retry.NewConstant(c.config.ReceiptPollInterval)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return retry.RetryableError(errReceiptPending)
			}
			return retry.RetryableError(err)
		}
		if receipt.Status == types.ReceiptStatusFailed {
			return NewWriteRejectedError(txHash, "transaction reverted")
		}
		head, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		included := receipt.BlockNumber.Uint64()
		if head < included || head-included+1 < depth {
			return retry.RetryableError(errAwaitingConfirmDepth)
		}
		return nil
	})
}

func (c *Client) Close() {
	c.rpc.Close()
}
