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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Contract identifies one of the remote contracts the engine talks to
type Contract string

const (
	GaugeController  Contract = "gaugeController"
	Voting           Contract = "voting"
	BribeController  Contract = "bribeController"
	UnderwritingPool Contract = "underwritingPool"
)

// Call describes a single read or write against a remote contract
type Call struct {
	Contract Contract
	Method   string
	Args     []any
}

func NewCall(contract Contract, method string, args ...any) Call {
	return Call{
		Contract: contract,
		Method:   method,
		Args:     args,
	}
}

func (c Call) String() string {
	return fmt.Sprintf("%s.%s", c.Contract, c.Method)
}

// Reader executes a group of independent read calls. The returned slice has
// one entry per call, in call order.
type Reader interface {
	BatchCall(ctx context.Context, calls []Call) ([]Result, error)
}

// Writer submits state-changing calls and tracks their confirmation
type Writer interface {
	Submit(
		ctx context.Context,
		from common.Address,
		call Call,
	) (common.Hash, error)
	WaitConfirmed(ctx context.Context, txHash common.Hash, depth uint64) error
}

// Vote is one (gauge, BPS) entry of a voter's governance allocation
type Vote struct {
	GaugeID      uint64
	VotePowerBPS uint64
}

// Bribe is one token deposit offered for a gauge
type Bribe struct {
	Token  common.Address
	Amount *big.Int
}

// GaugeVote is one voter's BPS commitment towards a single gauge
type GaugeVote struct {
	Voter        common.Address
	VotePowerBPS uint64
}
