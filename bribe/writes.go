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

package bribe

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/gauge"
	"github.com/ethereum/go-ethereum/common"
)

// VoteForBribe allocates bps of the voter's power to a gauge's bribe pool,
// replacing any previous allocation on that gauge. The voter's bribe
// allocations may not exceed 100% in total.
func (m *Market) VoteForBribe(
	ctx context.Context,
	voter common.Address,
	gaugeID uint64,
	bps uint64,
) (contract.Operation, error) {
	if bps == 0 || bps > fixedpoint.MaxBPS {
		return contract.Operation{}, ErrInvalidBPS
	}
	if _, err := m.activeGauge(gaugeID); err != nil {
		return contract.Operation{}, err
	}
	power, votes, err := m.voterState(ctx, voter)
	if err != nil {
		return contract.Operation{}, err
	}
	if power.Sign() == 0 {
		return contract.Operation{}, ErrNoVotePower
	}
	total := bps
	for _, v := range votes {
		if v.GaugeID != gaugeID {
			total += v.VotePowerBPS
		}
	}
	if total > fixedpoint.MaxBPS {
		return contract.Operation{}, fmt.Errorf(
			"%w: total would be %s%%",
			ErrBudgetExceeded,
			fixedpoint.FormatBPS(total),
		)
	}
	return m.submit(ctx, contract.Request{
		Kind:     contract.OperationVoteForBribe,
		Actor:    voter,
		GaugeIDs: []uint64{gaugeID},
		Call:     contract.VoteForBribe(voter, gaugeID, bps),
	})
}

// RemoveVoteForBribe removes the voter's bribe allocation on a gauge
func (m *Market) RemoveVoteForBribe(
	ctx context.Context,
	voter common.Address,
	gaugeID uint64,
) (contract.Operation, error) {
	allocs, err := m.Allocations(ctx, voter)
	if err != nil {
		return contract.Operation{}, err
	}
	found := false
	for _, a := range allocs {
		if a.GaugeID == gaugeID {
			found = true
			break
		}
	}
	if !found {
		return contract.Operation{}, fmt.Errorf("%w: %d", ErrNoAllocation, gaugeID)
	}
	return m.submit(ctx, contract.Request{
		Kind:     contract.OperationRemoveVoteForBribe,
		Actor:    voter,
		GaugeIDs: []uint64{gaugeID},
		Call:     contract.RemoveVoteForBribe(voter, gaugeID),
	})
}

// ProvideBribes deposits token amounts as bribes for a gauge
func (m *Market) ProvideBribes(
	ctx context.Context,
	depositor common.Address,
	gaugeID uint64,
	tokens []common.Address,
	amounts []*big.Int,
) (contract.Operation, error) {
	if len(tokens) == 0 || len(tokens) != len(amounts) {
		return contract.Operation{}, fmt.Errorf(
			"%w: %d tokens, %d amounts",
			ErrInvalidDeposit,
			len(tokens),
			len(amounts),
		)
	}
	for i, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return contract.Operation{}, fmt.Errorf(
				"%w: amount for %s must be positive",
				ErrInvalidDeposit,
				tokens[i].Hex(),
			)
		}
	}
	if _, err := m.activeGauge(gaugeID); err != nil {
		return contract.Operation{}, err
	}
	return m.submit(ctx, contract.Request{
		Kind:     contract.OperationProvideBribes,
		Actor:    depositor,
		GaugeIDs: []uint64{gaugeID},
		Call:     contract.ProvideBribes(tokens, amounts, gaugeID),
	})
}

// ClaimBribes claims every bribe currently claimable by the voter
func (m *Market) ClaimBribes(ctx context.Context, voter common.Address) (contract.Operation, error) {
	claimable, err := m.ClaimableBribes(ctx, voter)
	if err != nil {
		return contract.Operation{}, err
	}
	if len(claimable) == 0 {
		return contract.Operation{}, ErrNothingToClaim
	}
	return m.submit(ctx, contract.Request{
		Kind:  contract.OperationClaimBribes,
		Actor: voter,
		Call:  contract.ClaimBribes(),
	})
}

func (m *Market) activeGauge(gaugeID uint64) (gauge.Gauge, error) {
	cat := m.config.Gauges.Catalog()
	if cat == nil {
		return gauge.Gauge{}, ErrNoCatalog
	}
	g, ok := cat.Gauge(gaugeID)
	if !ok {
		return gauge.Gauge{}, fmt.Errorf("%w: %d", ErrUnknownGauge, gaugeID)
	}
	if !g.Active {
		return gauge.Gauge{}, fmt.Errorf("%w: %s", ErrInactiveGauge, g.Name)
	}
	return g, nil
}

// submit issues a write and refreshes the market once it confirms
func (m *Market) submit(ctx context.Context, req contract.Request) (contract.Operation, error) {
	if m.config.Submitter == nil {
		return contract.Operation{}, errors.New("no submitter configured")
	}
	req.OnConfirmed = func(op contract.Operation) {
		// The submitting context may be gone by now
		if err := m.Refresh(context.Background()); err != nil {
			m.config.Logger.Error(
				"failed to refresh bribe market after confirmation",
				"component", "bribe",
				"operation", op.ID.String(),
				"error", err,
			)
		}
	}
	return m.config.Submitter.Submit(ctx, req)
}
