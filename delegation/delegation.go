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

// Package delegation reads and changes vote-casting delegation. Only the
// forward mapping delegator to delegate is ever stored; every inverse view
// is derived from it.
package delegation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/event"
	"github.com/ethereum/go-ethereum/common"
)

var ErrSelfDelegation = errors.New("cannot delegate to self")

// Executor runs a group of reads. It is satisfied by *batch.Executor.
type Executor interface {
	Execute(ctx context.Context, calls []contract.Call) ([]contract.Result, error)
}

// Submitter is satisfied by *contract.Submitter
type Submitter interface {
	Submit(ctx context.Context, req contract.Request) (contract.Operation, error)
}

type RegistryConfig struct {
	Executor  Executor
	Submitter Submitter
	EventBus  *event.EventBus
	Logger    *slog.Logger
}

type Registry struct {
	config  RegistryConfig
	mu      sync.RWMutex
	forward map[common.Address]common.Address
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Executor == nil {
		return nil, errors.New("no executor configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Registry{
		config:  cfg,
		forward: make(map[common.Address]common.Address),
	}, nil
}

// GetDelegate returns the delegate of addr as recorded on the ledger. The
// boolean is false when addr has no delegate.
func (r *Registry) GetDelegate(ctx context.Context, addr common.Address) (common.Address, bool, error) {
	delegates, err := r.readDelegates(ctx, []common.Address{addr})
	if err != nil {
		return common.Address{}, false, err
	}
	delegate := delegates[0]
	return delegate, delegate != (common.Address{}), nil
}

// GetDelegators returns exactly the addresses whose delegate is d. The
// contract's reverse list is only used to find candidates; each candidate's
// forward mapping is verified and disagreeing entries are dropped.
func (r *Registry) GetDelegators(ctx context.Context, d common.Address) ([]common.Address, error) {
	if d == (common.Address{}) {
		return nil, nil
	}
	results, err := r.config.Executor.Execute(ctx, []contract.Call{
		contract.GetVotingDelegatorsOf(d),
	})
	if err != nil {
		return nil, fmt.Errorf("read delegators: %w", err)
	}
	candidates, err := results[0].Addresses(0)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(candidates, compareAddress)
	candidates = slices.Compact(candidates)
	if len(candidates) == 0 {
		return nil, nil
	}
	delegates, err := r.readDelegates(ctx, candidates)
	if err != nil {
		return nil, err
	}
	ret := make([]common.Address, 0, len(candidates))
	for i, candidate := range candidates {
		if delegates[i] != d {
			r.config.Logger.Warn(
				"delegator list disagrees with forward delegation, dropping entry",
				"component", "delegation",
				"delegate", d.Hex(),
				"candidate", candidate.Hex(),
				"candidate_delegate", delegates[i].Hex(),
			)
			continue
		}
		ret = append(ret, candidate)
	}
	return ret, nil
}

// readDelegates reads the forward mapping of every address in one batch and
// updates the local cache
func (r *Registry) readDelegates(ctx context.Context, addrs []common.Address) ([]common.Address, error) {
	calls := make([]contract.Call, len(addrs))
	for i, addr := range addrs {
		calls[i] = contract.DelegateOf(addr)
	}
	results, err := r.config.Executor.Execute(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("read delegates: %w", err)
	}
	ret := make([]common.Address, len(addrs))
	for i := range addrs {
		if ret[i], err = results[i].Address(0); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	for i, addr := range addrs {
		r.cacheLocked(addr, ret[i])
	}
	r.mu.Unlock()
	return ret, nil
}

func (r *Registry) cacheLocked(delegator, delegate common.Address) {
	if delegate == (common.Address{}) {
		delete(r.forward, delegator)
		return
	}
	r.forward[delegator] = delegate
}

// CanActFor reports whether actor may cast votes with owner's vote power
func (r *Registry) CanActFor(ctx context.Context, actor, owner common.Address) (bool, error) {
	if actor == owner {
		return true, nil
	}
	delegate, ok, err := r.GetDelegate(ctx, owner)
	if err != nil {
		return false, err
	}
	return ok && delegate == actor, nil
}

// Delegators returns the delegators of d known from previous reads, without
// touching the ledger
func (r *Registry) Delegators(d common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ret []common.Address
	for delegator, delegate := range r.forward {
		if delegate == d {
			ret = append(ret, delegator)
		}
	}
	slices.SortFunc(ret, compareAddress)
	return ret
}

// SetDelegate submits a write making delegate vote on behalf of from. Once
// the write confirms the forward entry is re-read and a delegation change
// event is published.
func (r *Registry) SetDelegate(
	ctx context.Context,
	from common.Address,
	delegate common.Address,
) (contract.Operation, error) {
	if r.config.Submitter == nil {
		return contract.Operation{}, errors.New("no submitter configured")
	}
	if delegate == from {
		return contract.Operation{}, ErrSelfDelegation
	}
	previous, _, err := r.GetDelegate(ctx, from)
	if err != nil {
		return contract.Operation{}, err
	}
	return r.config.Submitter.Submit(ctx, contract.Request{
		Kind:  contract.OperationSetDelegate,
		Actor: from,
		Call:  contract.SetDelegate(delegate),
		OnConfirmed: func(contract.Operation) {
			r.confirmed(from, previous)
		},
	})
}

// RemoveDelegate clears the delegate of from
func (r *Registry) RemoveDelegate(ctx context.Context, from common.Address) (contract.Operation, error) {
	return r.SetDelegate(ctx, from, common.Address{})
}

func (r *Registry) confirmed(delegator, previous common.Address) {
	// The submitting context may be gone by now
	ctx := context.Background()
	current, _, err := r.GetDelegate(ctx, delegator)
	if err != nil {
		r.config.Logger.Error(
			"failed to re-read delegation after confirmation",
			"component", "delegation",
			"delegator", delegator.Hex(),
			"error", err,
		)
		return
	}
	r.config.Logger.Info(
		"delegation changed",
		"component", "delegation",
		"delegator", delegator.Hex(),
		"previous", previous.Hex(),
		"delegate", current.Hex(),
	)
	if r.config.EventBus != nil {
		r.config.EventBus.Publish(
			event.DelegationChangedEventType,
			event.NewEvent(event.DelegationChangedEventType, event.DelegationChangedEvent{
				Delegator: delegator,
				Previous:  previous,
				Delegate:  current,
			}),
		)
	}
}

func compareAddress(a, b common.Address) int {
	return bytes.Compare(a[:], b[:])
}
