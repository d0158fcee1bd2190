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

// Package testledger provides an in-memory ledger implementing the contract
// Reader and Writer interfaces for package tests. Writes are applied when
// they are confirmed, mirroring the remote ledger's semantics.
package testledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

type Gauge struct {
	Name       string
	Active     bool
	Weight     *big.Int
	RateOnLine *big.Int
}

type Submission struct {
	From   common.Address
	Call   contract.Call
	TxHash common.Hash
}

type pendingTx struct {
	from common.Address
	call contract.Call
}

type Ledger struct {
	mu sync.Mutex

	VotingContract common.Address

	gauges     []Gauge
	votePower  map[common.Address]*big.Int
	voters     []common.Address
	votes      map[common.Address][]contract.Vote
	delegates  map[common.Address]common.Address
	candidates map[common.Address][]common.Address
	bribes     map[uint64][]contract.Bribe
	bribeVotes map[common.Address][]contract.Vote
	claimable  map[common.Address][]contract.Bribe

	epochStart uint64
	epochEnd   uint64
	votingOpen bool
	capacity   *big.Int
	leverage   *big.Int
	poolValue  *big.Int

	unavailable map[contract.Contract]bool
	malformed   map[string]bool

	failReads    int
	failReadErr  error
	readHook     func([]contract.Call)
	rejectSubmit bool
	rejectWrites bool
	confirmGate  chan struct{}

	batchCalls  int
	methodCalls map[string]int
	submissions []Submission
	pending     map[common.Hash]pendingTx
	txCounter   int64
}

func New() *Ledger {
	return &Ledger{
		VotingContract: common.HexToAddress("0x000000000000000000000000000000000000ba11"),
		votePower:      make(map[common.Address]*big.Int),
		votes:          make(map[common.Address][]contract.Vote),
		delegates:      make(map[common.Address]common.Address),
		candidates:     make(map[common.Address][]common.Address),
		bribes:         make(map[uint64][]contract.Bribe),
		bribeVotes:     make(map[common.Address][]contract.Vote),
		claimable:      make(map[common.Address][]contract.Bribe),
		votingOpen:     true,
		capacity:       new(big.Int),
		leverage:       new(big.Int),
		poolValue:      new(big.Int),
		unavailable:    make(map[contract.Contract]bool),
		malformed:      make(map[string]bool),
		methodCalls:    make(map[string]int),
		pending:        make(map[common.Hash]pendingTx),
	}
}

// AddGauge adds a gauge and returns its ID
func (l *Ledger) AddGauge(name string, active bool) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gauges = append(l.gauges, Gauge{
		Name:       name,
		Active:     active,
		Weight:     new(big.Int),
		RateOnLine: new(big.Int),
	})
	return uint64(len(l.gauges))
}

func (l *Ledger) SetGaugeActive(id uint64, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gauges[id-1].Active = active
}

func (l *Ledger) SetGaugeWeight(id uint64, weight *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gauges[id-1].Weight = new(big.Int).Set(weight)
}

func (l *Ledger) SetRateOnLine(id uint64, rate *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gauges[id-1].RateOnLine = new(big.Int).Set(rate)
}

func (l *Ledger) SetVotePower(voter common.Address, power *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.votePower[voter] = new(big.Int).Set(power)
}

// SetVotes replaces a voter's committed votes without any validation
func (l *Ledger) SetVotes(voter common.Address, votes ...contract.Vote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addVoter(voter)
	l.votes[voter] = slices.Clone(votes)
}

func (l *Ledger) Votes(voter common.Address) []contract.Vote {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.votes[voter])
}

func (l *Ledger) SetEpoch(start, end uint64, open bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epochStart = start
	l.epochEnd = end
	l.votingOpen = open
}

func (l *Ledger) SetVotingOpen(open bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.votingOpen = open
}

func (l *Ledger) SetCapacity(capacity, leverage, poolValue *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capacity = new(big.Int).Set(capacity)
	l.leverage = new(big.Int).Set(leverage)
	l.poolValue = new(big.Int).Set(poolValue)
}

func (l *Ledger) AddBribe(gaugeID uint64, token common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bribes[gaugeID] = append(l.bribes[gaugeID], contract.Bribe{
		Token:  token,
		Amount: new(big.Int).Set(amount),
	})
}

// SetBribeVotes replaces a voter's bribe votes without any validation
func (l *Ledger) SetBribeVotes(voter common.Address, votes ...contract.Vote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bribeVotes[voter] = slices.Clone(votes)
}

func (l *Ledger) BribeVotes(voter common.Address) []contract.Vote {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.bribeVotes[voter])
}

func (l *Ledger) SetClaimable(voter common.Address, bribes ...contract.Bribe) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claimable[voter] = slices.Clone(bribes)
}

func (l *Ledger) Delegate(delegator common.Address) common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delegates[delegator]
}

// SetDelegate changes a delegation directly, bypassing the write path
func (l *Ledger) SetDelegate(delegator, delegate common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setDelegate(delegator, delegate)
}

// AddDelegatorCandidate adds an entry to a delegate's reported delegator list
// without changing the forward mapping, simulating a lagging reverse index
func (l *Ledger) AddDelegatorCandidate(delegate, candidate common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates[delegate] = append(l.candidates[delegate], candidate)
}

func (l *Ledger) SetUnavailable(c contract.Contract, unavailable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable[c] = unavailable
}

// SetMalformed makes reads of a method return a value of the wrong shape
func (l *Ledger) SetMalformed(method string, malformed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.malformed[method] = malformed
}

// FailReads makes the next n BatchCall invocations fail with err. A nil err
// fails with a transient read error.
func (l *Ledger) FailReads(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("%w: injected failure", contract.ErrTransientRead)
	}
	l.failReads = n
	l.failReadErr = err
}

// SetReadHook installs a function called at the start of every BatchCall
func (l *Ledger) SetReadHook(hook func([]contract.Call)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readHook = hook
}

func (l *Ledger) SetRejectSubmit(reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectSubmit = reject
}

// SetRejectWrites makes every submitted write revert on confirmation
func (l *Ledger) SetRejectWrites(reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectWrites = reject
}

// SetConfirmGate holds each confirmation until a value is received from
// gate. Closing the gate releases all confirmations.
func (l *Ledger) SetConfirmGate(gate chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmGate = gate
}

func (l *Ledger) BatchCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batchCalls
}

func (l *Ledger) MethodCalls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.methodCalls[method]
}

func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.submissions)
}

// BatchCall implements contract.Reader
func (l *Ledger) BatchCall(_ context.Context, calls []contract.Call) ([]contract.Result, error) {
	l.mu.Lock()
	hook := l.readHook
	l.mu.Unlock()
	if hook != nil {
		hook(calls)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batchCalls++
	if l.failReads > 0 {
		l.failReads--
		return nil, l.failReadErr
	}
	ret := make([]contract.Result, len(calls))
	for i, call := range calls {
		l.methodCalls[call.Method]++
		if l.unavailable[call.Contract] {
			ret[i] = contract.UnavailableResult()
			continue
		}
		if l.malformed[call.Method] {
			ret[i] = contract.NewResult("malformed")
			continue
		}
		res, err := l.read(call)
		if err != nil {
			return nil, err
		}
		ret[i] = res
	}
	return ret, nil
}

func (l *Ledger) read(call contract.Call) (contract.Result, error) {
	switch call.Method {
	case "getVoters":
		return contract.NewResult(slices.Clone(l.voters)), nil
	case "getVotes":
		voter, err := call.AddressArg(1)
		if err != nil {
			return contract.Result{}, err
		}
		return contract.NewResult(slices.Clone(l.votes[voter])), nil
	case "getGaugeWeight", "getGaugeName", "isGaugeActive", "getRateOnLineOfGauge":
		id, err := call.Uint64Arg(0)
		if err != nil {
			return contract.Result{}, err
		}
		if id == 0 || id > uint64(len(l.gauges)) {
			return contract.Result{}, fmt.Errorf("%s: no gauge %d", call, id)
		}
		g := l.gauges[id-1]
		switch call.Method {
		case "getGaugeWeight":
			return contract.NewResult(new(big.Int).Set(g.Weight)), nil
		case "getGaugeName":
			return contract.NewResult(g.Name), nil
		case "isGaugeActive":
			return contract.NewResult(g.Active), nil
		default:
			return contract.NewResult(new(big.Int).Set(g.RateOnLine)), nil
		}
	case "getAllGaugeWeights":
		weights := make([]*big.Int, len(l.gauges))
		for i, g := range l.gauges {
			weights[i] = new(big.Int).Set(g.Weight)
		}
		return contract.NewResult(weights), nil
	case "totalGauges":
		return uintResult(uint64(len(l.gauges))), nil
	case "getEpochStartTimestamp":
		return uintResult(l.epochStart), nil
	case "getEpochEndTimestamp":
		return uintResult(l.epochEnd), nil
	case "getVotePowerSum":
		sum := new(big.Int)
		for _, p := range l.votePower {
			sum.Add(sum, p)
		}
		return contract.NewResult(sum), nil
	case "getInsuranceCapacity":
		return contract.NewResult(new(big.Int).Set(l.capacity)), nil
	case "leverageFactor":
		return contract.NewResult(new(big.Int).Set(l.leverage)), nil
	case "valueOfPool":
		return contract.NewResult(new(big.Int).Set(l.poolValue)), nil
	case "delegateOf":
		voter, err := call.AddressArg(0)
		if err != nil {
			return contract.Result{}, err
		}
		return contract.NewResult(l.delegates[voter]), nil
	case "getVotingDelegatorsOf":
		delegate, err := call.AddressArg(0)
		if err != nil {
			return contract.Result{}, err
		}
		return contract.NewResult(slices.Clone(l.candidates[delegate])), nil
	case "getVotePower":
		voter, err := call.AddressArg(0)
		if err != nil {
			return contract.Result{}, err
		}
		power := new(big.Int)
		if p, ok := l.votePower[voter]; ok {
			power.Set(p)
		}
		return contract.NewResult(power), nil
	case "usedVotePowerBPSOf":
		voter, err := call.AddressArg(0)
		if err != nil {
			return contract.Result{}, err
		}
		return uintResult(sumBPS(l.votes[voter])), nil
	case "isVotingOpen":
		return contract.NewResult(l.votingOpen), nil
	case "getProvidedBribesForGauge":
		id, err := call.Uint64Arg(0)
		if err != nil {
			return contract.Result{}, err
		}
		return contract.NewResult(cloneBribes(l.bribes[id])), nil
	case "getVotesForVoter":
		voter, err := call.AddressArg(0)
		if err != nil {
			return contract.Result{}, err
		}
		return contract.NewResult(slices.Clone(l.bribeVotes[voter])), nil
	case "getVotesForGauge":
		id, err := call.Uint64Arg(0)
		if err != nil {
			return contract.Result{}, err
		}
		var ret []contract.GaugeVote
		for voter, votes := range l.bribeVotes {
			for _, v := range votes {
				if v.GaugeID == id {
					ret = append(ret, contract.GaugeVote{Voter: voter, VotePowerBPS: v.VotePowerBPS})
				}
			}
		}
		slices.SortFunc(ret, func(a, b contract.GaugeVote) int {
			return bytes.Compare(a.Voter[:], b.Voter[:])
		})
		return contract.NewResult(ret), nil
	case "getClaimableBribes":
		voter, err := call.AddressArg(0)
		if err != nil {
			return contract.Result{}, err
		}
		return contract.NewResult(cloneBribes(l.claimable[voter])), nil
	}
	return contract.Result{}, fmt.Errorf("%w: %s", contract.ErrUnknownMethod, call)
}

// Submit implements contract.Writer
func (l *Ledger) Submit(
	_ context.Context,
	from common.Address,
	call contract.Call,
) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rejectSubmit {
		return common.Hash{}, contract.NewWriteRejectedError(common.Hash{}, "submission refused")
	}
	l.txCounter++
	txHash := common.BigToHash(big.NewInt(l.txCounter))
	l.pending[txHash] = pendingTx{from: from, call: call}
	l.submissions = append(l.submissions, Submission{From: from, Call: call, TxHash: txHash})
	return txHash, nil
}

// WaitConfirmed implements contract.Writer. The write is applied to the
// ledger state when it confirms.
func (l *Ledger) WaitConfirmed(ctx context.Context, txHash common.Hash, _ uint64) error {
	l.mu.Lock()
	gate := l.confirmGate
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.pending[txHash]
	if !ok {
		return contract.NewWriteRejectedError(txHash, "unknown transaction")
	}
	delete(l.pending, txHash)
	if l.rejectWrites {
		return contract.NewWriteRejectedError(txHash, "execution reverted")
	}
	if err := l.apply(tx.from, tx.call); err != nil {
		return contract.NewWriteRejectedError(txHash, err.Error())
	}
	return nil
}

func (l *Ledger) apply(from common.Address, call contract.Call) error {
	switch call.Method {
	case "vote", "voteForBribe":
		voter, err := call.AddressArg(0)
		if err != nil {
			return err
		}
		id, err := call.Uint64Arg(1)
		if err != nil {
			return err
		}
		bps, err := call.Uint64Arg(2)
		if err != nil {
			return err
		}
		return l.applyVotes(call.Method == "voteForBribe", from, voter, []contract.Vote{{GaugeID: id, VotePowerBPS: bps}})
	case "voteMultiple":
		voter, err := call.AddressArg(0)
		if err != nil {
			return err
		}
		ids, err := call.Uint64sArg(1)
		if err != nil {
			return err
		}
		bpss, err := call.Uint64sArg(2)
		if err != nil {
			return err
		}
		if len(ids) != len(bpss) {
			return errors.New("array length mismatch")
		}
		votes := make([]contract.Vote, len(ids))
		for i := range ids {
			votes[i] = contract.Vote{GaugeID: ids[i], VotePowerBPS: bpss[i]}
		}
		return l.applyVotes(false, from, voter, votes)
	case "removeVote", "removeVoteForBribe":
		voter, err := call.AddressArg(0)
		if err != nil {
			return err
		}
		id, err := call.Uint64Arg(1)
		if err != nil {
			return err
		}
		return l.applyVotes(call.Method == "removeVoteForBribe", from, voter, []contract.Vote{{GaugeID: id}})
	case "removeVoteMultiple":
		voter, err := call.AddressArg(0)
		if err != nil {
			return err
		}
		ids, err := call.Uint64sArg(1)
		if err != nil {
			return err
		}
		votes := make([]contract.Vote, len(ids))
		for i, id := range ids {
			votes[i] = contract.Vote{GaugeID: id}
		}
		return l.applyVotes(false, from, voter, votes)
	case "setDelegate":
		delegate, err := call.AddressArg(0)
		if err != nil {
			return err
		}
		l.setDelegate(from, delegate)
		return nil
	case "provideBribes":
		tokens, err := call.AddressesArg(0)
		if err != nil {
			return err
		}
		amounts, err := call.UintsArg(1)
		if err != nil {
			return err
		}
		id, err := call.Uint64Arg(2)
		if err != nil {
			return err
		}
		if len(tokens) != len(amounts) {
			return errors.New("array length mismatch")
		}
		for i := range tokens {
			l.bribes[id] = append(l.bribes[id], contract.Bribe{
				Token:  tokens[i],
				Amount: new(big.Int).Set(amounts[i]),
			})
		}
		return nil
	case "claimBribes":
		if len(l.claimable[from]) == 0 {
			return errors.New("nothing to claim")
		}
		delete(l.claimable, from)
		return nil
	}
	return fmt.Errorf("%w: %s", contract.ErrUnknownMethod, call)
}

func (l *Ledger) applyVotes(
	bribe bool,
	from common.Address,
	voter common.Address,
	changes []contract.Vote,
) error {
	if from != voter && l.delegates[voter] != from {
		return errors.New("not owner or delegate")
	}
	if !bribe && !l.votingOpen {
		return errors.New("voting closed")
	}
	if power, ok := l.votePower[voter]; !ok || power.Sign() == 0 {
		if slices.ContainsFunc(changes, func(v contract.Vote) bool { return v.VotePowerBPS > 0 }) {
			return errors.New("no vote power")
		}
	}
	book := l.votes
	if bribe {
		book = l.bribeVotes
	}
	votes := slices.Clone(book[voter])
	for _, change := range changes {
		if change.GaugeID == 0 || change.GaugeID > uint64(len(l.gauges)) {
			return fmt.Errorf("no gauge %d", change.GaugeID)
		}
		if change.VotePowerBPS > 0 && !l.gauges[change.GaugeID-1].Active {
			return fmt.Errorf("gauge %d is inactive", change.GaugeID)
		}
		idx := slices.IndexFunc(votes, func(v contract.Vote) bool {
			return v.GaugeID == change.GaugeID
		})
		switch {
		case change.VotePowerBPS == 0 && idx >= 0:
			votes = slices.Delete(votes, idx, idx+1)
		case change.VotePowerBPS == 0:
		case idx >= 0:
			votes[idx] = change
		default:
			votes = append(votes, change)
		}
	}
	if sumBPS(votes) > fixedpoint.MaxBPS {
		return errors.New("total vote power exceeds 100%")
	}
	book[voter] = votes
	if !bribe {
		l.addVoter(voter)
	}
	return nil
}

func (l *Ledger) setDelegate(delegator, delegate common.Address) {
	if prev, ok := l.delegates[delegator]; ok {
		l.candidates[prev] = slices.DeleteFunc(l.candidates[prev], func(a common.Address) bool {
			return a == delegator
		})
	}
	if delegate == (common.Address{}) {
		delete(l.delegates, delegator)
		return
	}
	l.delegates[delegator] = delegate
	l.candidates[delegate] = append(l.candidates[delegate], delegator)
}

func (l *Ledger) addVoter(voter common.Address) {
	if !slices.Contains(l.voters, voter) {
		l.voters = append(l.voters, voter)
	}
}

func uintResult(v uint64) contract.Result {
	return contract.NewResult(new(big.Int).SetUint64(v))
}

func sumBPS(votes []contract.Vote) uint64 {
	var sum uint64
	for _, v := range votes {
		sum += v.VotePowerBPS
	}
	return sum
}

func cloneBribes(bribes []contract.Bribe) []contract.Bribe {
	ret := make([]contract.Bribe, len(bribes))
	for i, b := range bribes {
		ret[i] = contract.Bribe{Token: b.Token, Amount: new(big.Int).Set(b.Amount)}
	}
	return ret
}
