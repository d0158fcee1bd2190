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

package allocation_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/allocation"
	"github.com/blinklabs-io/tally/batch"
	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/delegation"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/gauge"
	"github.com/blinklabs-io/tally/internal/test/testledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

const (
	alpha uint64 = iota + 1
	beta
	gamma
	delta
)

type staticGauges struct {
	catalog *gauge.Catalog
}

func (s staticGauges) Catalog() *gauge.Catalog {
	return s.catalog
}

type testEnv struct {
	ledger    *testledger.Ledger
	submitter *contract.Submitter
	manager   *allocation.Manager
}

func newTestEnv(t require.TestingT, actor, owner common.Address) *testEnv {
	ledger := testledger.New()
	ledger.SetEpoch(1000, 2000, true)
	cat := &gauge.Catalog{}
	for _, g := range []struct {
		name   string
		active bool
	}{
		{"alpha", true},
		{"beta", true},
		{"gamma", false},
		{"delta", true},
	} {
		id := ledger.AddGauge(g.name, g.active)
		cat.Gauges = append(cat.Gauges, gauge.Gauge{ID: id, Name: g.name, Active: g.active})
	}
	ledger.SetVotePower(alice, big.NewInt(1000))
	ledger.SetVotePower(bob, big.NewInt(500))
	exec, err := batch.NewExecutor(batch.Config{
		Reader:    ledger,
		RetryBase: time.Millisecond,
		RetryMax:  2 * time.Millisecond,
	})
	require.NoError(t, err)
	clock, err := epoch.NewClock(epoch.ClockConfig{Executor: exec})
	require.NoError(t, err)
	submitter := contract.NewSubmitter(contract.SubmitterConfig{Writer: ledger})
	registry, err := delegation.NewRegistry(delegation.RegistryConfig{
		Executor:  exec,
		Submitter: submitter,
	})
	require.NoError(t, err)
	manager, err := allocation.NewManager(allocation.ManagerConfig{
		Executor:       exec,
		Submitter:      submitter,
		Gauges:         staticGauges{catalog: cat},
		Epoch:          clock,
		Delegation:     registry,
		VotingContract: ledger.VotingContract,
		Actor:          actor,
		Owner:          owner,
	})
	require.NoError(t, err)
	return &testEnv{ledger: ledger, submitter: submitter, manager: manager}
}

func loadedEnv(t *testing.T, votes ...contract.Vote) *testEnv {
	t.Helper()
	env := newTestEnv(t, alice, alice)
	t.Cleanup(env.submitter.Close)
	if len(votes) > 0 {
		env.ledger.SetVotes(alice, votes...)
	}
	require.NoError(t, env.manager.Load(context.Background()))
	return env
}

func TestLoadMirrorsCommittedVotes(t *testing.T) {
	env := loadedEnv(t,
		contract.Vote{GaugeID: alpha, VotePowerBPS: 2500},
		contract.Vote{GaugeID: beta, VotePowerBPS: 5000},
	)
	assert.Equal(t, []allocation.Row{
		{GaugeID: alpha, GaugeName: "alpha", Percentage: "25", State: allocation.RowUnmodified, GaugeActive: true},
		{GaugeID: beta, GaugeName: "beta", Percentage: "50", State: allocation.RowUnmodified, GaugeActive: true},
	}, env.manager.Rows())
	assert.Equal(t, uint64(7500), env.manager.StagedTotalBPS())
	assert.Equal(t, "1000", env.manager.VotePower().String())
	assert.False(t, env.manager.IsDelegate())
}

func TestOperationsRequireLoad(t *testing.T) {
	env := newTestEnv(t, alice, alice)
	defer env.submitter.Close()
	_, err := env.manager.AddEmptyRow()
	require.ErrorIs(t, err, allocation.ErrNotLoaded)
	require.ErrorIs(t, env.manager.Validate(), allocation.ErrNotLoaded)
	_, err = env.manager.CommitAll(context.Background())
	require.ErrorIs(t, err, allocation.ErrNotLoaded)
}

func TestLoadRequiresDelegation(t *testing.T) {
	env := newTestEnv(t, bob, alice)
	defer env.submitter.Close()
	assert.True(t, env.manager.IsDelegate())
	require.ErrorIs(t, env.manager.Load(context.Background()), allocation.ErrNotDelegate)

	env.ledger.SetDelegate(alice, bob)
	require.NoError(t, env.manager.Load(context.Background()))
}

func TestSetPercentage(t *testing.T) {
	testDefs := []struct {
		name     string
		value    string
		expected string
		err      error
	}{
		{name: "integer", value: "40", expected: "40"},
		{name: "two decimals", value: "12.34", expected: "12.34"},
		{name: "trailing zeros", value: "12.50", expected: "12.5"},
		{name: "zero", value: "0", expected: "0"},
		{name: "fills budget", value: "75", expected: "75"},
		{name: "too many decimals", value: "12.345", err: allocation.ErrPercentageFormat},
		{name: "not a number", value: "abc", err: allocation.ErrPercentageFormat},
		{name: "above 100", value: "100.01", err: allocation.ErrPercentageRange},
		{name: "negative", value: "-1", err: allocation.ErrPercentageRange},
		{name: "over budget", value: "75.01", err: allocation.ErrAllocationExceeded},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 2500})
			idx, err := env.manager.AddEmptyRow()
			require.NoError(t, err)
			require.NoError(t, env.manager.AssignGauge(idx, beta))
			before := env.manager.Rows()
			err = env.manager.SetPercentage(idx, testDef.value)
			if testDef.err != nil {
				require.ErrorIs(t, err, testDef.err)
				assert.Equal(t, before, env.manager.Rows())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testDef.expected, env.manager.Rows()[idx].Percentage)
			assert.Equal(t, allocation.RowAdded, env.manager.Rows()[idx].State)
		})
	}
}

func TestRowTransitions(t *testing.T) {
	env := loadedEnv(t,
		contract.Vote{GaugeID: alpha, VotePowerBPS: 2500},
		contract.Vote{GaugeID: beta, VotePowerBPS: 5000},
	)
	m := env.manager

	require.NoError(t, m.SetPercentage(0, "30"))
	assert.Equal(t, allocation.RowEdited, m.Rows()[0].State)

	require.ErrorIs(t, m.AssignGauge(0, beta), allocation.ErrDuplicateGauge)
	require.ErrorIs(t, m.AssignGauge(0, 99), allocation.ErrUnknownGauge)
	require.ErrorIs(t, m.AssignGauge(5, delta), allocation.ErrRowIndex)

	require.NoError(t, m.RemoveRow(1))
	assert.Equal(t, allocation.RowDeleted, m.Rows()[1].State)
	assert.Equal(t, uint64(3000), m.StagedTotalBPS())
	require.ErrorIs(t, m.SetPercentage(1, "10"), allocation.ErrRowDeleted)

	idx, err := m.AddEmptyRow()
	require.NoError(t, err)
	require.NoError(t, m.AssignGauge(idx, beta), "gauge of a deleted row can be reused")
	require.NoError(t, m.SetPercentage(idx, "70"))
	require.ErrorIs(t, m.ResetRow(1), allocation.ErrDuplicateGauge)
	require.ErrorIs(t, m.ResetRow(idx), allocation.ErrRowNotCommitted)

	require.NoError(t, m.RemoveRow(idx))
	assert.Len(t, m.Rows(), 2, "added rows are dropped on removal")

	require.NoError(t, m.ResetRow(1))
	require.NoError(t, m.ResetRow(0))
	assert.Equal(t, []allocation.Row{
		{GaugeID: alpha, GaugeName: "alpha", Percentage: "25", State: allocation.RowUnmodified, GaugeActive: true},
		{GaugeID: beta, GaugeName: "beta", Percentage: "50", State: allocation.RowUnmodified, GaugeActive: true},
	}, m.Rows())
}

func TestResetRowRespectsBudget(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 6000})
	m := env.manager
	require.NoError(t, m.RemoveRow(0))
	idx, err := m.AddEmptyRow()
	require.NoError(t, err)
	require.NoError(t, m.AssignGauge(idx, beta))
	require.NoError(t, m.SetPercentage(idx, "60"))
	require.ErrorIs(t, m.ResetRow(0), allocation.ErrAllocationExceeded)
	assert.Equal(t, allocation.RowDeleted, m.Rows()[0].State)
}

func TestStagedTotalNeverExceedsBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(t, alice, alice)
		defer env.submitter.Close()
		require.NoError(t, env.manager.Load(context.Background()))
		m := env.manager
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for range steps {
			numRows := len(m.Rows())
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				_, err := m.AddEmptyRow()
				require.NoError(t, err)
			case 1:
				if numRows == 0 {
					continue
				}
				idx := rapid.IntRange(0, numRows-1).Draw(t, "row")
				value := rapid.OneOf(
					rapid.Custom(func(t *rapid.T) string {
						return fixedpoint.FormatBPS(rapid.Uint64Range(0, fixedpoint.MaxBPS).Draw(t, "bps"))
					}),
					rapid.StringMatching(`-?[0-9]{1,3}(\.[0-9]{0,3})?`),
				).Draw(t, "value")
				_ = m.SetPercentage(idx, value)
			case 2:
				if numRows == 0 {
					continue
				}
				_ = m.RemoveRow(rapid.IntRange(0, numRows-1).Draw(t, "row"))
			case 3:
				if numRows == 0 {
					continue
				}
				idx := rapid.IntRange(0, numRows-1).Draw(t, "row")
				_ = m.AssignGauge(idx, rapid.Uint64Range(alpha, delta).Draw(t, "gauge"))
			}
			var total uint64
			for _, row := range m.Rows() {
				if row.State == allocation.RowDeleted || row.Percentage == "" {
					continue
				}
				bps, err := fixedpoint.ParsePercent(row.Percentage)
				require.NoError(t, err)
				total += bps
			}
			if total > fixedpoint.MaxBPS || m.StagedTotalBPS() != total {
				t.Fatalf("staged total %d (reported %d) exceeds budget", total, m.StagedTotalBPS())
			}
		}
	})
}

func TestCommitRowVote(t *testing.T) {
	env := loadedEnv(t)
	m := env.manager
	idx, err := m.AddEmptyRow()
	require.NoError(t, err)
	require.NoError(t, m.AssignGauge(idx, alpha))
	require.NoError(t, m.SetPercentage(idx, "40.25"))

	op, err := m.CommitRow(context.Background(), idx)
	require.NoError(t, err)
	assert.Equal(t, contract.OperationVote, op.Kind)
	assert.Equal(t, []uint64{alpha}, op.GaugeIDs)
	assert.Equal(t, allocation.RowUnmodified, m.Rows()[0].State)
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 4025}}, m.Committed())

	env.submitter.Wait()
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 4025}}, env.ledger.Votes(alice))
	subs := env.ledger.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "vote", subs[0].Call.Method)
	assert.Equal(t, alice, subs[0].From)

	_, err = m.CommitRow(context.Background(), 0)
	require.ErrorIs(t, err, allocation.ErrNothingToCommit)
}

func TestCommitRowGaugeChange(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 2500})
	require.NoError(t, env.manager.AssignGauge(0, beta))
	op, err := env.manager.CommitRow(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, contract.OperationVoteMultiple, op.Kind)
	env.submitter.Wait()
	assert.Equal(t, []contract.Vote{{GaugeID: beta, VotePowerBPS: 2500}}, env.ledger.Votes(alice))
}

func TestCommitVotingClosed(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 2500})
	env.ledger.SetVotingOpen(false)
	require.NoError(t, env.manager.SetPercentage(0, "30"))
	before := env.manager.Rows()

	_, err := env.manager.CommitRow(context.Background(), 0)
	require.ErrorIs(t, err, allocation.ErrVotingClosed)
	_, err = env.manager.CommitAll(context.Background())
	require.ErrorIs(t, err, allocation.ErrVotingClosed)
	_, err = env.manager.RemoveAll(context.Background())
	require.ErrorIs(t, err, allocation.ErrVotingClosed)

	assert.Empty(t, env.ledger.Submissions())
	assert.Equal(t, before, env.manager.Rows())
}

func TestInactiveGaugeOnlyAllowsRemoval(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: gamma, VotePowerBPS: 1000})
	m := env.manager
	require.NoError(t, m.SetPercentage(0, "20"))
	_, err := m.CommitRow(context.Background(), 0)
	require.ErrorIs(t, err, allocation.ErrInactiveGauge)
	require.ErrorIs(t, m.Validate(), allocation.ErrInactiveGauge)

	require.NoError(t, m.SetPercentage(0, "0"))
	op, err := m.CommitRow(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, contract.OperationRemoveVote, op.Kind)
	env.submitter.Wait()
	assert.Empty(t, env.ledger.Votes(alice))
	assert.Empty(t, m.Rows())
}

func TestCommitAll(t *testing.T) {
	env := loadedEnv(t,
		contract.Vote{GaugeID: alpha, VotePowerBPS: 2500},
		contract.Vote{GaugeID: beta, VotePowerBPS: 5000},
	)
	m := env.manager
	require.NoError(t, m.RemoveRow(0))
	require.NoError(t, m.SetPercentage(1, "30"))
	idx, err := m.AddEmptyRow()
	require.NoError(t, err)
	require.NoError(t, m.AssignGauge(idx, delta))
	require.NoError(t, m.SetPercentage(idx, "20"))

	op, err := m.CommitAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contract.OperationVoteMultiple, op.Kind)
	assert.Equal(t, []uint64{alpha, beta, delta}, op.GaugeIDs)

	subs := env.ledger.Submissions()
	require.Len(t, subs, 1)
	ids, err := subs[0].Call.Uint64sArg(1)
	require.NoError(t, err)
	bpss, err := subs[0].Call.Uint64sArg(2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{alpha, beta, delta}, ids)
	assert.Equal(t, []uint64{0, 3000, 2000}, bpss)

	env.submitter.Wait()
	assert.ElementsMatch(t, []contract.Vote{
		{GaugeID: beta, VotePowerBPS: 3000},
		{GaugeID: delta, VotePowerBPS: 2000},
	}, env.ledger.Votes(alice))
	for _, row := range m.Rows() {
		assert.Equal(t, allocation.RowUnmodified, row.State)
	}
	assert.Equal(t, uint64(5000), m.StagedTotalBPS())
}

func TestRemoveAll(t *testing.T) {
	env := loadedEnv(t,
		contract.Vote{GaugeID: alpha, VotePowerBPS: 2500},
		contract.Vote{GaugeID: beta, VotePowerBPS: 5000},
	)
	op, err := env.manager.RemoveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contract.OperationRemoveVoteMultiple, op.Kind)
	assert.Empty(t, env.manager.Rows())
	env.submitter.Wait()
	assert.Empty(t, env.ledger.Votes(alice))

	_, err = env.manager.RemoveAll(context.Background())
	require.ErrorIs(t, err, allocation.ErrNothingToCommit)
}

func TestRejectedWriteRollsBack(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 2500})
	env.ledger.SetRejectWrites(true)
	m := env.manager
	require.NoError(t, m.SetPercentage(0, "30"))
	before := m.Rows()

	_, err := m.CommitRow(context.Background(), 0)
	require.NoError(t, err)
	env.submitter.Wait()
	assert.Equal(t, before, m.Rows())
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 2500}}, m.Committed())
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 2500}}, env.ledger.Votes(alice))
}

func TestSubmissionFailureRollsBack(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 2500})
	env.ledger.SetRejectSubmit(true)
	require.NoError(t, env.manager.SetPercentage(0, "30"))
	before := env.manager.Rows()
	_, err := env.manager.CommitRow(context.Background(), 0)
	require.ErrorIs(t, err, contract.ErrWriteRejected)
	assert.Equal(t, before, env.manager.Rows())
}

func TestDelegateCommit(t *testing.T) {
	env := newTestEnv(t, bob, alice)
	defer env.submitter.Close()
	env.ledger.SetDelegate(alice, bob)
	require.NoError(t, env.manager.Load(context.Background()))
	idx, err := env.manager.AddEmptyRow()
	require.NoError(t, err)
	require.NoError(t, env.manager.AssignGauge(idx, alpha))
	require.NoError(t, env.manager.SetPercentage(idx, "100"))

	op, err := env.manager.CommitRow(context.Background(), idx)
	require.NoError(t, err)
	assert.Equal(t, bob, op.Actor)
	assert.Equal(t, alice, op.Owner)
	env.submitter.Wait()

	subs := env.ledger.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, bob, subs[0].From)
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 10000}}, env.ledger.Votes(alice))
	assert.Empty(t, env.ledger.Votes(bob))
}

func TestNoVotePower(t *testing.T) {
	env := newTestEnv(t, common.HexToAddress("0xc0ffee"), common.Address{})
	defer env.submitter.Close()
	require.NoError(t, env.manager.Load(context.Background()))
	idx, err := env.manager.AddEmptyRow()
	require.NoError(t, err)
	require.NoError(t, env.manager.AssignGauge(idx, alpha))
	require.NoError(t, env.manager.SetPercentage(idx, "10"))
	_, err = env.manager.CommitRow(context.Background(), idx)
	require.ErrorIs(t, err, allocation.ErrNoVotePower)
}

// editDuringNextRead runs edit once, while the next ledger read is in
// flight, and returns a function reporting its error
func editDuringNextRead(env *testEnv, edit func() error) func() error {
	var once sync.Once
	var editErr error
	env.ledger.SetReadHook(func([]contract.Call) {
		once.Do(func() {
			editErr = edit()
		})
	})
	return func() error {
		env.ledger.SetReadHook(nil)
		return editErr
	}
}

func TestCommitRowRowsChangedDuringEpochRead(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 2500})
	m := env.manager
	for _, added := range []struct {
		gaugeID uint64
		pct     string
	}{
		{beta, "10"},
		{delta, "20"},
	} {
		idx, err := m.AddEmptyRow()
		require.NoError(t, err)
		require.NoError(t, m.AssignGauge(idx, added.gaugeID))
		require.NoError(t, m.SetPercentage(idx, added.pct))
	}
	// Dropping the beta row moves the delta row from index 2 to 1
	editErr := editDuringNextRead(env, func() error {
		return m.RemoveRow(1)
	})

	_, err := m.CommitRow(context.Background(), 2)
	require.ErrorIs(t, err, allocation.ErrStagedRowsChanged)
	require.NoError(t, editErr())
	assert.Empty(t, env.ledger.Submissions())
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 2500}}, m.Committed())
	rows := m.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, delta, rows[1].GaugeID)
	assert.Equal(t, allocation.RowAdded, rows[1].State)

	// The edit is kept and the row commits at its new index
	_, err = m.CommitRow(context.Background(), 1)
	require.NoError(t, err)
	env.submitter.Wait()
	assert.ElementsMatch(t, []contract.Vote{
		{GaugeID: alpha, VotePowerBPS: 2500},
		{GaugeID: delta, VotePowerBPS: 2000},
	}, env.ledger.Votes(alice))
}

func TestCommitAllRowsChangedDuringEpochRead(t *testing.T) {
	env := loadedEnv(t, contract.Vote{GaugeID: alpha, VotePowerBPS: 2500})
	m := env.manager
	require.NoError(t, m.SetPercentage(0, "30"))
	editErr := editDuringNextRead(env, func() error {
		return m.SetPercentage(0, "40")
	})

	_, err := m.CommitAll(context.Background())
	require.ErrorIs(t, err, allocation.ErrStagedRowsChanged)
	require.NoError(t, editErr())
	assert.Empty(t, env.ledger.Submissions())
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 2500}}, m.Committed())
	assert.Equal(t, allocation.RowEdited, m.Rows()[0].State)
	assert.Equal(t, uint64(4000), m.StagedTotalBPS())

	_, err = m.CommitAll(context.Background())
	require.NoError(t, err)
	env.submitter.Wait()
	assert.Equal(t, []contract.Vote{{GaugeID: alpha, VotePowerBPS: 4000}}, env.ledger.Votes(alice))
}
