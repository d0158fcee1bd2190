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

// Package allocation stages edits to one owner's governance vote allocation
// and reconciles them with the committed votes on the ledger.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"sync"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/blinklabs-io/tally/fixedpoint"
	"github.com/blinklabs-io/tally/gauge"
	"github.com/ethereum/go-ethereum/common"
)

// Executor runs a group of reads. It is satisfied by *batch.Executor.
type Executor interface {
	Execute(ctx context.Context, calls []contract.Call) ([]contract.Result, error)
}

// Submitter is satisfied by *contract.Submitter
type Submitter interface {
	Submit(ctx context.Context, req contract.Request) (contract.Operation, error)
}

// GaugeSource is satisfied by *gauge.Aggregator
type GaugeSource interface {
	Catalog() *gauge.Catalog
}

// EpochSource is satisfied by *epoch.Clock
type EpochSource interface {
	Refresh(ctx context.Context) (epoch.Epoch, error)
}

// Authorizer is satisfied by *delegation.Registry
type Authorizer interface {
	CanActFor(ctx context.Context, actor, owner common.Address) (bool, error)
}

type ManagerConfig struct {
	Executor       Executor
	Submitter      Submitter
	Gauges         GaugeSource
	Epoch          EpochSource
	Delegation     Authorizer
	Logger         *slog.Logger
	VotingContract common.Address
	// Actor signs the writes and Owner is the address whose vote power is
	// allocated. They differ when a delegate votes on the owner's behalf.
	Actor common.Address
	Owner common.Address
}

type snapshot struct {
	committed []contract.Vote
	rows      []row
}

// Manager holds the committed allocation of one owner together with the
// rows staged by one actor
type Manager struct {
	config    ManagerConfig
	mu        sync.Mutex
	loaded    bool
	power     *big.Int
	committed []contract.Vote
	rows      []row
	// revision is bumped on every change to the rows or committed votes. A
	// write is submitted only against the revision it was staged from.
	revision uint64
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Executor == nil {
		return nil, errors.New("no executor configured")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("no submitter configured")
	}
	if cfg.Gauges == nil {
		return nil, errors.New("no gauge source configured")
	}
	if cfg.Epoch == nil {
		return nil, errors.New("no epoch source configured")
	}
	if cfg.Actor == (common.Address{}) {
		return nil, errors.New("no actor configured")
	}
	if cfg.Owner == (common.Address{}) {
		cfg.Owner = cfg.Actor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Manager{
		config: cfg,
		power:  new(big.Int),
	}, nil
}

// IsDelegate reports whether the manager votes on behalf of another owner
func (m *Manager) IsDelegate() bool {
	return m.config.Actor != m.config.Owner
}

func (m *Manager) Actor() common.Address {
	return m.config.Actor
}

func (m *Manager) Owner() common.Address {
	return m.config.Owner
}

// Load reads the owner's committed votes and replaces all staged rows with
// one unmodified row per committed vote
func (m *Manager) Load(ctx context.Context) error {
	if m.IsDelegate() {
		if m.config.Delegation == nil {
			return ErrNotDelegate
		}
		ok, err := m.config.Delegation.CanActFor(ctx, m.config.Actor, m.config.Owner)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf(
				"%w: %s for %s",
				ErrNotDelegate,
				m.config.Actor.Hex(),
				m.config.Owner.Hex(),
			)
		}
	}
	results, err := m.config.Executor.Execute(ctx, []contract.Call{
		contract.GetVotes(m.config.VotingContract, m.config.Owner),
		contract.GetVotePower(m.config.Owner),
	})
	if err != nil {
		return fmt.Errorf("read allocation: %w", err)
	}
	votes, err := results[0].Votes(0)
	if err != nil {
		return err
	}
	power, err := results[1].Uint(0)
	if err != nil {
		return err
	}
	cat := m.config.Gauges.Catalog()
	rows := make([]row, 0, len(votes))
	for _, v := range votes {
		rows = append(rows, committedRow(cat, v))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = true
	m.power = power
	m.committed = votes
	m.rows = rows
	m.revision++
	return nil
}

func committedRow(cat *gauge.Catalog, v contract.Vote) row {
	r := row{
		Row: Row{
			GaugeID:    v.GaugeID,
			Percentage: fixedpoint.FormatBPS(v.VotePowerBPS),
			State:      RowUnmodified,
		},
		bps:       v.VotePowerBPS,
		origin:    v.GaugeID,
		originBPS: v.VotePowerBPS,
	}
	if g, ok := cat.Gauge(v.GaugeID); ok {
		r.GaugeName = g.Name
		r.GaugeActive = g.Active
	}
	return r
}

// VotePower returns the owner's vote power as of the last load
func (m *Manager) VotePower() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.power)
}

// Committed returns the committed votes as currently known, including writes
// that have been submitted but not yet confirmed
func (m *Manager) Committed() []contract.Vote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.committed)
}

func (m *Manager) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]Row, len(m.rows))
	for i, r := range m.rows {
		ret[i] = r.Row
	}
	return ret
}

// StagedTotalBPS sums the percentages of all rows that are not deleted
func (m *Manager) StagedTotalBPS() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stagedTotalLocked(-1, 0)
}

// stagedTotalLocked sums staged BPS, substituting bps for the row at skip
func (m *Manager) stagedTotalLocked(skip int, bps uint64) uint64 {
	var total uint64
	for i, r := range m.rows {
		switch {
		case i == skip:
			total += bps
		case r.State != RowDeleted:
			total += r.bps
		}
	}
	return total
}

// AddEmptyRow appends an added row without a gauge and returns its index
func (m *Manager) AddEmptyRow() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return 0, ErrNotLoaded
	}
	m.rows = append(m.rows, row{Row: Row{State: RowAdded}})
	m.revision++
	return len(m.rows) - 1, nil
}

func (m *Manager) rowLocked(i int) (*row, error) {
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	if i < 0 || i >= len(m.rows) {
		return nil, fmt.Errorf("%w: %d", ErrRowIndex, i)
	}
	return &m.rows[i], nil
}

// AssignGauge points a row at a gauge from the current catalog
func (m *Manager) AssignGauge(i int, gaugeID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rowLocked(i)
	if err != nil {
		return err
	}
	if r.State == RowDeleted {
		return ErrRowDeleted
	}
	g, ok := m.config.Gauges.Catalog().Gauge(gaugeID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownGauge, gaugeID)
	}
	for j, other := range m.rows {
		if j != i && other.State != RowDeleted && other.GaugeID == gaugeID {
			return fmt.Errorf("%w: %d", ErrDuplicateGauge, gaugeID)
		}
	}
	if r.GaugeID == gaugeID {
		return nil
	}
	r.GaugeID = g.ID
	r.GaugeName = g.Name
	r.GaugeActive = g.Active
	if r.State == RowUnmodified {
		r.State = RowEdited
	}
	m.revision++
	return nil
}

// SetPercentage stages a new percentage for a row. The row is left unchanged
// when the value is malformed or would push the staged total above 100%.
func (m *Manager) SetPercentage(i int, value string) error {
	bps, err := parsePercentage(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rowLocked(i)
	if err != nil {
		return err
	}
	if r.State == RowDeleted {
		return ErrRowDeleted
	}
	if total := m.stagedTotalLocked(i, bps); total > fixedpoint.MaxBPS {
		return fmt.Errorf(
			"%w: staged total would be %s%%",
			ErrAllocationExceeded,
			fixedpoint.FormatBPS(total),
		)
	}
	r.Percentage = fixedpoint.FormatBPS(bps)
	r.bps = bps
	if r.State == RowUnmodified {
		r.State = RowEdited
	}
	m.revision++
	return nil
}

// RemoveRow marks a committed row deleted. Rows added locally are dropped.
func (m *Manager) RemoveRow(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rowLocked(i)
	if err != nil {
		return err
	}
	m.revision++
	if r.State == RowAdded {
		m.rows = slices.Delete(m.rows, i, i+1)
		return nil
	}
	r.State = RowDeleted
	return nil
}

// ResetRow restores a row to its committed vote
func (m *Manager) ResetRow(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.rowLocked(i)
	if err != nil {
		return err
	}
	if r.origin == 0 {
		return ErrRowNotCommitted
	}
	for j, other := range m.rows {
		if j != i && other.State != RowDeleted && other.GaugeID == r.origin {
			return fmt.Errorf("%w: %d", ErrDuplicateGauge, r.origin)
		}
	}
	if total := m.stagedTotalLocked(i, r.originBPS); total > fixedpoint.MaxBPS {
		return fmt.Errorf(
			"%w: staged total would be %s%%",
			ErrAllocationExceeded,
			fixedpoint.FormatBPS(total),
		)
	}
	m.rows[i] = committedRow(
		m.config.Gauges.Catalog(),
		contract.Vote{GaugeID: r.origin, VotePowerBPS: r.originBPS},
	)
	m.revision++
	return nil
}

// Validate checks the staged rows against the current catalog
func (m *Manager) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return ErrNotLoaded
	}
	return m.validateLocked(m.changedIndexesLocked())
}

func (m *Manager) changedIndexesLocked() []int {
	var ret []int
	for i, r := range m.rows {
		if r.changed() {
			ret = append(ret, i)
		}
	}
	return ret
}

// validateLocked checks the staged total and that each of the given rows can
// be written. A removal is always allowed, even on an inactive gauge.
func (m *Manager) validateLocked(indexes []int) error {
	if total := m.stagedTotalLocked(-1, 0); total > fixedpoint.MaxBPS {
		return fmt.Errorf(
			"%w: staged total is %s%%",
			ErrAllocationExceeded,
			fixedpoint.FormatBPS(total),
		)
	}
	cat := m.config.Gauges.Catalog()
	for _, i := range indexes {
		r := &m.rows[i]
		if r.State == RowDeleted || r.bps == 0 {
			continue
		}
		if r.GaugeID == 0 {
			return fmt.Errorf("%w: row %d", ErrNoGauge, i)
		}
		g, ok := cat.Gauge(r.GaugeID)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownGauge, r.GaugeID)
		}
		r.GaugeActive = g.Active
		if !g.Active {
			return fmt.Errorf("%w: %s", ErrInactiveGauge, g.Name)
		}
		if m.power.Sign() == 0 {
			return ErrNoVotePower
		}
	}
	return nil
}

// changes returns the votes a row contributes to a write. Removals are
// encoded as zero BPS and come first.
func (r row) changes() []contract.Vote {
	var ret []contract.Vote
	if r.origin != 0 && (r.State == RowDeleted || r.bps == 0 || r.GaugeID != r.origin) {
		ret = append(ret, contract.Vote{GaugeID: r.origin})
	}
	if r.State != RowDeleted && r.bps > 0 && r.GaugeID != 0 &&
		(r.GaugeID != r.origin || r.bps != r.originBPS) {
		ret = append(ret, contract.Vote{GaugeID: r.GaugeID, VotePowerBPS: r.bps})
	}
	return ret
}

// checkOpen reads the epoch. Writes are only issued while voting is open.
func (m *Manager) checkOpen(ctx context.Context) error {
	ep, err := m.config.Epoch.Refresh(ctx)
	if err != nil {
		return err
	}
	if !ep.Open {
		return ErrVotingClosed
	}
	return nil
}

// CommitRow writes a single staged row. A removal is written as removeVote,
// a gauge change as one voteMultiple and anything else as vote.
func (m *Manager) CommitRow(ctx context.Context, i int) (contract.Operation, error) {
	m.mu.Lock()
	r, err := m.rowLocked(i)
	if err == nil && !r.changed() {
		err = ErrNothingToCommit
	}
	if err == nil {
		err = m.validateLocked([]int{i})
	}
	var changes []contract.Vote
	if err == nil {
		if changes = r.changes(); len(changes) == 0 {
			err = ErrNothingToCommit
		}
	}
	rev := m.revision
	m.mu.Unlock()
	if err != nil {
		return contract.Operation{}, err
	}
	if err := m.checkOpen(ctx); err != nil {
		return contract.Operation{}, err
	}

	owner := m.config.Owner
	var kind contract.OperationKind
	var call contract.Call
	switch {
	case len(changes) > 1:
		kind, call = contract.OperationVoteMultiple, contract.CastVoteMultiple(owner, changes)
	case changes[0].VotePowerBPS == 0:
		kind, call = contract.OperationRemoveVote, contract.RemoveVote(owner, changes[0].GaugeID)
	default:
		kind, call = contract.OperationVote, contract.CastVote(owner, changes[0].GaugeID, changes[0].VotePowerBPS)
	}
	return m.submit(ctx, kind, call, changes, []int{i}, rev)
}

// CommitAll writes every changed row in one voteMultiple
func (m *Manager) CommitAll(ctx context.Context) (contract.Operation, error) {
	m.mu.Lock()
	var changes []contract.Vote
	var indexes []int
	err := ErrNotLoaded
	if m.loaded {
		indexes = m.changedIndexesLocked()
		err = m.validateLocked(indexes)
	}
	if err == nil {
		var removals, votes []contract.Vote
		for _, i := range indexes {
			for _, c := range m.rows[i].changes() {
				if c.VotePowerBPS == 0 {
					removals = append(removals, c)
				} else {
					votes = append(votes, c)
				}
			}
		}
		changes = append(removals, votes...)
		if len(changes) == 0 {
			err = ErrNothingToCommit
		}
	}
	rev := m.revision
	m.mu.Unlock()
	if err != nil {
		return contract.Operation{}, err
	}
	if err := m.checkOpen(ctx); err != nil {
		return contract.Operation{}, err
	}
	return m.submit(
		ctx,
		contract.OperationVoteMultiple,
		contract.CastVoteMultiple(m.config.Owner, changes),
		changes,
		indexes,
		rev,
	)
}

// RemoveAll removes every committed vote in one removeVoteMultiple. Rows
// added locally are kept.
func (m *Manager) RemoveAll(ctx context.Context) (contract.Operation, error) {
	m.mu.Lock()
	var changes []contract.Vote
	var indexes []int
	err := ErrNotLoaded
	if m.loaded {
		for _, v := range m.committed {
			changes = append(changes, contract.Vote{GaugeID: v.GaugeID})
		}
		for i, r := range m.rows {
			if r.origin != 0 {
				indexes = append(indexes, i)
			}
		}
		err = nil
		if len(changes) == 0 {
			err = ErrNothingToCommit
		}
	}
	rev := m.revision
	m.mu.Unlock()
	if err != nil {
		return contract.Operation{}, err
	}
	if err := m.checkOpen(ctx); err != nil {
		return contract.Operation{}, err
	}
	gaugeIDs := make([]uint64, len(changes))
	for i, c := range changes {
		gaugeIDs[i] = c.GaugeID
	}
	return m.submit(
		ctx,
		contract.OperationRemoveVoteMultiple,
		contract.RemoveVoteMultiple(m.config.Owner, gaugeIDs),
		changes,
		indexes,
		rev,
	)
}

// submit applies the write optimistically, hands it to the submitter and
// arranges for a reload on confirmation or a rollback on rejection. The write
// is dropped if the rows have changed since rev, when changes and indexes
// were computed.
func (m *Manager) submit(
	ctx context.Context,
	kind contract.OperationKind,
	call contract.Call,
	changes []contract.Vote,
	indexes []int,
	rev uint64,
) (contract.Operation, error) {
	gaugeIDs := make([]uint64, len(changes))
	for i, c := range changes {
		gaugeIDs[i] = c.GaugeID
	}
	m.mu.Lock()
	if m.revision != rev {
		m.mu.Unlock()
		return contract.Operation{}, ErrStagedRowsChanged
	}
	prev := snapshot{
		committed: slices.Clone(m.committed),
		rows:      slices.Clone(m.rows),
	}
	m.applyLocked(changes, indexes)
	m.mu.Unlock()

	op, err := m.config.Submitter.Submit(ctx, contract.Request{
		Kind:     kind,
		Actor:    m.config.Actor,
		Owner:    m.config.Owner,
		GaugeIDs: gaugeIDs,
		Call:     call,
		OnConfirmed: func(op contract.Operation) {
			m.reload(op)
		},
		OnRejected: func(op contract.Operation, err error) {
			m.rollback(prev, op, err)
		},
	})
	if err != nil {
		m.rollback(prev, op, err)
		return op, err
	}
	m.config.Logger.Info(
		"allocation write submitted",
		"component", "allocation",
		"kind", string(kind),
		"actor", m.config.Actor.Hex(),
		"owner", m.config.Owner.Hex(),
		"gauges", gaugeIDs,
		"tx", op.TxHash.Hex(),
	)
	return op, nil
}

// applyLocked updates the committed votes with a write and folds the written
// rows into unmodified rows
func (m *Manager) applyLocked(changes []contract.Vote, indexes []int) {
	for _, c := range changes {
		idx := slices.IndexFunc(m.committed, func(v contract.Vote) bool {
			return v.GaugeID == c.GaugeID
		})
		switch {
		case c.VotePowerBPS == 0 && idx >= 0:
			m.committed = slices.Delete(m.committed, idx, idx+1)
		case c.VotePowerBPS == 0:
		case idx >= 0:
			m.committed[idx] = c
		default:
			m.committed = append(m.committed, c)
		}
	}
	cat := m.config.Gauges.Catalog()
	written := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		written[i] = true
	}
	rows := make([]row, 0, len(m.rows))
	for i, r := range m.rows {
		if !written[i] {
			rows = append(rows, r)
			continue
		}
		if idx := slices.IndexFunc(m.committed, func(v contract.Vote) bool {
			return v.GaugeID == r.GaugeID
		}); idx >= 0 && r.State != RowDeleted {
			rows = append(rows, committedRow(cat, m.committed[idx]))
		}
	}
	m.rows = rows
	m.revision++
}

func (m *Manager) rollback(prev snapshot, op contract.Operation, err error) {
	m.mu.Lock()
	m.committed = prev.committed
	m.rows = prev.rows
	m.revision++
	m.mu.Unlock()
	m.config.Logger.Warn(
		"allocation write rejected, staged state restored",
		"component", "allocation",
		"operation", op.ID.String(),
		"owner", m.config.Owner.Hex(),
		"error", err,
	)
}

func (m *Manager) reload(op contract.Operation) {
	// The submitting context may be gone by now
	if err := m.Load(context.Background()); err != nil {
		m.config.Logger.Error(
			"failed to reload allocation after confirmation",
			"component", "allocation",
			"operation", op.ID.String(),
			"owner", m.config.Owner.Hex(),
			"error", err,
		)
	}
}
