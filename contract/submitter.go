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
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultConfirmationDepth = 2

type OperationKind string

const (
	OperationVote               OperationKind = "vote"
	OperationVoteMultiple       OperationKind = "voteMultiple"
	OperationRemoveVote         OperationKind = "removeVote"
	OperationRemoveVoteMultiple OperationKind = "removeVoteMultiple"
	OperationSetDelegate        OperationKind = "setDelegate"
	OperationVoteForBribe       OperationKind = "voteForBribe"
	OperationRemoveVoteForBribe OperationKind = "removeVoteForBribe"
	OperationProvideBribes      OperationKind = "provideBribes"
	OperationClaimBribes        OperationKind = "claimBribes"
)

type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusConfirmed OperationStatus = "confirmed"
	StatusRejected  OperationStatus = "rejected"
)

// Operation is the record of one submitted write. Owner is the address whose
// vote power the write acts on, which differs from Actor for delegated votes.
type Operation struct {
	ID          uuid.UUID
	Kind        OperationKind
	Actor       common.Address
	Owner       common.Address
	GaugeIDs    []uint64
	TxHash      common.Hash
	Status      OperationStatus
	Error       string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Notifier receives every operation state change
type Notifier interface {
	NotifyOperation(Operation)
}

// Notifiers fans a notification out to several notifiers in order
type Notifiers []Notifier

func (n Notifiers) NotifyOperation(op Operation) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.NotifyOperation(op)
		}
	}
}

type SubmitterConfig struct {
	Writer            Writer
	Notifier          Notifier
	Logger            *slog.Logger
	PromRegistry      prometheus.Registerer
	ConfirmationDepth uint64
}

// Request describes a write. OnConfirmed or OnRejected is invoked once the
// write has been decided by the ledger. Neither is invoked when submission
// itself fails, in which case Submit returns the error.
type Request struct {
	Kind        OperationKind
	Actor       common.Address
	Owner       common.Address
	GaugeIDs    []uint64
	Call        Call
	OnConfirmed func(Operation)
	OnRejected  func(Operation, error)
}

// Submitter serializes writes per actor and tracks their confirmation.
// Waiting for confirmation is detached from the submitting caller: once a
// write is submitted it completes or fails on its own, and only Close stops
// the wait.
type Submitter struct {
	config    SubmitterConfig
	metrics   *submitterMetrics
	nowFunc   func() time.Time
	mu        sync.Mutex
	actorLock map[common.Address]*sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSubmitter(cfg SubmitterConfig) *Submitter {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = DefaultConfirmationDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Submitter{
		config:    cfg,
		nowFunc:   time.Now,
		actorLock: make(map[common.Address]*sync.Mutex),
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.PromRegistry != nil {
		s.metrics = newSubmitterMetrics(cfg.PromRegistry)
	}
	return s
}

func (s *Submitter) lockActor(actor common.Address) func() {
	s.mu.Lock()
	l, ok := s.actorLock[actor]
	if !ok {
		l = &sync.Mutex{}
		s.actorLock[actor] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Submit hands the write to the ledger and returns the pending operation.
// Consecutive writes by the same actor are not issued until the previous
// one has been submitted.
func (s *Submitter) Submit(ctx context.Context, req Request) (Operation, error) {
	if s.config.Writer == nil {
		return Operation{}, errors.New("no writer configured")
	}
	owner := req.Owner
	if owner == (common.Address{}) {
		owner = req.Actor
	}
	now := s.nowFunc()
	op := Operation{
		ID:          uuid.New(),
		Kind:        req.Kind,
		Actor:       req.Actor,
		Owner:       owner,
		GaugeIDs:    append([]uint64(nil), req.GaugeIDs...),
		Status:      StatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	unlock := s.lockActor(req.Actor)
	txHash, err := s.config.Writer.Submit(ctx, req.Actor, req.Call)
	unlock()
	if err != nil {
		op.Status = StatusRejected
		op.Error = err.Error()
		s.notify(op)
		s.config.Logger.Warn(
			"write submission failed",
			"component", "contract",
			"operation", op.ID.String(),
			"kind", string(op.Kind),
			"error", err,
		)
		return op, err
	}
	op.TxHash = txHash
	s.notify(op)
	s.wg.Add(1)
	go s.awaitConfirmation(ctx, op, req)
	return op, nil
}

func (s *Submitter) awaitConfirmation(ctx context.Context, op Operation, req Request) {
	defer s.wg.Done()
	waitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	err := s.config.Writer.WaitConfirmed(waitCtx, op.TxHash, s.config.ConfirmationDepth)
	if err != nil && !errors.Is(err, ErrWriteRejected) && waitCtx.Err() != nil {
		// Shutting down; the operation stays pending
		s.config.Logger.Info(
			"stopped waiting for confirmation",
			"component", "contract",
			"operation", op.ID.String(),
			"tx", op.TxHash.Hex(),
		)
		return
	}
	op.UpdatedAt = s.nowFunc()
	if err != nil {
		op.Status = StatusRejected
		op.Error = err.Error()
		s.notify(op)
		s.config.Logger.Warn(
			"write rejected",
			"component", "contract",
			"operation", op.ID.String(),
			"kind", string(op.Kind),
			"tx", op.TxHash.Hex(),
			"error", err,
		)
		if req.OnRejected != nil {
			req.OnRejected(op, err)
		}
		return
	}
	op.Status = StatusConfirmed
	s.notify(op)
	s.config.Logger.Debug(
		"write confirmed",
		"component", "contract",
		"operation", op.ID.String(),
		"kind", string(op.Kind),
		"tx", op.TxHash.Hex(),
	)
	if req.OnConfirmed != nil {
		req.OnConfirmed(op)
	}
}

func (s *Submitter) notify(op Operation) {
	if s.metrics != nil {
		s.metrics.operations.WithLabelValues(string(op.Kind), string(op.Status)).Inc()
		switch op.Status {
		case StatusPending:
			s.metrics.pending.Inc()
		case StatusConfirmed, StatusRejected:
			if op.TxHash != (common.Hash{}) {
				s.metrics.pending.Dec()
			}
		}
	}
	if s.config.Notifier != nil {
		s.config.Notifier.NotifyOperation(op)
	}
}

// Wait blocks until every submitted operation has been decided
func (s *Submitter) Wait() {
	s.wg.Wait()
}

// Close stops waiting for outstanding confirmations
func (s *Submitter) Close() {
	s.cancel()
	s.wg.Wait()
}
