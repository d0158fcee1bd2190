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

package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	OperationPendingEventType   = EventType("operation.pending")
	OperationConfirmedEventType = EventType("operation.confirmed")
	OperationRejectedEventType  = EventType("operation.rejected")
	CatalogUpdatedEventType     = EventType("gauge.catalog.updated")
	EpochRolledEventType        = EventType("epoch.rolled")
	DelegationChangedEventType  = EventType("delegation.changed")
)

// OperationEvent reports a state change of a submitted write
type OperationEvent struct {
	ID       string
	Kind     string
	Actor    common.Address
	Owner    common.Address
	GaugeIDs []uint64
	TxHash   common.Hash
	// Error is set for rejected operations
	Error string
}

// CatalogUpdatedEvent is emitted after the gauge catalog has been replaced
type CatalogUpdatedEvent struct {
	ComputedAt time.Time
	EpochEnd   time.Time
	GaugeCount int
	VoterCount int
	// Stale is set when the epoch rolled over while the catalog was computed
	Stale bool
}

// EpochRolledEvent is emitted when the observed epoch end moves
type EpochRolledEvent struct {
	PreviousEnd time.Time
	Start       time.Time
	End         time.Time
	Open        bool
}

// DelegationChangedEvent is emitted after a delegation write confirms.
// Previous and Delegate are the zero address when unset.
type DelegationChangedEvent struct {
	Delegator common.Address
	Previous  common.Address
	Delegate  common.Address
}
