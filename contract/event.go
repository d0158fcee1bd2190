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
	"github.com/blinklabs-io/tally/event"
)

// EventNotifier publishes operation state changes on the event bus
type EventNotifier struct {
	EventBus *event.EventBus
}

func (n EventNotifier) NotifyOperation(op Operation) {
	if n.EventBus == nil {
		return
	}
	var evtType event.EventType
	switch op.Status {
	case StatusPending:
		evtType = event.OperationPendingEventType
	case StatusConfirmed:
		evtType = event.OperationConfirmedEventType
	case StatusRejected:
		evtType = event.OperationRejectedEventType
	default:
		return
	}
	n.EventBus.Publish(
		evtType,
		event.NewEvent(evtType, event.OperationEvent{
			ID:       op.ID.String(),
			Kind:     string(op.Kind),
			Actor:    op.Actor,
			Owner:    op.Owner,
			GaugeIDs: append([]uint64(nil), op.GaugeIDs...),
			TxHash:   op.TxHash,
			Error:    op.Error,
		}),
	)
}
