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

package database

import (
	"fmt"
	"time"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/database/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// SaveOperation inserts the operation or updates the stored record with the
// same ID
func (d *Database) SaveOperation(op contract.Operation) error {
	m := operationToModel(op)
	result := d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"status", "tx_hash", "error", "updated_at"},
		),
	}).Create(&m)
	if result.Error != nil {
		return fmt.Errorf("save operation %s: %w", op.ID, result.Error)
	}
	if d.metrics != nil {
		d.metrics.operationWrites.WithLabelValues(string(op.Status)).Inc()
	}
	return nil
}

// NotifyOperation records an operation state change. Failures are logged
// since the notifier has no caller to return them to.
func (d *Database) NotifyOperation(op contract.Operation) {
	if err := d.SaveOperation(op); err != nil {
		d.logger.Error(
			"failed to persist operation",
			"component", "database",
			"id", op.ID.String(),
			"kind", string(op.Kind),
			"error", err,
		)
	}
}

// Operation returns the stored operation with the given ID
func (d *Database) Operation(id uuid.UUID) (contract.Operation, bool, error) {
	var m models.Operation
	result := d.db.Where("id = ?", id.String()).Limit(1).Find(&m)
	if result.Error != nil {
		return contract.Operation{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return contract.Operation{}, false, nil
	}
	op, err := operationFromModel(m)
	if err != nil {
		return contract.Operation{}, false, err
	}
	return op, true, nil
}

// PendingOperations returns the operations still awaiting confirmation,
// oldest first
func (d *Database) PendingOperations() ([]contract.Operation, error) {
	var tmp []models.Operation
	result := d.db.Where("status = ?", string(contract.StatusPending)).
		Order("submitted_at, id").
		Find(&tmp)
	if result.Error != nil {
		return nil, result.Error
	}
	return operationsFromModels(tmp)
}

// RecentOperations returns up to limit operations, newest first. A limit of
// zero or less returns all of them.
func (d *Database) RecentOperations(limit int) ([]contract.Operation, error) {
	var tmp []models.Operation
	query := d.db.Order("submitted_at DESC, id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&tmp); result.Error != nil {
		return nil, result.Error
	}
	return operationsFromModels(tmp)
}

// PruneOperations removes confirmed and rejected operations last updated
// before the given time
func (d *Database) PruneOperations(before time.Time) (int64, error) {
	result := d.db.Where(
		"status <> ? AND updated_at < ?",
		string(contract.StatusPending),
		before,
	).Delete(&models.Operation{})
	if result.Error != nil {
		return 0, result.Error
	}
	if d.metrics != nil {
		d.metrics.operationsPruned.Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func operationToModel(op contract.Operation) models.Operation {
	m := models.Operation{
		ID:          op.ID.String(),
		Kind:        string(op.Kind),
		Actor:       op.Actor.Hex(),
		Owner:       op.Owner.Hex(),
		GaugeIDs:    op.GaugeIDs,
		Status:      string(op.Status),
		Error:       op.Error,
		SubmittedAt: op.SubmittedAt,
		UpdatedAt:   op.UpdatedAt,
	}
	if op.TxHash != (common.Hash{}) {
		m.TxHash = op.TxHash.Hex()
	}
	return m
}

func operationFromModel(m models.Operation) (contract.Operation, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return contract.Operation{}, fmt.Errorf("operation id %q: %w", m.ID, err)
	}
	op := contract.Operation{
		ID:          id,
		Kind:        contract.OperationKind(m.Kind),
		Actor:       common.HexToAddress(m.Actor),
		Owner:       common.HexToAddress(m.Owner),
		GaugeIDs:    m.GaugeIDs,
		Status:      contract.OperationStatus(m.Status),
		Error:       m.Error,
		SubmittedAt: m.SubmittedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.TxHash != "" {
		op.TxHash = common.HexToHash(m.TxHash)
	}
	return op, nil
}

func operationsFromModels(tmp []models.Operation) ([]contract.Operation, error) {
	ret := make([]contract.Operation, 0, len(tmp))
	for _, m := range tmp {
		op, err := operationFromModel(m)
		if err != nil {
			return nil, err
		}
		ret = append(ret, op)
	}
	return ret, nil
}
