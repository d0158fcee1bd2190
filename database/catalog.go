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
	"errors"
	"fmt"
	"math/big"

	"github.com/blinklabs-io/tally/contract"
	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/blinklabs-io/tally/epoch"
	"github.com/blinklabs-io/tally/gauge"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// SaveCatalog replaces the stored catalog snapshot
func (d *Database) SaveCatalog(catalog *gauge.Catalog) error {
	if catalog == nil {
		return errors.New("nil catalog")
	}
	snapshot := models.CatalogSnapshot{
		ID:                1,
		TotalVotePower:    types.NewBigInt(catalog.TotalVotePower),
		VotePowerSum:      types.NewBigInt(catalog.VotePowerSum),
		InsuranceCapacity: types.NewBigInt(catalog.InsuranceCapacity),
		PoolValue:         types.NewBigInt(catalog.PoolValue),
		LeverageFactor:    types.NewBigInt(catalog.LeverageFactor),
		EpochStart:        catalog.Epoch.Start,
		EpochEnd:          catalog.Epoch.End,
		EpochOpen:         catalog.Epoch.Open,
		ComputedAt:        catalog.ComputedAt,
		Stale:             catalog.Stale,
	}
	gauges := make([]models.GaugeSnapshot, 0, len(catalog.Gauges))
	for _, g := range catalog.Gauges {
		gauges = append(gauges, models.GaugeSnapshot{
			GaugeID:        g.ID,
			Name:           g.Name,
			Active:         g.Active,
			CurrentWeight:  types.NewBigInt(g.CurrentWeight),
			NextWeight:     types.NewBigInt(g.NextWeight),
			StartTimestamp: types.Uint64(g.StartTimestamp),
			RateOnLine:     types.NewBigInt(g.RateOnLine),
			Capacity:       types.NewBigInt(g.Capacity),
			Power:          types.NewBigInt(catalog.GaugePower[g.ID]),
		})
	}
	voters := make([]models.VoterSnapshot, 0, len(catalog.Voters))
	for _, v := range catalog.Voters {
		votes := make([]models.VoteSnapshot, 0, len(v.Votes))
		for _, vote := range v.Votes {
			votes = append(votes, models.VoteSnapshot{
				GaugeID:      vote.GaugeID,
				VotePowerBPS: vote.VotePowerBPS,
			})
		}
		voters = append(voters, models.VoterSnapshot{
			Address:          v.Address.Hex(),
			TotalVotePower:   types.NewBigInt(v.TotalVotePower),
			UsedVotePowerBPS: v.UsedVotePowerBPS,
			Votes:            votes,
			Excluded:         v.Excluded,
		})
	}
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&models.VoterSnapshot{},
			&models.GaugeSnapshot{},
			&models.CatalogSnapshot{},
		} {
			if result := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
				Delete(model); result.Error != nil {
				return result.Error
			}
		}
		if result := tx.Create(&snapshot); result.Error != nil {
			return result.Error
		}
		if len(gauges) > 0 {
			if result := tx.CreateInBatches(gauges, 500); result.Error != nil {
				return result.Error
			}
		}
		if len(voters) > 0 {
			if result := tx.CreateInBatches(voters, 500); result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
	if d.metrics != nil {
		if err != nil {
			d.metrics.snapshotWrites.WithLabelValues("failure").Inc()
		} else {
			d.metrics.snapshotWrites.WithLabelValues("success").Inc()
			d.metrics.snapshotGauges.Set(float64(len(gauges)))
		}
	}
	if err != nil {
		return fmt.Errorf("save catalog snapshot: %w", err)
	}
	return nil
}

// LoadCatalog returns the stored catalog snapshot, or ErrNoSnapshot when none
// has been saved
func (d *Database) LoadCatalog() (*gauge.Catalog, error) {
	var snapshot models.CatalogSnapshot
	result := d.db.First(&snapshot)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, result.Error
	}
	var gauges []models.GaugeSnapshot
	if result := d.db.Order("gauge_id").Find(&gauges); result.Error != nil {
		return nil, result.Error
	}
	var voters []models.VoterSnapshot
	if result := d.db.Order("id").Find(&voters); result.Error != nil {
		return nil, result.Error
	}
	catalog := &gauge.Catalog{
		Gauges:            make([]gauge.Gauge, 0, len(gauges)),
		Voters:            make([]gauge.Voter, 0, len(voters)),
		GaugePower:        make(map[uint64]*big.Int, len(gauges)),
		TotalVotePower:    bigOrZero(snapshot.TotalVotePower),
		VotePowerSum:      bigOrZero(snapshot.VotePowerSum),
		InsuranceCapacity: bigOrZero(snapshot.InsuranceCapacity),
		PoolValue:         bigOrZero(snapshot.PoolValue),
		LeverageFactor:    bigOrZero(snapshot.LeverageFactor),
		Epoch: epoch.Epoch{
			Start: snapshot.EpochStart,
			End:   snapshot.EpochEnd,
			Open:  snapshot.EpochOpen,
		},
		ComputedAt: snapshot.ComputedAt,
		Stale:      snapshot.Stale,
	}
	for _, g := range gauges {
		catalog.Gauges = append(catalog.Gauges, gauge.Gauge{
			ID:             g.GaugeID,
			Name:           g.Name,
			Active:         g.Active,
			CurrentWeight:  bigOrZero(g.CurrentWeight),
			NextWeight:     bigOrZero(g.NextWeight),
			StartTimestamp: uint64(g.StartTimestamp),
			RateOnLine:     bigOrZero(g.RateOnLine),
			Capacity:       bigOrZero(g.Capacity),
		})
		catalog.GaugePower[g.GaugeID] = bigOrZero(g.Power)
	}
	for _, v := range voters {
		votes := make([]contract.Vote, 0, len(v.Votes))
		for _, vote := range v.Votes {
			votes = append(votes, contract.Vote{
				GaugeID:      vote.GaugeID,
				VotePowerBPS: vote.VotePowerBPS,
			})
		}
		catalog.Voters = append(catalog.Voters, gauge.Voter{
			Address:          common.HexToAddress(v.Address),
			TotalVotePower:   bigOrZero(v.TotalVotePower),
			UsedVotePowerBPS: v.UsedVotePowerBPS,
			Votes:            votes,
			Excluded:         v.Excluded,
		})
	}
	return catalog, nil
}

func bigOrZero(v types.BigInt) *big.Int {
	if v.Int == nil {
		return new(big.Int)
	}
	return v.Int
}
