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

package models

import (
	"time"

	"github.com/blinklabs-io/tally/database/types"
)

// CatalogSnapshot holds the catalog-wide values of the last published gauge
// catalog. Only one row is kept.
type CatalogSnapshot struct {
	ID                uint         `gorm:"primarykey"`
	TotalVotePower    types.BigInt `gorm:"not null"`
	VotePowerSum      types.BigInt `gorm:"not null"`
	InsuranceCapacity types.BigInt `gorm:"not null"`
	PoolValue         types.BigInt `gorm:"not null"`
	LeverageFactor    types.BigInt `gorm:"not null"`
	EpochStart        time.Time
	EpochEnd          time.Time
	EpochOpen         bool
	ComputedAt        time.Time `gorm:"not null"`
	Stale             bool
}

func (CatalogSnapshot) TableName() string {
	return "catalog_snapshot"
}

// GaugeSnapshot is one gauge of the stored catalog
type GaugeSnapshot struct {
	ID             uint         `gorm:"primarykey"`
	GaugeID        uint64       `gorm:"uniqueIndex;not null"`
	Name           string       `gorm:"size:255"`
	Active         bool         `gorm:"not null"`
	CurrentWeight  types.BigInt `gorm:"not null"`
	NextWeight     types.BigInt `gorm:"not null"`
	StartTimestamp types.Uint64 `gorm:"not null"`
	RateOnLine     types.BigInt `gorm:"not null"`
	Capacity       types.BigInt `gorm:"not null"`
	Power          types.BigInt `gorm:"not null"`
}

func (GaugeSnapshot) TableName() string {
	return "gauge_snapshot"
}

// VoterSnapshot is one voter of the stored catalog. Votes holds the
// (gauge id, bps) pairs of the voter's allocation.
type VoterSnapshot struct {
	ID               uint           `gorm:"primarykey"`
	Address          string         `gorm:"size:42;index;not null"`
	TotalVotePower   types.BigInt   `gorm:"not null"`
	UsedVotePowerBPS uint64         `gorm:"not null"`
	Votes            []VoteSnapshot `gorm:"serializer:json"`
	Excluded         bool
}

func (VoterSnapshot) TableName() string {
	return "voter_snapshot"
}

type VoteSnapshot struct {
	GaugeID      uint64 `json:"gaugeId"`
	VotePowerBPS uint64 `json:"votePowerBps"`
}
