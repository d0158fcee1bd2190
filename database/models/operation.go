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

import "time"

// Operation is the last known state of a submitted write
type Operation struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Kind        string    `gorm:"size:32;index;not null"`
	Actor       string    `gorm:"size:42;index;not null"`
	Owner       string    `gorm:"size:42;not null"`
	GaugeIDs    []uint64  `gorm:"serializer:json"`
	TxHash      string    `gorm:"size:66"`
	Status      string    `gorm:"size:16;index;not null"`
	Error       string    `gorm:"type:text"`
	SubmittedAt time.Time `gorm:"index;not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (Operation) TableName() string {
	return "operation"
}
