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

package allocation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blinklabs-io/tally/fixedpoint"
)

type RowState int

const (
	RowUnmodified RowState = iota
	RowAdded
	RowEdited
	RowDeleted
)

func (s RowState) String() string {
	switch s {
	case RowUnmodified:
		return "unmodified"
	case RowAdded:
		return "added"
	case RowEdited:
		return "edited"
	case RowDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("RowState(%d)", int(s))
	}
}

// Row is one staged entry of an allocation. Percentage is a decimal string
// between 0 and 100 with at most two decimal places; empty means zero.
type Row struct {
	GaugeID     uint64
	GaugeName   string
	Percentage  string
	State       RowState
	GaugeActive bool
}

// row carries the committed vote a staged row started from. origin is zero
// for rows that were added locally.
type row struct {
	Row
	bps       uint64
	origin    uint64
	originBPS uint64
}

func (r row) changed() bool {
	return r.State != RowUnmodified
}

// parsePercentage converts a staged percentage into basis points
func parsePercentage(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if strings.HasPrefix(value, "-") {
		return 0, fmt.Errorf("%w: %q", ErrPercentageRange, value)
	}
	bps, err := fixedpoint.ParsePercent(value)
	switch {
	case errors.Is(err, fixedpoint.ErrPercentRange):
		return 0, fmt.Errorf("%w: %q", ErrPercentageRange, value)
	case err != nil:
		return 0, fmt.Errorf("%w: %w", ErrPercentageFormat, err)
	}
	return bps, nil
}
