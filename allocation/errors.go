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

import "errors"

var (
	ErrNotLoaded          = errors.New("allocation not loaded")
	ErrNotDelegate        = errors.New("actor is not the owner's delegate")
	ErrVotingClosed       = errors.New("voting is closed for the current epoch")
	ErrAllocationExceeded = errors.New("staged allocation exceeds 100%")
	ErrInactiveGauge      = errors.New("gauge is inactive")
	ErrUnknownGauge       = errors.New("unknown gauge")
	ErrDuplicateGauge     = errors.New("gauge already used by another row")
	ErrNoGauge            = errors.New("row has no gauge")
	ErrPercentageFormat   = errors.New("invalid percentage")
	ErrPercentageRange    = errors.New("percentage must be between 0 and 100")
	ErrRowIndex           = errors.New("row index out of range")
	ErrRowDeleted         = errors.New("row is deleted")
	ErrRowNotCommitted    = errors.New("row has no committed vote")
	ErrNothingToCommit    = errors.New("nothing to commit")
	ErrNoVotePower        = errors.New("owner has no vote power")
	ErrStagedRowsChanged  = errors.New("staged rows changed while the write was prepared")
)
