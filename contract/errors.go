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
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTransientRead       = errors.New("transient read failure")
	ErrCallReverted        = errors.New("contract call reverted")
	ErrMalformedResult     = errors.New("malformed contract result")
	ErrUnknownMethod       = errors.New("unknown contract method")
	ErrContractUnavailable = errors.New("contract not deployed on the active network")
	ErrWriteRejected       = errors.New("write rejected")
)

// IsPermanent reports whether a read error will not go away by retrying
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedResult) ||
		errors.Is(err, ErrCallReverted) ||
		errors.Is(err, ErrUnknownMethod) ||
		errors.Is(err, ErrContractUnavailable)
}

type WriteRejectedError struct {
	txHash common.Hash
	reason string
}

func NewWriteRejectedError(
	txHash common.Hash,
	reason string,
) WriteRejectedError {
	return WriteRejectedError{
		txHash: txHash,
		reason: reason,
	}
}

func (e WriteRejectedError) TxHash() common.Hash {
	return e.txHash
}

func (e WriteRejectedError) Reason() string {
	return e.reason
}

func (e WriteRejectedError) Error() string {
	if e.txHash == (common.Hash{}) {
		return fmt.Sprintf("write rejected before submission: %s", e.reason)
	}
	return fmt.Sprintf(
		"write %s rejected: %s",
		e.txHash.Hex(),
		e.reason,
	)
}

func (e WriteRejectedError) Is(target error) bool {
	return target == ErrWriteRejected
}
