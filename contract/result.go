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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Result holds the decoded return values of one call. Values are stored in
// their canonical Go types (*big.Int, bool, string, common.Address,
// []common.Address, []*big.Int, []Vote, []Bribe, []GaugeVote) and the typed
// accessors reject anything else.
//
// A result for a contract that is not deployed is "unavailable": every
// accessor returns the neutral zero value without error.
type Result struct {
	values      []any
	unavailable bool
}

func NewResult(values ...any) Result {
	return Result{values: values}
}

func UnavailableResult() Result {
	return Result{unavailable: true}
}

func (r Result) Available() bool {
	return !r.unavailable
}

func (r Result) Len() int {
	return len(r.values)
}

func (r Result) Uint(i int) (*big.Int, error) {
	if r.unavailable {
		return new(big.Int), nil
	}
	v, err := resultValue[*big.Int](r, i)
	if err != nil {
		return nil, err
	}
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: value %d is not an unsigned integer", ErrMalformedResult, i)
	}
	return new(big.Int).Set(v), nil
}

func (r Result) Uint64(i int) (uint64, error) {
	v, err := r.Uint(i)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: value %d overflows uint64", ErrMalformedResult, i)
	}
	return v.Uint64(), nil
}

func (r Result) Bool(i int) (bool, error) {
	if r.unavailable {
		return false, nil
	}
	return resultValue[bool](r, i)
}

func (r Result) String(i int) (string, error) {
	if r.unavailable {
		return "", nil
	}
	return resultValue[string](r, i)
}

func (r Result) Address(i int) (common.Address, error) {
	if r.unavailable {
		return common.Address{}, nil
	}
	return resultValue[common.Address](r, i)
}

func (r Result) Addresses(i int) ([]common.Address, error) {
	if r.unavailable {
		return nil, nil
	}
	v, err := resultValue[[]common.Address](r, i)
	if err != nil {
		return nil, err
	}
	return append([]common.Address(nil), v...), nil
}

func (r Result) Uints(i int) ([]*big.Int, error) {
	if r.unavailable {
		return nil, nil
	}
	v, err := resultValue[[]*big.Int](r, i)
	if err != nil {
		return nil, err
	}
	ret := make([]*big.Int, len(v))
	for j, item := range v {
		if item == nil || item.Sign() < 0 {
			return nil, fmt.Errorf("%w: value %d[%d] is not an unsigned integer", ErrMalformedResult, i, j)
		}
		ret[j] = new(big.Int).Set(item)
	}
	return ret, nil
}

func (r Result) Votes(i int) ([]Vote, error) {
	if r.unavailable {
		return nil, nil
	}
	v, err := resultValue[[]Vote](r, i)
	if err != nil {
		return nil, err
	}
	return append([]Vote(nil), v...), nil
}

func (r Result) Bribes(i int) ([]Bribe, error) {
	if r.unavailable {
		return nil, nil
	}
	v, err := resultValue[[]Bribe](r, i)
	if err != nil {
		return nil, err
	}
	ret := make([]Bribe, len(v))
	for j, b := range v {
		if b.Amount == nil || b.Amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: bribe %d has no amount", ErrMalformedResult, j)
		}
		ret[j] = Bribe{Token: b.Token, Amount: new(big.Int).Set(b.Amount)}
	}
	return ret, nil
}

func (r Result) GaugeVotes(i int) ([]GaugeVote, error) {
	if r.unavailable {
		return nil, nil
	}
	v, err := resultValue[[]GaugeVote](r, i)
	if err != nil {
		return nil, err
	}
	return append([]GaugeVote(nil), v...), nil
}

func resultValue[T any](r Result, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(r.values) {
		return zero, fmt.Errorf(
			"%w: wanted value %d, result has %d",
			ErrMalformedResult,
			i,
			len(r.values),
		)
	}
	v, ok := r.values[i].(T)
	if !ok {
		return zero, fmt.Errorf(
			"%w: value %d has type %T, wanted %T",
			ErrMalformedResult,
			i,
			r.values[i],
			zero,
		)
	}
	return v, nil
}
