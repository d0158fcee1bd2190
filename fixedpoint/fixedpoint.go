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

// Package fixedpoint implements exact integer arithmetic for 1e18-scaled
// weights and basis-point percentages. Nothing in this package uses floating
// point. Every helper allocates its result, so callers may freely keep the
// returned values.
package fixedpoint

import (
	"math/big"
	"sort"
)

const (
	// Decimals is the number of fractional digits carried by scaled values
	Decimals = 18
	// MaxBPS is 100.00% expressed in basis points
	MaxBPS uint64 = 10_000
)

var (
	// Scale is 1e18, the fixed-point unit
	Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	maxBPS = new(big.Int).SetUint64(MaxBPS)
)

// Zero returns a new zero value
func Zero() *big.Int {
	return new(big.Int)
}

// FromUint returns n expressed at 1e18 scale
func FromUint(n uint64) *big.Int {
	v := new(big.Int).SetUint64(n)
	return v.Mul(v, Scale)
}

// Clone returns a copy of v, treating nil as zero
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// MulDiv returns a*b/c with the multiplication performed first. A zero or nil
// divisor yields zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return new(big.Int)
	}
	ret := new(big.Int).Mul(a, b)
	return ret.Quo(ret, c)
}

// ApplyBPS returns v*bps/10000
func ApplyBPS(v *big.Int, bps uint64) *big.Int {
	return MulDiv(v, new(big.Int).SetUint64(bps), maxBPS)
}

// Ratio returns a/b at 1e18 scale, or zero when b is zero
func Ratio(a, b *big.Int) *big.Int {
	return MulDiv(a, Scale, b)
}

// Mul multiplies two 1e18-scaled values
func Mul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Scale)
}

// Sum adds all values, treating nil entries as zero
func Sum(values ...*big.Int) *big.Int {
	ret := new(big.Int)
	for _, v := range values {
		if v != nil {
			ret.Add(ret, v)
		}
	}
	return ret
}

// NormalizeWeights converts raw per-key amounts into 1e18-scaled shares of
// their total. When the total is zero every share is zero. The returned map
// has an entry for every input key.
func NormalizeWeights(parts map[uint64]*big.Int) map[uint64]*big.Int {
	keys := make([]uint64, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	// Sorted for a deterministic iteration order
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	total := new(big.Int)
	for _, k := range keys {
		if parts[k] != nil {
			total.Add(total, parts[k])
		}
	}
	ret := make(map[uint64]*big.Int, len(parts))
	for _, k := range keys {
		if total.Sign() <= 0 {
			ret[k] = new(big.Int)
			continue
		}
		ret[k] = Ratio(parts[k], total)
	}
	return ret
}

// ScaleTokenAmount converts a raw token amount with the given number of
// decimals into a 1e18-scaled value. Precision beyond 18 decimals is
// truncated, which is the inherent limit of the scale.
func ScaleTokenAmount(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	switch {
	case decimals == Decimals:
		return new(big.Int).Set(amount)
	case decimals < Decimals:
		return new(big.Int).Mul(amount, pow10(Decimals-int(decimals)))
	default:
		return new(big.Int).Quo(amount, pow10(int(decimals)-Decimals))
	}
}

// TokenUnit returns 10^decimals, the raw amount of one whole token
func TokenUnit(decimals uint8) *big.Int {
	return pow10(int(decimals))
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
