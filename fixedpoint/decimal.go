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

package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// PercentDecimals is the number of fractional digits accepted for percentages
const PercentDecimals = 2

var (
	ErrInvalidDecimal  = errors.New("invalid decimal string")
	ErrTooManyDecimals = errors.New("too many decimal places")
	ErrPercentRange    = errors.New("percentage must be between 0 and 100")
)

// ParseDecimal parses a non-negative decimal string such as "12.5" into an
// integer scaled by 10^decimals. Inputs with more fractional digits than
// allowed are rejected rather than truncated.
func ParseDecimal(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidDecimal
	}
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && fracPart == "" && intPart == "" {
		return nil, ErrInvalidDecimal
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (hasDot && fracPart != "" && !isDigits(fracPart)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	if len(fracPart) > decimals {
		return nil, fmt.Errorf(
			"%w: %q allows at most %d",
			ErrTooManyDecimals,
			s,
			decimals,
		)
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))
	ret, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return ret, nil
}

// FormatDecimal renders an integer scaled by 10^decimals as a decimal string
// with trailing fractional zeros removed
func FormatDecimal(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if decimals > 0 {
		if len(digits) <= decimals {
			digits = strings.Repeat("0", decimals-len(digits)+1) + digits
		}
		intPart := digits[:len(digits)-decimals]
		fracPart := strings.TrimRight(digits[len(digits)-decimals:], "0")
		digits = intPart
		if fracPart != "" {
			digits += "." + fracPart
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// ParsePercent converts a percentage string in the range 0-100 with at most
// two decimal places into basis points. "12.34" yields 1234, the same value
// as floor(percent*100) for every accepted input.
func ParsePercent(s string) (uint64, error) {
	v, err := ParseDecimal(s, PercentDecimals)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() || v.Uint64() > MaxBPS {
		return 0, fmt.Errorf("%w: %q", ErrPercentRange, s)
	}
	return v.Uint64(), nil
}

// FormatBPS renders basis points as a percentage string, e.g. 1250 -> "12.5"
func FormatBPS(bps uint64) string {
	return FormatDecimal(new(big.Int).SetUint64(bps), PercentDecimals)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
