// Package units converts between token amounts written in decimal and
// integer base units.
package units

import (
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of fractional digits of a ledger token
const TokenDecimals = 18

// ParseUnits converts a decimal amount such as "1.5" into base units with
// the given number of fractional digits
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", s)
	}
	if d.IsNegative() {
		return nil, errors.Newf("negative amount %q", s)
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, errors.Newf("amount %q has more than %d decimals", s, decimals)
	}
	v, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, errors.Newf("amount %q overflows 256 bits", s)
	}
	return v, nil
}

// FormatUnits renders base units as a decimal amount
func FormatUnits(v *uint256.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}

// ParseTokens converts whole or fractional tokens into base units
func ParseTokens(s string) (*uint256.Int, error) {
	return ParseUnits(s, TokenDecimals)
}

// FormatTokens renders base units as tokens
func FormatTokens(v *uint256.Int) string {
	return FormatUnits(v, TokenDecimals)
}
