package models

import (
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChainID identifies a chain registered with the bridge (1 = Ethereum, 137 = Polygon, ...)
type ChainID uint64

// String returns the decimal form of the chain ID
func (c ChainID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Principal is an authenticated caller identity
type Principal = common.Address

// Hash identifies blocks, pending transactions and cross-chain transfers
type Hash = chainhash.Hash

// ZeroHash is the previous-hash sentinel of every genesis block
var ZeroHash Hash

// ParseChainID parses a decimal chain ID
func ParseChainID(s string) (ChainID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid chain id %q", s)
	}
	return ChainID(id), nil
}

// ParsePrincipal parses a hex encoded 20-byte address
func ParsePrincipal(s string) (Principal, error) {
	if !common.IsHexAddress(s) {
		return Principal{}, errors.Newf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash parses a hash in its display form
func ParseHash(s string) (Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return Hash{}, errors.Wrapf(err, "invalid hash %q", s)
	}
	return *h, nil
}

// ParseAmount parses a base-unit amount in decimal
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", s)
	}
	return v, nil
}

// FormatAmount renders a base-unit amount in decimal
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
