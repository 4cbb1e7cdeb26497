package models

import (
	"time"
)

// ValidatorHistory holds one validator's counters for one chain
type ValidatorHistory struct {
	Chain           ChainID `json:"chain"`
	BlocksValidated uint64  `json:"blocks_validated"`
	Confirmations   uint64  `json:"confirmations"`
	Outstanding     uint64  `json:"outstanding"`
}

// Validation records a validator's verdict on a block
type Validation struct {
	Chain       ChainID   `json:"chain"`
	BlockNumber uint64    `json:"block_number"`
	Validator   string    `json:"validator"`
	Valid       bool      `json:"valid"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validator is the read and stored projection of a validator record
type Validator struct {
	Address         string             `json:"address"`
	Stake           string             `json:"stake"`
	SupportedChains []ChainID          `json:"supported_chains"`
	History         []ValidatorHistory `json:"history"`
	Validations     []Validation       `json:"validations,omitempty"`
	RegisteredAt    time.Time          `json:"registered_at"`
	MeetsMinStake   bool               `json:"meets_min_stake"`
}
