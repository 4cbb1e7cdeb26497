package models

import (
	"time"
)

// TransferStatus is the lifecycle state of a cross-chain transfer
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed" // reserved, never entered
	TransferExecuted  TransferStatus = "executed"
	TransferFailed    TransferStatus = "failed"
)

// Terminal reports whether no further transitions are possible
func (s TransferStatus) Terminal() bool {
	return s == TransferExecuted || s == TransferFailed
}

// Transfer is the read and stored projection of a cross-chain transfer
type Transfer struct {
	Hash                  string         `json:"hash"`
	SourceChain           ChainID        `json:"source_chain"`
	DestChain             ChainID        `json:"dest_chain"`
	Sender                string         `json:"sender"`
	Recipient             string         `json:"recipient"`
	Amount                string         `json:"amount"`
	Nonce                 uint64         `json:"nonce"`
	Status                TransferStatus `json:"status"`
	Confirmations         []string       `json:"confirmations"`
	RequiredConfirmations uint32         `json:"required_confirmations"`
	CreatedAt             time.Time      `json:"created_at"`
	FinalizedAt           *time.Time     `json:"finalized_at,omitempty"`
}

// ChainRegistration is the read and stored projection of a registered chain
type ChainRegistration struct {
	Chain                 ChainID   `json:"chain"`
	Name                  string    `json:"name"`
	Ledger                string    `json:"ledger"`
	RequiredConfirmations uint32    `json:"required_confirmations"`
	Active                bool      `json:"active"`
	RegisteredAt          time.Time `json:"registered_at"`
}

// RouterState is everything needed to rebuild the bridge router apart from
// the ledger handles
type RouterState struct {
	Nonce     uint64              `json:"nonce"`
	Chains    []ChainRegistration `json:"chains"`
	Transfers []Transfer          `json:"transfers"`
}
