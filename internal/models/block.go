package models

import (
	"time"
)

// Block is the stored and served form of a ledger block
type Block struct {
	Chain        ChainID   `json:"chain"`
	Number       uint64    `json:"number"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash"`
	Timestamp    time.Time `json:"timestamp"`
	Validator    string    `json:"validator"`
	Payload      []byte    `json:"payload"`
	Transactions []string  `json:"transactions"`
}

// PendingTransaction is a created but unsettled transfer in a ledger's pool
type PendingTransaction struct {
	Hash      string    `json:"hash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	Nonce     uint64    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitResult reports how a submitted block settled the pool
type SubmitResult struct {
	Block   *Block   `json:"block"`
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
	Dropped int      `json:"dropped"`
}
