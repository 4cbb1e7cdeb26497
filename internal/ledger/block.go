package ledger

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/models"
)

// GenesisPayload is the payload of block 0 on every ledger
var GenesisPayload = []byte("genesis")

// Block is an immutable, hash-linked batch of settled transactions
type Block struct {
	Number       uint64
	Hash         models.Hash
	PreviousHash models.Hash
	Timestamp    time.Time
	Validator    models.Principal
	Payload      []byte
	Transactions []models.Hash
}

func putUint64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

// CalculateHash hashes the previous hash, number, timestamp, submitter,
// payload and transaction hashes. The stored Hash field is not an input.
func (b *Block) CalculateHash() models.Hash {
	var buf bytes.Buffer
	buf.Write(b.PreviousHash[:])
	putUint64(&buf, b.Number)
	putUint64(&buf, uint64(b.Timestamp.Unix()))
	buf.Write(b.Validator[:])
	putUint64(&buf, uint64(len(b.Payload)))
	buf.Write(b.Payload)
	putUint64(&buf, uint64(len(b.Transactions)))
	for _, h := range b.Transactions {
		buf.Write(h[:])
	}
	return chainhash.DoubleHashH(buf.Bytes())
}

// Model returns the served form of the block
func (b *Block) Model(chain models.ChainID) *models.Block {
	txs := make([]string, len(b.Transactions))
	for i, h := range b.Transactions {
		txs[i] = h.String()
	}
	payload := make([]byte, len(b.Payload))
	copy(payload, b.Payload)
	return &models.Block{
		Chain:        chain,
		Number:       b.Number,
		Hash:         b.Hash.String(),
		PreviousHash: b.PreviousHash.String(),
		Timestamp:    b.Timestamp,
		Validator:    b.Validator.Hex(),
		Payload:      payload,
		Transactions: txs,
	}
}

// blockFromModel rebuilds a block keeping its stored hash as is
func blockFromModel(m *models.Block) (*Block, error) {
	hash, err := models.ParseHash(m.Hash)
	if err != nil {
		return nil, err
	}
	prev, err := models.ParseHash(m.PreviousHash)
	if err != nil {
		return nil, err
	}
	validator, err := models.ParsePrincipal(m.Validator)
	if err != nil {
		return nil, err
	}
	txs := make([]models.Hash, len(m.Transactions))
	for i, s := range m.Transactions {
		if txs[i], err = models.ParseHash(s); err != nil {
			return nil, err
		}
	}
	return &Block{
		Number:       m.Number,
		Hash:         hash,
		PreviousHash: prev,
		Timestamp:    m.Timestamp.UTC(),
		Validator:    validator,
		Payload:      m.Payload,
		Transactions: txs,
	}, nil
}

// pendingTx is an intent to transfer, settled only when a block includes it
type pendingTx struct {
	hash      models.Hash
	from      models.Principal
	to        models.Principal
	amount    *uint256.Int
	nonce     uint64
	createdAt time.Time
}

// TransactionHash is the deterministic identity of a pending transaction
func TransactionHash(chain models.ChainID, from, to models.Principal, amount *uint256.Int, nonce uint64) models.Hash {
	var buf bytes.Buffer
	buf.Write(from[:])
	buf.Write(to[:])
	amt := amount.Bytes32()
	buf.Write(amt[:])
	putUint64(&buf, nonce)
	putUint64(&buf, uint64(chain))
	return chainhash.DoubleHashH(buf.Bytes())
}

func (tx *pendingTx) model() models.PendingTransaction {
	return models.PendingTransaction{
		Hash:      tx.hash.String(),
		From:      tx.from.Hex(),
		To:        tx.to.Hex(),
		Amount:    tx.amount.Dec(),
		Nonce:     tx.nonce,
		CreatedAt: tx.createdAt,
	}
}
