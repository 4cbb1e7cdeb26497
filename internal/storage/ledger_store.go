package storage

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/thanhnp/chain-bridge/internal/models"
)

// LedgerStore handles ledger snapshot storage operations
type LedgerStore struct {
	db KV
}

// NewLedgerStore creates a new LedgerStore
func NewLedgerStore(db KV) *LedgerStore {
	return &LedgerStore{db: db}
}

// ledgerKey creates a key for the ledgers column family
func ledgerKey(chain models.ChainID) []byte {
	return []byte(chain.String())
}

// Save stores a ledger snapshot
func (s *LedgerStore) Save(state *models.LedgerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal ledger")
	}
	return s.db.Put(CFLedgers, ledgerKey(state.Chain), data)
}

// PutBatch adds a ledger snapshot to the batch
func (s *LedgerStore) PutBatch(batch Batch, state *models.LedgerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal ledger")
	}
	return batch.Put(CFLedgers, ledgerKey(state.Chain), data)
}

// Get retrieves the snapshot of a chain's ledger
func (s *LedgerStore) Get(chain models.ChainID) (*models.LedgerState, error) {
	data, err := s.db.Get(CFLedgers, ledgerKey(chain))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var state models.LedgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal ledger")
	}
	return &state, nil
}

// GetAll retrieves every stored ledger snapshot
func (s *LedgerStore) GetAll() ([]*models.LedgerState, error) {
	var states []*models.LedgerState
	err := s.db.Scan(CFLedgers, nil, func(_, value []byte) error {
		var state models.LedgerState
		if err := json.Unmarshal(value, &state); err != nil {
			return errors.Wrap(err, "failed to unmarshal ledger")
		}
		states = append(states, &state)
		return nil
	})
	return states, err
}
