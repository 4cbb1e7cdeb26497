package storage

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/thanhnp/chain-bridge/internal/models"
)

const metaRouterNonce = "router_nonce"

// BridgeStore handles chain registrations and cross-chain transfers
type BridgeStore struct {
	db KV
}

// NewBridgeStore creates a new BridgeStore
func NewBridgeStore(db KV) *BridgeStore {
	return &BridgeStore{db: db}
}

// chainKey creates a key for the chains column family
func chainKey(chain models.ChainID) []byte {
	return []byte(fmt.Sprintf("%020d", chain))
}

// transferKey orders transfers by their router nonce
func transferKey(nonce uint64) []byte {
	return []byte(fmt.Sprintf("%020d", nonce))
}

// PutBatch adds the whole router state to the batch
func (s *BridgeStore) PutBatch(batch Batch, state *models.RouterState) error {
	for i := range state.Chains {
		data, err := json.Marshal(&state.Chains[i])
		if err != nil {
			return errors.Wrap(err, "failed to marshal chain")
		}
		if err := batch.Put(CFChains, chainKey(state.Chains[i].Chain), data); err != nil {
			return err
		}
	}
	for i := range state.Transfers {
		data, err := json.Marshal(&state.Transfers[i])
		if err != nil {
			return errors.Wrap(err, "failed to marshal transfer")
		}
		if err := batch.Put(CFTransfers, transferKey(state.Transfers[i].Nonce), data); err != nil {
			return err
		}
	}
	return batch.Put(CFMeta, []byte(metaRouterNonce), []byte(strconv.FormatUint(state.Nonce, 10)))
}

// Get rebuilds the router state. It returns nil when nothing was saved.
func (s *BridgeStore) Get() (*models.RouterState, error) {
	nonceData, err := s.db.Get(CFMeta, []byte(metaRouterNonce))
	if err != nil {
		return nil, err
	}
	if nonceData == nil {
		return nil, nil
	}

	state := &models.RouterState{}
	if state.Nonce, err = strconv.ParseUint(string(nonceData), 10, 64); err != nil {
		return nil, errors.Wrap(err, "failed to parse router nonce")
	}

	err = s.db.Scan(CFChains, nil, func(_, value []byte) error {
		var c models.ChainRegistration
		if err := json.Unmarshal(value, &c); err != nil {
			return errors.Wrap(err, "failed to unmarshal chain")
		}
		state.Chains = append(state.Chains, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.db.Scan(CFTransfers, nil, func(_, value []byte) error {
		var t models.Transfer
		if err := json.Unmarshal(value, &t); err != nil {
			return errors.Wrap(err, "failed to unmarshal transfer")
		}
		state.Transfers = append(state.Transfers, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// GetTransfer retrieves a single transfer by nonce
func (s *BridgeStore) GetTransfer(nonce uint64) (*models.Transfer, error) {
	data, err := s.db.Get(CFTransfers, transferKey(nonce))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var t models.Transfer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transfer")
	}
	return &t, nil
}
