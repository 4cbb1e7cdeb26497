package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/thanhnp/chain-bridge/internal/models"
)

// BlockStore handles block storage operations
type BlockStore struct {
	db KV
}

// NewBlockStore creates a new BlockStore
func NewBlockStore(db KV) *BlockStore {
	return &BlockStore{db: db}
}

// blockKey creates a key for the blocks column family
func blockKey(chain models.ChainID, number uint64) []byte {
	return []byte(fmt.Sprintf("%d:%020d", chain, number))
}

// chainBlockPrefix creates a prefix for all blocks of a chain
func chainBlockPrefix(chain models.ChainID) []byte {
	return []byte(fmt.Sprintf("%d:", chain))
}

// PutBatch adds a block to the batch
func (s *BlockStore) PutBatch(batch Batch, block *models.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return errors.Wrap(err, "failed to marshal block")
	}
	return batch.Put(CFBlocks, blockKey(block.Chain, block.Number), data)
}

// GetRange retrieves blocks of a chain in number order, starting at from
func (s *BlockStore) GetRange(chain models.ChainID, from uint64) ([]*models.Block, error) {
	var blocks []*models.Block
	err := s.db.Scan(CFBlocks, chainBlockPrefix(chain), func(_, value []byte) error {
		var block models.Block
		if err := json.Unmarshal(value, &block); err != nil {
			return errors.Wrap(err, "failed to unmarshal block")
		}
		if block.Number >= from {
			blocks = append(blocks, &block)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}
