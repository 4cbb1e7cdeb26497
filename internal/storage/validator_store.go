package storage

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/thanhnp/chain-bridge/internal/models"
)

// ValidatorStore handles validator record storage operations
type ValidatorStore struct {
	db KV
}

// NewValidatorStore creates a new ValidatorStore
func NewValidatorStore(db KV) *ValidatorStore {
	return &ValidatorStore{db: db}
}

// PutBatch adds a validator record to the batch
func (s *ValidatorStore) PutBatch(batch Batch, v *models.Validator) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal validator")
	}
	return batch.Put(CFValidators, []byte(v.Address), data)
}

// Get retrieves a validator by address
func (s *ValidatorStore) Get(address string) (*models.Validator, error) {
	data, err := s.db.Get(CFValidators, []byte(address))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var v models.Validator
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal validator")
	}
	return &v, nil
}

// GetAll retrieves every validator record ordered by address
func (s *ValidatorStore) GetAll() ([]*models.Validator, error) {
	var validators []*models.Validator
	err := s.db.Scan(CFValidators, nil, func(_, value []byte) error {
		var v models.Validator
		if err := json.Unmarshal(value, &v); err != nil {
			return errors.Wrap(err, "failed to unmarshal validator")
		}
		validators = append(validators, &v)
		return nil
	})
	return validators, err
}
