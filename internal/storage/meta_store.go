package storage

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/thanhnp/chain-bridge/pkg/semver"
)

// SchemaVersion is the layout version written by this build
const SchemaVersion = "1.0.0"

const (
	metaSchemaVersion = "schema_version"
	metaSavedAt       = "saved_at"
)

// ErrIncompatibleSchema is returned when the store was written by an
// incompatible build
var ErrIncompatibleSchema = errors.New("incompatible storage schema")

// MetaStore handles schema and checkpoint metadata
type MetaStore struct {
	db KV
}

// NewMetaStore creates a new MetaStore
func NewMetaStore(db KV) *MetaStore {
	return &MetaStore{db: db}
}

// EnsureSchema records the current schema version in an empty store, or
// checks that the recorded one can be read by this build
func (s *MetaStore) EnsureSchema() (*semver.Version, error) {
	current, err := semver.Parse(SchemaVersion)
	if err != nil {
		return nil, err
	}

	data, err := s.db.Get(CFMeta, []byte(metaSchemaVersion))
	if err != nil {
		return nil, err
	}
	if data == nil {
		if err := s.db.Put(CFMeta, []byte(metaSchemaVersion), []byte(current.String())); err != nil {
			return nil, err
		}
		return current, nil
	}

	stored, err := semver.Parse(string(data))
	if err != nil {
		return nil, errors.Wrap(err, "stored schema version")
	}
	if !stored.Compatible(current) || stored.GreaterThan(current) {
		return nil, errors.Wrapf(ErrIncompatibleSchema, "store has %s, build reads %s", stored, current)
	}
	return stored, nil
}

// PutSavedAtBatch records the time of a checkpoint in the batch
func (s *MetaStore) PutSavedAtBatch(batch Batch, at time.Time) error {
	return batch.Put(CFMeta, []byte(metaSavedAt), []byte(at.UTC().Format(time.RFC3339Nano)))
}

// SavedAt returns the time of the last checkpoint, or the zero time
func (s *MetaStore) SavedAt() (time.Time, error) {
	data, err := s.db.Get(CFMeta, []byte(metaSavedAt))
	if err != nil || data == nil {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to parse checkpoint time")
	}
	return at, nil
}
