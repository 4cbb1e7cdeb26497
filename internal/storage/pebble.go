package storage

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key prefixes (simulating column families)
const (
	PrefixLedgers    = "ldg:"
	PrefixBlocks     = "blk:"
	PrefixValidators = "val:"
	PrefixChains     = "chn:"
	PrefixTransfers  = "trf:"
	PrefixMeta       = "met:"
)

// Column family names
const (
	CFLedgers    = "ledgers"
	CFBlocks     = "blocks"
	CFValidators = "validators"
	CFChains     = "chains"
	CFTransfers  = "transfers"
	CFMeta       = "meta"
)

// Column family name to prefix mapping
var cfPrefixes = map[string]string{
	CFLedgers:    PrefixLedgers,
	CFBlocks:     PrefixBlocks,
	CFValidators: PrefixValidators,
	CFChains:     PrefixChains,
	CFTransfers:  PrefixTransfers,
	CFMeta:       PrefixMeta,
}

// cfPrefix returns the key prefix of a column family
func cfPrefix(cf string) ([]byte, error) {
	prefix, ok := cfPrefixes[cf]
	if !ok {
		return nil, errors.Newf("column family not found: %s", cf)
	}
	return []byte(prefix), nil
}

// prefixKey creates a prefixed key for the given column family
func prefixKey(cf string, key []byte) ([]byte, error) {
	prefix, err := cfPrefix(cf)
	if err != nil {
		return nil, err
	}
	return append(prefix, key...), nil
}

// PebbleDB wraps the Pebble database
type PebbleDB struct {
	db     *pebble.DB
	noSync bool // When true, uses NoSync and relies on Sync() at checkpoints
}

// pebbleBatch wraps Pebble's batch for atomic writes
type pebbleBatch struct {
	batch *pebble.Batch
	db    *PebbleDB
}

// NewPebbleDB opens a PebbleDB instance on disk
func NewPebbleDB(path string) (*PebbleDB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MaxOpenFiles: 500,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	return &PebbleDB{db: db}, nil
}

// NewMemPebbleDB opens a PebbleDB instance backed by an in-memory filesystem
func NewMemPebbleDB() (*PebbleDB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory database")
	}
	return &PebbleDB{db: db}, nil
}

// Close closes the database
func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// SetNoSync enables/disables unsynced writes.
// Call Sync() afterwards to ensure data durability.
func (p *PebbleDB) SetNoSync(enabled bool) {
	p.noSync = enabled
}

// Sync flushes memtables to disk. Synced writes are already durable, so
// it only has work to do in NoSync mode.
func (p *PebbleDB) Sync() error {
	if !p.noSync {
		return nil
	}
	return p.db.Flush()
}

// writeOptions returns the appropriate write options based on sync mode
func (p *PebbleDB) writeOptions() *pebble.WriteOptions {
	if p.noSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

// Put stores a key-value pair in the specified column family
func (p *PebbleDB) Put(cf string, key, value []byte) error {
	prefixedKey, err := prefixKey(cf, key)
	if err != nil {
		return err
	}
	return p.db.Set(prefixedKey, value, p.writeOptions())
}

// Get retrieves a value from the specified column family. A missing key
// yields nil, nil.
func (p *PebbleDB) Get(cf string, key []byte) ([]byte, error) {
	prefixedKey, err := prefixKey(cf, key)
	if err != nil {
		return nil, err
	}

	value, closer, err := p.db.Get(prefixedKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	// Copy the value since it's only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Delete removes a key from the specified column family
func (p *PebbleDB) Delete(cf string, key []byte) error {
	prefixedKey, err := prefixKey(cf, key)
	if err != nil {
		return err
	}
	return p.db.Delete(prefixedKey, p.writeOptions())
}

// NewBatch creates a new write batch
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{
		batch: p.db.NewBatch(),
		db:    p,
	}
}

// Put adds a put operation to the batch
func (b *pebbleBatch) Put(cf string, key, value []byte) error {
	prefixedKey, err := prefixKey(cf, key)
	if err != nil {
		return err
	}
	return b.batch.Set(prefixedKey, value, nil)
}

// Delete adds a delete operation to the batch
func (b *pebbleBatch) Delete(cf string, key []byte) error {
	prefixedKey, err := prefixKey(cf, key)
	if err != nil {
		return err
	}
	return b.batch.Delete(prefixedKey, nil)
}

// Commit writes the batch to the database
func (b *pebbleBatch) Commit() error {
	return b.batch.Commit(b.db.writeOptions())
}

// Close releases the batch
func (b *pebbleBatch) Close() {
	b.batch.Close()
}

// Scan calls fn for every key in cf starting with prefix, in key order.
// Keys passed to fn have the column family prefix stripped.
func (p *PebbleDB) Scan(cf string, prefix []byte, fn func(key, value []byte) error) error {
	cfBytes, err := cfPrefix(cf)
	if err != nil {
		return err
	}
	fullPrefix := append(append([]byte{}, cfBytes...), prefix...)

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: fullPrefix,
		UpperBound: prefixUpperBound(fullPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		// Strip only the column family prefix, keep the user prefix
		if bytes.HasPrefix(key, cfBytes) {
			key = key[len(cfBytes):]
		}
		if err := fn(append([]byte{}, key...), append([]byte{}, iter.Value()...)); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the upper bound for prefix iteration
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
