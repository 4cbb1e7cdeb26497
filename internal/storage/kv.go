// Package storage persists ledgers, blocks, validators and bridge state in a
// column-family keyed store backed by Pebble or Redis.
package storage

import (
	"github.com/cockroachdb/errors"
)

// Storage drivers
const (
	DriverPebble = "pebble"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// KV is a keyed store split into column families
type KV interface {
	Get(cf string, key []byte) ([]byte, error)
	Put(cf string, key, value []byte) error
	Delete(cf string, key []byte) error
	NewBatch() Batch
	Scan(cf string, prefix []byte, fn func(key, value []byte) error) error
	Sync() error
	Close() error
}

// Batch collects writes that are applied atomically on Commit
type Batch interface {
	Put(cf string, key, value []byte) error
	Delete(cf string, key []byte) error
	Commit() error
	Close()
}

// Options selects and configures a driver
type Options struct {
	Driver         string
	Path           string
	RedisHost      string
	RedisPort      int
	RedisNamespace string
}

// Open opens the store named by opts.Driver
func Open(opts Options) (KV, error) {
	switch opts.Driver {
	case DriverPebble, "":
		return NewPebbleDB(opts.Path)
	case DriverMemory:
		db, err := NewMemPebbleDB()
		if err != nil {
			return nil, err
		}
		// nothing to fsync on an in-memory filesystem
		db.SetNoSync(true)
		return db, nil
	case DriverRedis:
		return NewRedisDB(opts.RedisHost, opts.RedisPort, opts.RedisNamespace)
	default:
		return nil, errors.Newf("unknown storage driver %q", opts.Driver)
	}
}
