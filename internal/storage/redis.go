package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gomodule/redigo/redis"
)

// RedisDB stores column families as namespaced Redis string keys
type RedisDB struct {
	pool      *redis.Pool
	namespace string
}

type redisOp struct {
	del   bool
	key   string
	value []byte
}

// redisBatch buffers writes and applies them in one MULTI/EXEC
type redisBatch struct {
	db  *RedisDB
	ops []redisOp
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// NewRedisDB connects to Redis and checks the connection with PING
func NewRedisDB(host string, port int, namespace string) (*RedisDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	pool := &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions()...) },
	}
	return newRedisDB(pool, namespace)
}

func newRedisDB(pool *redis.Pool, namespace string) (*RedisDB, error) {
	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &RedisDB{pool: pool, namespace: namespace}, nil
}

// key builds the full Redis key of a column family entry
func (r *RedisDB) key(cf string, key []byte) (string, error) {
	prefixed, err := prefixKey(cf, key)
	if err != nil {
		return "", err
	}
	return r.namespace + string(prefixed), nil
}

// Get retrieves a value. A missing key yields nil, nil.
func (r *RedisDB) Get(cf string, key []byte) ([]byte, error) {
	k, err := r.key(cf, key)
	if err != nil {
		return nil, err
	}
	conn := r.pool.Get()
	defer conn.Close()

	value, err := redis.Bytes(conn.Do("GET", k))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis GET %s", k)
	}
	return value, nil
}

// Put stores a value
func (r *RedisDB) Put(cf string, key, value []byte) error {
	k, err := r.key(cf, key)
	if err != nil {
		return err
	}
	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", k, value); err != nil {
		return errors.Wrapf(err, "redis SET %s", k)
	}
	return nil
}

// Delete removes a key
func (r *RedisDB) Delete(cf string, key []byte) error {
	k, err := r.key(cf, key)
	if err != nil {
		return err
	}
	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("DEL", k); err != nil {
		return errors.Wrapf(err, "redis DEL %s", k)
	}
	return nil
}

// NewBatch creates a new write batch
func (r *RedisDB) NewBatch() Batch {
	return &redisBatch{db: r}
}

func (b *redisBatch) Put(cf string, key, value []byte) error {
	k, err := b.db.key(cf, key)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, redisOp{key: k, value: value})
	return nil
}

func (b *redisBatch) Delete(cf string, key []byte) error {
	k, err := b.db.key(cf, key)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, redisOp{del: true, key: k})
	return nil
}

// Commit applies the buffered writes in a single transaction
func (b *redisBatch) Commit() error {
	if len(b.ops) == 0 {
		return nil
	}
	conn := b.db.pool.Get()
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return errors.Wrap(err, "redis MULTI")
	}
	for _, op := range b.ops {
		var err error
		if op.del {
			err = conn.Send("DEL", op.key)
		} else {
			err = conn.Send("SET", op.key, op.value)
		}
		if err != nil {
			return errors.Wrapf(err, "redis queue %s", op.key)
		}
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return errors.Wrap(err, "redis EXEC")
	}
	b.ops = nil
	return nil
}

func (b *redisBatch) Close() {
	b.ops = nil
}

// escapePattern quotes glob metacharacters for MATCH
func escapePattern(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// Scan calls fn for every key in cf starting with prefix, in key order
func (r *RedisDB) Scan(cf string, prefix []byte, fn func(key, value []byte) error) error {
	start, err := r.key(cf, prefix)
	if err != nil {
		return err
	}
	cfStart, _ := r.key(cf, nil)

	conn := r.pool.Get()
	defer conn.Close()

	// SCAN returns keys unordered and possibly repeated
	seen := make(map[string]struct{})
	cursor := 0
	for {
		values, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", escapePattern(start)+"*", "COUNT", 500))
		if err != nil {
			return errors.Wrap(err, "redis SCAN")
		}
		if cursor, err = redis.Int(values[0], nil); err != nil {
			return err
		}
		keys, err := redis.Strings(values[1], nil)
		if err != nil {
			return err
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		if cursor == 0 {
			break
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, err := redis.Bytes(conn.Do("GET", k))
		if errors.Is(err, redis.ErrNil) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "redis GET %s", k)
		}
		if err := fn([]byte(strings.TrimPrefix(k, cfStart)), value); err != nil {
			return err
		}
	}
	return nil
}

// Sync is a no-op, Redis persistence is configured server side
func (r *RedisDB) Sync() error {
	return nil
}

// Close closes the connection pool
func (r *RedisDB) Close() error {
	return r.pool.Close()
}
