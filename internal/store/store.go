// Package store implements EpochDB's core engine API: single-key
// operations, metadata tracking and the expiration/disk-size background
// workers, all layered on top of the namespaced kvengine.
package store

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/epochdb/epochdb/internal/epocherr"
	"github.com/epochdb/epochdb/internal/kvengine"
	"github.com/epochdb/epochdb/internal/metadata"
	"github.com/epochdb/epochdb/internal/metrics"
)

// reaperInterval is how often the expiration reaper and disk-size sampler
// wake up and scan.
const reaperInterval = 100 * time.Millisecond

// DB is the embeddable, persistent key-value store described by this
// module: a data namespace, a metadata namespace and a time-ordered TTL
// index, kept consistent by single-key operations and multi-key
// transactions alike.
type DB struct {
	engine  *kvengine.Engine
	metrics metrics.Sink
	logger  *zap.Logger
	path    string

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// Option configures a DB at construction time.
type Option func(*DB)

// WithMetrics overrides the metrics sink (default metrics.Noop).
func WithMetrics(sink metrics.Sink) Option {
	return func(db *DB) { db.metrics = sink }
}

// WithLogger overrides the structured logger (default zap.NewNop()).
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) { db.logger = logger }
}

// Open creates or opens a database rooted at path and starts its background
// expiration reaper and disk-size sampler.
func Open(path string, opts ...Option) (*DB, error) {
	engine, err := kvengine.Open(path)
	if err != nil {
		return nil, err
	}

	db := &DB{
		engine:  engine,
		metrics: metrics.Noop{},
		logger:  zap.NewNop(),
		path:    path,
	}
	for _, opt := range opts {
		opt(db)
	}

	db.wg.Add(2)
	go db.runReaper()
	go db.runSampler()

	return db, nil
}

// Close stops the background workers and closes the underlying engine.
// Mirrors the original's Drop impl: flip the shutdown flag, then join both
// threads before releasing the engine handle.
func (db *DB) Close() error {
	db.shutdown.Store(true)
	db.wg.Wait()
	return db.engine.Close()
}

func ttlIndexKey(ttlSec uint64, key []byte) []byte {
	buf := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(buf[:8], ttlSec)
	copy(buf[8:], key)
	return buf
}

func absoluteTTL(ttl *time.Duration) *uint64 {
	if ttl == nil {
		return nil
	}
	sec := uint64(time.Now().Add(*ttl).Unix())
	return &sec
}

// Set stores val under key, replacing any existing value. An existing key
// keeps its frequency and creation time; only its ttl is replaced.
// A nil ttl makes the key persistent; otherwise it expires ttl after now,
// rounded down to the second.
func (db *DB) Set(key, val []byte, ttl *time.Duration) error {
	ttlSec := absoluteTTL(ttl)
	hadTTL := false

	err := db.engine.Transaction(func(tx *kvengine.Txn) error {
		existing, err := tx.Meta.Get(key)
		if err != nil {
			return err
		}

		var meta metadata.Metadata
		if existing != nil {
			meta, err = metadata.Decode(existing)
			if err != nil {
				return err
			}
			if meta.TTL != nil {
				hadTTL = true
				if err := tx.TTL.Delete(ttlIndexKey(*meta.TTL, key)); err != nil {
					return err
				}
			}
			meta.TTL = ttlSec
		} else {
			meta = metadata.New(ttlSec)
		}

		if err := tx.Meta.Set(key, meta.Encode()); err != nil {
			return err
		}
		if err := tx.Data.Set(key, val); err != nil {
			return err
		}
		if ttlSec != nil {
			if err := tx.TTL.Set(ttlIndexKey(*ttlSec, key), key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &epocherr.TransactionFailedError{}
	}

	db.metrics.IncOperations("set")
	db.metrics.IncKeysTotal("data")
	db.metrics.IncKeysTotal("meta")
	if hadTTL {
		db.metrics.DecKeysTotal("ttl")
	}
	if ttlSec != nil {
		db.metrics.IncKeysTotal("ttl")
	}
	return nil
}

// Get returns the value stored under key, or nil if it has none.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, err := db.engine.DataTree().Get(key)
	if err != nil {
		return nil, err
	}
	db.metrics.IncOperations("get")
	return val, nil
}

// IncrementFrequency atomically bumps the access-frequency counter of key's
// metadata. It returns false if the key has no metadata.
func (db *DB) IncrementFrequency(key []byte) (bool, error) {
	metaTree := db.engine.MetaTree()
	for {
		current, err := metaTree.Get(key)
		if err != nil {
			return false, err
		}
		if current == nil {
			return false, nil
		}
		meta, err := metadata.Decode(current)
		if err != nil {
			return false, &epocherr.ParsingFromByteError{}
		}
		swapped, err := db.engine.CompareAndSwap(kvengine.PrefixMeta, key, current, meta.Incremented().Encode())
		if err != nil {
			return false, err
		}
		if swapped {
			break
		}
	}
	db.metrics.IncOperations("increment_frequency")
	return true, nil
}

// Remove deletes key's value and metadata, returning
// epocherr.ValueNotFoundError if the key is unknown.
func (db *DB) Remove(key []byte) error {
	var ttl *uint64
	err := db.engine.Transaction(func(tx *kvengine.Txn) error {
		if err := tx.Data.Delete(key); err != nil {
			return err
		}
		existing, err := tx.Meta.Get(key)
		if err != nil {
			return err
		}
		if existing == nil {
			return &epocherr.ValueNotFoundError{}
		}
		meta, err := metadata.Decode(existing)
		if err != nil {
			return err
		}
		ttl = meta.TTL
		if err := tx.Meta.Delete(key); err != nil {
			return err
		}
		if ttl != nil {
			if err := tx.TTL.Delete(ttlIndexKey(*ttl, key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*epocherr.ValueNotFoundError); ok {
			return err
		}
		return &epocherr.TransactionFailedError{}
	}

	db.metrics.IncOperations("rm")
	db.metrics.DecKeysTotal("data")
	db.metrics.DecKeysTotal("meta")
	if ttl != nil {
		db.metrics.DecKeysTotal("ttl")
	}
	return nil
}

// GetMetadata returns key's metadata, or nil if it has none.
func (db *DB) GetMetadata(key []byte) (*metadata.Metadata, error) {
	raw, err := db.engine.MetaTree().Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	meta, err := metadata.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// Flush forces any buffered writes to disk.
func (db *DB) Flush() error {
	return db.engine.Flush()
}

// Size returns the number of entries in the data namespace.
func (db *DB) Size() (uint64, error) {
	var n uint64
	err := db.engine.DataTree().Ascend(func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// RestoreEntry writes a key, value and previously-encoded metadata record
// directly, without recomputing frequency or creation time. It is used by
// the backup package to replay an archive's records verbatim; each call is
// its own independent write, not part of a larger transaction.
func (db *DB) RestoreEntry(key, val []byte, meta metadata.Metadata) error {
	if err := db.engine.MetaTree().Set(key, meta.Encode()); err != nil {
		return err
	}
	if err := db.engine.DataTree().Set(key, val); err != nil {
		return err
	}
	if meta.TTL != nil {
		if err := db.engine.TTLTree().Set(ttlIndexKey(*meta.TTL, key), key); err != nil {
			return err
		}
	}
	return nil
}

// Iterate walks every key in ascending order, joining the data and metadata
// namespaces, and calls fn for each. Returning an error from fn stops
// iteration and is returned from Iterate unchanged.
func (db *DB) Iterate(fn func(key, val []byte, meta metadata.Metadata) error) error {
	return db.engine.DataTree().Ascend(func(key, val []byte) error {
		rawMeta, err := db.engine.MetaTree().Get(key)
		if err != nil {
			return err
		}
		if rawMeta == nil {
			return &epocherr.MetadataNotFoundError{}
		}
		meta, err := metadata.Decode(rawMeta)
		if err != nil {
			return err
		}
		return fn(key, val, meta)
	})
}

func (db *DB) runReaper() {
	defer db.wg.Done()
	for {
		time.Sleep(reaperInterval)
		if db.shutdown.Load() {
			return
		}
		if err := db.sweepExpired(); err != nil {
			db.logger.Warn("ttl sweep failed", zap.Error(err))
		}
	}
}

func (db *DB) sweepExpired() error {
	now := uint64(time.Now().Unix())
	ttlTree := db.engine.TTLTree()

	for {
		var expiredKey, dataKey []byte
		var expiredAt uint64
		found := false

		err := ttlTree.Ascend(func(compositeKey, dataKeyVal []byte) error {
			if len(compositeKey) < 8 {
				return &epocherr.ParsingToU64ByteFailedError{}
			}
			at := binary.BigEndian.Uint64(compositeKey[:8])
			if at > now {
				return kvengine.ErrStopIteration
			}
			expiredAt = at
			expiredKey = append([]byte(nil), compositeKey[8:]...)
			dataKey = append([]byte(nil), dataKeyVal...)
			found = true
			return kvengine.ErrStopIteration
		})
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		err = db.engine.Transaction(func(tx *kvengine.Txn) error {
			if err := tx.Data.Delete(dataKey); err != nil {
				return err
			}
			if err := tx.Meta.Delete(dataKey); err != nil {
				return err
			}
			return tx.TTL.Delete(ttlIndexKey(expiredAt, expiredKey))
		})
		if err != nil {
			return &epocherr.TransactionFailedError{}
		}

		db.metrics.DecKeysTotal("data")
		db.metrics.DecKeysTotal("meta")
		db.metrics.DecKeysTotal("ttl")
		db.metrics.IncTTLExpiredKeys()
	}
}

func (db *DB) runSampler() {
	defer db.wg.Done()
	for {
		time.Sleep(reaperInterval)
		if db.shutdown.Load() {
			return
		}
		size, err := db.engine.DirSize()
		if err != nil {
			db.logger.Warn("disk size sample failed", zap.Error(err))
			continue
		}
		db.metrics.SetDiskSizeBytes(float64(size))
	}
}
