package store

import (
	"time"

	"github.com/epochdb/epochdb/internal/epocherr"
	"github.com/epochdb/epochdb/internal/kvengine"
	"github.com/epochdb/epochdb/internal/metadata"
	"github.com/epochdb/epochdb/internal/metrics"
)

// Guard is the set of operations available inside a Transaction closure.
// It mirrors DB's single-key API but every call is scoped to one atomic
// batch: either every call commits together, or the whole batch is
// discarded when the closure returns an error.
type Guard struct {
	tx    *kvengine.Txn
	delta delta
}

// delta accumulates the metric changes a transaction would make, so they
// can be applied once, after the batch has actually committed. Applying
// them eagerly would over-count if the underlying engine ever re-invoked
// the closure (pebble's batches do not, but the guard does not assume that
// of every possible engine backing it).
type delta struct {
	keysTotal    int64
	ttlKeysTotal int64
	setOps       uint64
	rmOps        uint64
	incFreqOps   uint64
	getOps       uint64
}

func (d delta) apply(sink metrics.Sink) {
	if d.keysTotal != 0 {
		sink.AddKeysTotal("data", d.keysTotal)
		sink.AddKeysTotal("meta", d.keysTotal)
	}

	if d.ttlKeysTotal != 0 {
		sink.AddKeysTotal("ttl", d.ttlKeysTotal)
	}

	sink.AddOperations("set", d.setOps)
	sink.AddOperations("rm", d.rmOps)
	sink.AddOperations("increment_frequency", d.incFreqOps)
	sink.AddOperations("get", d.getOps)
}

// Set stores val under key inside the transaction.
func (g *Guard) Set(key, val []byte, ttl *time.Duration) error {
	ttlSec := absoluteTTL(ttl)

	existing, err := g.tx.Meta.Get(key)
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
			if err := g.tx.TTL.Delete(ttlIndexKey(*meta.TTL, key)); err != nil {
				return err
			}
			g.delta.ttlKeysTotal--
		}
		meta.TTL = ttlSec
	} else {
		meta = metadata.New(ttlSec)
	}

	if err := g.tx.Meta.Set(key, meta.Encode()); err != nil {
		return err
	}
	if err := g.tx.Data.Set(key, val); err != nil {
		return err
	}
	if ttlSec != nil {
		if err := g.tx.TTL.Set(ttlIndexKey(*ttlSec, key), key); err != nil {
			return err
		}
		g.delta.ttlKeysTotal++
	}

	g.delta.keysTotal++
	g.delta.setOps++
	return nil
}

// Get returns the value stored under key inside the transaction's view.
func (g *Guard) Get(key []byte) ([]byte, error) {
	val, err := g.tx.Data.Get(key)
	if err != nil {
		return nil, err
	}
	g.delta.getOps++
	return val, nil
}

// IncrementFrequency bumps key's frequency counter. Unlike DB's
// out-of-transaction CAS loop, a plain read-modify-write suffices here:
// the batch already gives the whole transaction one consistent,
// serialized view.
func (g *Guard) IncrementFrequency(key []byte) error {
	raw, err := g.tx.Meta.Get(key)
	if err != nil {
		return err
	}
	if raw == nil {
		return &epocherr.IncrementFailedError{}
	}
	meta, err := metadata.Decode(raw)
	if err != nil {
		return err
	}
	if err := g.tx.Meta.Delete(key); err != nil {
		return err
	}
	if err := g.tx.Meta.Set(key, meta.Incremented().Encode()); err != nil {
		return err
	}
	g.delta.incFreqOps++
	return nil
}

// Remove deletes key's value and metadata inside the transaction.
func (g *Guard) Remove(key []byte) error {
	if err := g.tx.Data.Delete(key); err != nil {
		return err
	}
	raw, err := g.tx.Meta.Get(key)
	if err != nil {
		return err
	}
	if raw == nil {
		return &epocherr.ValueNotFoundError{}
	}
	meta, err := metadata.Decode(raw)
	if err != nil {
		return err
	}
	if err := g.tx.Meta.Delete(key); err != nil {
		return err
	}

	g.delta.keysTotal--
	if meta.TTL != nil {
		g.delta.ttlKeysTotal--
		if err := g.tx.TTL.Delete(ttlIndexKey(*meta.TTL, key)); err != nil {
			return err
		}
	}
	g.delta.rmOps++
	return nil
}

// GetMetadata returns key's metadata inside the transaction's view.
func (g *Guard) GetMetadata(key []byte) (*metadata.Metadata, error) {
	raw, err := g.tx.Meta.Get(key)
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

// Transaction runs fn against a single atomic batch spanning all three
// namespaces. Metrics are only published once fn returns nil and the batch
// has committed; any error from fn, or a commit failure, discards the
// batch entirely and is reported as epocherr.TransactionFailedError — the
// caller's own error value is not preserved, matching the coarse
// all-or-nothing failure reporting the rest of this API uses for
// transactional operations.
func (db *DB) Transaction(fn func(g *Guard) error) error {
	var applied delta

	err := db.engine.Transaction(func(tx *kvengine.Txn) error {
		g := &Guard{tx: tx}
		if err := fn(g); err != nil {
			return err
		}
		applied = g.delta
		return nil
	})
	if err != nil {
		return &epocherr.TransactionFailedError{}
	}

	applied.apply(db.metrics)
	return nil
}
