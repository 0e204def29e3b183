// Package kvengine binds the three namespaced keyspaces the store package
// needs (data, meta, ttl_index) onto a single embedded pebble database.
// Pebble has no notion of named trees the way the original storage engine
// this module grew out of did, so each namespace is modeled as a
// byte-prefixed slice of one flat keyspace.
package kvengine

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/epochdb/epochdb/internal/epocherr"
)

// Namespace prefixes. Chosen as single ASCII bytes so prefix+1 is always a
// valid exclusive upper bound for range iteration.
const (
	PrefixData byte = 'd'
	PrefixMeta byte = 'm'
	PrefixTTL  byte = 't'
)

// ErrStopIteration lets an Ascend callback break out of iteration early
// without surfacing an error to the caller.
var ErrStopIteration = errors.New("kvengine: stop iteration")

// rw is satisfied by both *pebble.DB and *pebble.Batch (when indexed),
// letting Tree operate identically inside and outside a transaction.
type rw interface {
	pebble.Reader
	pebble.Writer
}

// Engine owns the single pebble.DB backing all three namespaces.
type Engine struct {
	db    *pebble.DB
	path  string
	casMu sync.Mutex
	txMu  sync.Mutex
}

// Open creates or opens a pebble database rooted at path.
func Open(path string) (*Engine, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, &epocherr.EngineError{Err: err}
	}
	return &Engine{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return &epocherr.EngineError{Err: err}
	}
	return nil
}

// Flush forces the in-memory write buffer to disk, mirroring the original
// engine's tree-level flush.
func (e *Engine) Flush() error {
	if err := e.db.Flush(); err != nil {
		return &epocherr.EngineError{Err: err}
	}
	return nil
}

// DirSize walks the database directory and returns the total number of
// bytes on disk across every sstable and log file.
func (e *Engine) DirSize() (uint64, error) {
	var total uint64
	err := filepath.WalkDir(e.path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &epocherr.DBMetadataNotFoundError{}
		}
		return 0, &epocherr.DBMetadataNotFoundError{}
	}
	return total, nil
}

// Tree is a namespace-scoped view over an rw (either the database itself or
// an in-flight transaction batch).
type Tree struct {
	rw     rw
	prefix byte
}

func newTree(rw rw, prefix byte) *Tree {
	return &Tree{rw: rw, prefix: prefix}
}

// DataTree, MetaTree and TTLTree return namespace handles scoped directly to
// the database, for use outside a transaction.
func (e *Engine) DataTree() *Tree { return newTree(e.db, PrefixData) }
func (e *Engine) MetaTree() *Tree { return newTree(e.db, PrefixMeta) }
func (e *Engine) TTLTree() *Tree  { return newTree(e.db, PrefixTTL) }

func (t *Tree) prefixedKey(key []byte) []byte {
	buf := make([]byte, 1+len(key))
	buf[0] = t.prefix
	copy(buf[1:], key)
	return buf
}

// Get returns the value stored under key, or (nil, nil) if absent.
func (t *Tree) Get(key []byte) ([]byte, error) {
	v, closer, err := t.rw.Get(t.prefixedKey(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &epocherr.EngineError{Err: err}
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

// Set writes key to val, creating or overwriting it.
func (t *Tree) Set(key, val []byte) error {
	if err := t.rw.Set(t.prefixedKey(key), val, nil); err != nil {
		return &epocherr.EngineError{Err: err}
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (t *Tree) Delete(key []byte) error {
	if err := t.rw.Delete(t.prefixedKey(key), nil); err != nil {
		return &epocherr.EngineError{Err: err}
	}
	return nil
}

// Ascend iterates every key in the namespace in ascending byte order,
// calling fn with the unprefixed key and its value. Returning
// ErrStopIteration from fn stops iteration without propagating an error.
func (t *Tree) Ascend(fn func(key, val []byte) error) error {
	iter, err := t.rw.NewIter(&pebble.IterOptions{
		LowerBound: []byte{t.prefix},
		UpperBound: []byte{t.prefix + 1},
	})
	if err != nil {
		return &epocherr.EngineError{Err: err}
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		key := append([]byte(nil), iter.Key()[1:]...)
		val := append([]byte(nil), iter.Value()...)
		if err := fn(key, val); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

// CompareAndSwap atomically replaces key's value with newVal only if its
// current value equals oldVal (nil meaning absent). It reports whether the
// swap happened. Pebble has no native single-key CAS, so this is
// implemented with an engine-wide mutex guarding the read-modify-write —
// the same "retry until the swap observes its own expected value" shape as
// a lock-free CAS, just serialized instead of optimistic. It also holds the
// transaction lock, so no Transaction can commit between the read and the
// write.
func (e *Engine) CompareAndSwap(prefix byte, key, oldVal, newVal []byte) (bool, error) {
	e.casMu.Lock()
	defer e.casMu.Unlock()
	e.txMu.Lock()
	defer e.txMu.Unlock()

	t := newTree(e.db, prefix)
	cur, err := t.Get(key)
	if err != nil {
		return false, err
	}
	if !bytes.Equal(cur, oldVal) {
		return false, nil
	}
	if err := t.Set(key, newVal); err != nil {
		return false, err
	}
	return true, nil
}

// Txn bundles the three namespace views visible inside a single atomic
// transaction.
type Txn struct {
	Data *Tree
	Meta *Tree
	TTL  *Tree
}

// Transaction runs fn against a fresh indexed batch spanning all three
// namespaces. If fn returns nil the batch is committed; otherwise it is
// discarded and fn's error is returned unchanged so callers can distinguish
// an intentional abort from a commit failure.
//
// Transactions are serialized behind a single engine-wide lock: pebble's
// batches give atomicity and durability but no conflict detection between
// concurrent batches, so read-modify-write correctness across the three
// namespaces depends on EpochDB's single-writer discipline rather than on
// optimistic concurrency control.
func (e *Engine) Transaction(fn func(tx *Txn) error) error {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	batch := e.db.NewIndexedBatch()

	tx := &Txn{
		Data: newTree(batch, PrefixData),
		Meta: newTree(batch, PrefixMeta),
		TTL:  newTree(batch, PrefixTTL),
	}

	if err := fn(tx); err != nil {
		_ = batch.Close()
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return &epocherr.EngineError{Err: err}
	}
	return nil
}
