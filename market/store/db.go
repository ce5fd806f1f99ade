// Package store implements the persistence backends for a market.Store:
// an in-memory map for tests and short-lived processes, and a LevelDB-backed
// store for the long-running service.
//
// Grounded on the teacher's storage/db.go Database/MemDB/LevelDB trio,
// kept near-verbatim at this layer since the key-value contract the core
// needs is identical to what the teacher's chain state already relies on.
package store

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// KV is a generic key-value interface so LedgerStore can be backed by
// either implementation below without changing its own code.
type KV interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Close() error
}

// MemKV is an in-memory KV, suitable for tests and ephemeral processes.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemKV returns an empty in-memory KV.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

// Put implements KV.
func (db *MemKV) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	db.data[string(key)] = cp
	return nil
}

// Get implements KV. It returns (nil, nil) when the key is absent, matching
// the not-found convention market.Store expects from its Get methods.
func (db *MemKV) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Close implements KV.
func (db *MemKV) Close() error { return nil }

// LevelKV is a persistent KV backed by goleveldb, for the long-running
// service binary.
type LevelKV struct {
	db *leveldb.DB
}

// NewLevelKV opens (or creates) a LevelDB database at path.
func NewLevelKV(path string) (*LevelKV, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open leveldb at %s: %w", path, err)
	}
	return &LevelKV{db: db}, nil
}

// Put implements KV.
func (ldb *LevelKV) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get implements KV. It returns (nil, nil) when the key is absent, matching
// the not-found convention market.Store expects from its Get methods.
func (ldb *LevelKV) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Close implements KV.
func (ldb *LevelKV) Close() error { return ldb.db.Close() }
