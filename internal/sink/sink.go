// Package sink provides the persistent key-value backing store
// abstraction of spec §9 ("persistent sink"): Put/Get/Delete/Scan with
// per-key atomicity, used by the queue service for message durability
// and by the cache service for dirty-line writeback.
package sink

import "github.com/konstantsiy/clustercore/internal/clustererr"

// PersistentSink is implemented by LevelDBSink for production use and
// MemorySink for tests.
type PersistentSink interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Scan(prefix string) ([]Entry, error)
	Close() error
}

type Entry struct {
	Key   string
	Value []byte
}

var ErrNotFound = clustererr.ErrNotFound
