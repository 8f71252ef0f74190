package sink

import (
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBSink wraps an on-disk goleveldb database, generalising
// slunk-Distributed-Storage-Systems/myfs/db.go's LeveldbFsDatabase
// from a fixed file/directory object model to opaque string keys and
// byte-slice values.
type LevelDBSink struct {
	db *leveldb.DB
}

func NewLevelDBSink(dir string) (*LevelDBSink, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBSink{db: db}, nil
}

func (s *LevelDBSink) Put(key string, value []byte) error {
	return s.db.Put([]byte(key), value, nil)
}

func (s *LevelDBSink) Get(key string) ([]byte, error) {
	val, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *LevelDBSink) Delete(key string) error {
	return s.db.Delete([]byte(key), nil)
}

func (s *LevelDBSink) Scan(prefix string) ([]Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var entries []Entry
	for iter.Next() {
		entries = append(entries, Entry{
			Key:   strings.Clone(string(iter.Key())),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	return entries, iter.Error()
}

func (s *LevelDBSink) Close() error {
	return s.db.Close()
}
