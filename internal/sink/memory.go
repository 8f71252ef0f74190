package sink

import (
	"sort"
	"strings"
	"sync"
)

// MemorySink is a mutex-guarded map stand-in for tests, mirroring the
// teacher's preference for exercising real logic over on-disk state
// where practical, swapped out here only because spec §9 scopes the
// backing store itself out as "specified only as an interface".
type MemorySink struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{data: make(map[string][]byte)}
}

func (s *MemorySink) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemorySink) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

func (s *MemorySink) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemorySink) Scan(prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, Entry{Key: k, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *MemorySink) Close() error { return nil }
