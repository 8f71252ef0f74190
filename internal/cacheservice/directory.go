// Package cacheservice implements the MESI-coherent key/value cache
// of spec §4.5: local LRU eviction plus cluster-wide coherence routed
// through the replicated log for writes and through peer probes for
// reads. Grounded on original_source/src/nodes/cache_node.py's
// LRUCache (container/list + map replaces its OrderedDict, matching
// the teacher's "explicit struct + mutex" idiom) generalised from a
// single default EXCLUSIVE-on-insert policy to the full M/E/S/I
// resolution table.
package cacheservice

import (
	"container/list"
	"sync"

	"github.com/konstantsiy/clustercore/internal/sink"
)

type LineState string

const (
	Modified LineState = "M"
	Exclusive LineState = "E"
	Shared    LineState = "S"
	Invalid   LineState = "I"
)

type line struct {
	key   string
	value []byte
	state LineState
	elem  *list.Element
}

// PeerState is one peer's response to a CacheRead probe.
type PeerState struct {
	NodeID string
	State  LineState
	Value  []byte
}

// Prober broadcasts a CacheRead probe to every peer and collects their
// responses, implemented over internal/transport in production and
// faked in tests.
type Prober interface {
	Probe(key string) []PeerState
}

// Directory is the per-node cache. Unlike lockservice.Table and
// queueservice.Broker it is not purely applier-driven: Get's local
// miss path probes peers and mutates local state outside of consensus
// (spec §4.5's read path), so it carries its own mutex.
type Directory struct {
	mu       sync.Mutex
	nodeID   string
	capacity int
	lines    map[string]*line
	lru      *list.List // front = most recently used
	prober   Prober
	sink     sink.PersistentSink

	hits, misses, evictions uint64
}

func NewDirectory(nodeID string, capacity int, prober Prober, backing sink.PersistentSink) *Directory {
	return &Directory{
		nodeID:   nodeID,
		capacity: capacity,
		lines:    make(map[string]*line),
		lru:      list.New(),
		prober:   prober,
		sink:     backing,
	}
}

// Get implements spec §4.5's read path. A local M/E/S hit returns
// immediately; otherwise it probes peers (without holding the lock,
// since that is a network round trip) and resolves per the (a)-(d)
// priority order.
func (d *Directory) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	if ln, ok := d.lines[key]; ok && ln.state != Invalid {
		d.touch(ln)
		d.hits++
		value := ln.value
		d.mu.Unlock()
		return value, true
	}
	d.mu.Unlock()

	d.recordMiss()

	if d.prober == nil {
		return nil, false
	}
	responses := d.prober.Probe(key)

	value, found := resolveProbe(responses)
	if !found {
		return nil, false
	}

	d.mu.Lock()
	d.insert(key, value, Shared)
	d.mu.Unlock()
	return value, true
}

func (d *Directory) recordMiss() {
	d.mu.Lock()
	d.misses++
	d.mu.Unlock()
}

// resolveProbe implements the priority order of spec §4.5: an M
// holder, then an E holder, then any S holder. The demotion of an M or
// E holder to S happens on the responding side, in RespondToProbe, not
// here.
func resolveProbe(responses []PeerState) ([]byte, bool) {
	for _, r := range responses {
		if r.State == Modified {
			return r.Value, true
		}
	}
	for _, r := range responses {
		if r.State == Exclusive {
			return r.Value, true
		}
	}
	for _, r := range responses {
		if r.State == Shared {
			return r.Value, true
		}
	}
	return nil, false
}

// RespondToProbe is invoked on the probed (not the requesting) node
// when it receives a CacheRead: M and E holders downgrade to S and
// hand back their value, an S holder just hands back its value, an I
// or absent line reports nothing.
func (d *Directory) RespondToProbe(key string) PeerState {
	d.mu.Lock()
	defer d.mu.Unlock()

	ln, ok := d.lines[key]
	if !ok || ln.state == Invalid {
		return PeerState{NodeID: d.nodeID, State: Invalid}
	}

	resp := PeerState{NodeID: d.nodeID, State: ln.state, Value: ln.value}
	if ln.state == Modified || ln.state == Exclusive {
		ln.state = Shared
	}
	return resp
}

// ApplyPut is the deterministic handler for CachePut: every node
// transitions its local copy to Invalid except originNode, which
// transitions to Modified (spec §4.5 write path).
func (d *Directory) ApplyPut(key string, value []byte, originNode string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if originNode == d.nodeID {
		d.insert(key, value, Modified)
		return
	}

	if ln, ok := d.lines[key]; ok {
		ln.state = Invalid
		ln.value = nil
	}
}

// ApplyEvict is the deterministic handler for CacheEvict: the
// proposing node already holds the final value (a Modified line being
// evicted under capacity pressure), so every node drops its own copy
// and only the origin node writes the value back to the shared sink
// (spec §4.5 eviction rule).
func (d *Directory) ApplyEvict(key string, value []byte, originNode string) {
	d.mu.Lock()
	if ln, ok := d.lines[key]; ok {
		d.remove(ln)
	}
	d.mu.Unlock()

	if originNode == d.nodeID && d.sink != nil {
		_ = d.sink.Put(key, value)
	}
}

// insert adds or refreshes a line in the given state. It takes no
// eviction action itself; over-capacity eviction is decided later by
// EvictionCandidate and driven by the background evictor.
func (d *Directory) insert(key string, value []byte, state LineState) {
	if ln, ok := d.lines[key]; ok {
		ln.value = value
		ln.state = state
		d.touch(ln)
		return
	}

	ln := &line{key: key, value: value, state: state}
	ln.elem = d.lru.PushFront(ln)
	d.lines[key] = ln
}

func (d *Directory) touch(ln *line) {
	d.lru.MoveToFront(ln.elem)
}

func (d *Directory) remove(ln *line) {
	d.lru.Remove(ln.elem)
	delete(d.lines, ln.key)
}

// EvictionCandidate returns the LRU line if the directory is over
// capacity, for the caller to decide whether it needs to propose
// CacheEvict (Modified) or can just drop it locally (spec §4.5).
func (d *Directory) EvictionCandidate() (key string, value []byte, state LineState, needsEvict bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lru.Len() <= d.capacity {
		return "", nil, "", false
	}

	back := d.lru.Back()
	ln := back.Value.(*line)
	d.evictions++

	if ln.state == Modified {
		return ln.key, ln.value, ln.state, true
	}

	d.remove(ln)
	return "", nil, "", false
}

// Stats mirrors get_cache_stats()'s hit/miss/eviction counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

func (d *Directory) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Hits: d.hits, Misses: d.misses, Evictions: d.evictions, Size: len(d.lines)}
}
