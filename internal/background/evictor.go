package background

import (
	"log"
	"time"

	"github.com/konstantsiy/clustercore/internal/raft"
	"github.com/konstantsiy/clustercore/internal/statemachine"
)

// CacheEvictor periodically checks this node's cache for an
// over-capacity Modified line and proposes CacheEvict for it, per
// spec §4.5's eviction rule ("it must first write back to the backing
// store... or propose CacheEvict"). Evicting a non-Modified line needs
// no coordination and is handled locally by
// cacheservice.Directory.EvictionCandidate without going through this
// path.
type CacheEvictor struct {
	node     *raft.Node
	machine  *statemachine.Machine
	selfID   string
	interval time.Duration

	shutdownCh chan struct{}
}

func NewCacheEvictor(node *raft.Node, machine *statemachine.Machine, selfID string, interval time.Duration) *CacheEvictor {
	return &CacheEvictor{node: node, machine: machine, selfID: selfID, interval: interval, shutdownCh: make(chan struct{})}
}

func (e *CacheEvictor) Run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdownCh:
			return
		case <-ticker.C:
			e.evictOnce()
		}
	}
}

func (e *CacheEvictor) evictOnce() {
	key, value, _, needsEvict := e.machine.Cache.EvictionCandidate()
	if !needsEvict {
		return
	}

	cmd := statemachine.Command{Kind: statemachine.CacheEvict, Key: key, Value: value, OriginNode: e.selfID}
	data, err := statemachine.Encode(cmd)
	if err != nil {
		return
	}
	if _, err := e.node.Propose(data); err != nil {
		log.Printf("cache evictor: propose CacheEvict(%s): %v", key, err)
	}
}

func (e *CacheEvictor) Stop() { close(e.shutdownCh) }
