package raft

func (n *Node) sendHeartbeats() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdownCh:
			return
		case <-n.heartbeatTicker.C:
			n.mu.RLock()
			if n.role != Leader {
				n.mu.RUnlock()
				return
			}
			n.mu.RUnlock()

			for _, peerID := range n.peers {
				if peerID == n.ID {
					continue
				}
				go n.replicateLog(peerID)
			}
		}
	}
}

func (n *Node) replicateLog(peerID string) {
	n.mu.RLock()
	if n.role != Leader {
		n.mu.RUnlock()
		return
	}

	nextIndex := n.leaderState.nextIndex[peerID]
	prevLogIndex := uint64(0)
	if nextIndex > 0 {
		prevLogIndex = nextIndex - 1
	}

	prevLogTerm := uint64(0)
	for _, e := range n.persistentState.log {
		if e.Index == prevLogIndex {
			prevLogTerm = e.Term
			break
		}
	}

	var entries []LogEntry
	for _, e := range n.persistentState.log {
		if e.Index >= nextIndex {
			entries = append(entries, e)
		}
	}

	req := &AppendEntriesRequest{
		Term:         n.persistentState.currentTerm,
		LeaderID:     n.ID,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: n.volatileState.commitIndex,
	}
	n.mu.RUnlock()

	resp, err := n.transport.SendAppendEntries(peerID, req)
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.persistentState.currentTerm {
		n.stepDownLocked(resp.Term)
		return
	}

	if n.role != Leader {
		return
	}

	if !resp.Success {
		if n.leaderState.nextIndex[peerID] > 1 {
			n.leaderState.nextIndex[peerID]--
		}
		return
	}

	if len(entries) > 0 {
		last := entries[len(entries)-1]
		n.leaderState.matchIndex[peerID] = last.Index
		n.leaderState.nextIndex[peerID] = last.Index + 1
	}

	n.updateCommitIndexLocked()
}

// updateCommitIndexLocked advances commitIndex to the highest N with a
// majority of matchIndex >= N whose entry is from the current term
// (spec §4.2's mandatory safety rule: leaders never commit earlier-term
// entries purely by counting replicas). Caller must hold n.mu.
func (n *Node) updateCommitIndexLocked() {
	if n.role != Leader {
		return
	}

	lastIndex, _ := n.lastLogIndexAndTerm()
	for target := lastIndex; target > n.volatileState.commitIndex; target-- {
		var entry *LogEntry
		for i := range n.persistentState.log {
			if n.persistentState.log[i].Index == target {
				entry = &n.persistentState.log[i]
				break
			}
		}
		// terms never decrease along the log, so no lower index can be
		// from the current term either
		if entry == nil || entry.Term != n.persistentState.currentTerm {
			break
		}

		count := 1 // self
		for _, peerID := range n.peers {
			if peerID != n.ID && n.leaderState.matchIndex[peerID] >= target {
				count++
			}
		}

		if count >= n.majority() {
			n.volatileState.commitIndex = target
			break
		}
	}

	n.applyCommittedEntriesLocked()
}

// applyCommittedEntriesLocked drives the single-threaded applier of
// spec §4.6 forward from lastApplied to commitIndex, in order. Caller
// must hold n.mu.
func (n *Node) applyCommittedEntriesLocked() {
	for n.volatileState.lastApplied < n.volatileState.commitIndex {
		n.volatileState.lastApplied++

		for i := range n.persistentState.log {
			if n.persistentState.log[i].Index == n.volatileState.lastApplied {
				output, err := n.applier.Apply(n.persistentState.log[i].Command)
				if err != nil {
					n.logf("apply error at index %d: %v", n.volatileState.lastApplied, err)
				}
				n.appliedResults[n.volatileState.lastApplied] = appliedResult{output: output, err: err}
				break
			}
		}
	}
}
