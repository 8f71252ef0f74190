package raft

import (
	"sync"
	"time"
)

func (n *Node) startElection() {
	n.mu.Lock()

	n.role = Candidate
	n.persistentState.currentTerm++
	currentTerm := n.persistentState.currentTerm
	n.persistentState.votedFor = n.ID
	n.persistOrDie()

	lastLogIndex, lastLogTerm := n.lastLogIndexAndTerm()
	n.setLeader("")

	n.logf("became candidate for term %d", currentTerm)

	n.mu.Unlock()
	n.resetElectionTimerLocked()

	votes := 1
	var voteMu sync.Mutex
	wonAlready := false

	for _, peerID := range n.peers {
		if peerID == n.ID {
			continue
		}

		go func(peer string) {
			req := &RequestVoteRequest{
				Term:         currentTerm,
				CandidateID:  n.ID,
				LastLogIndex: lastLogIndex,
				LastLogTerm:  lastLogTerm,
			}

			resp, err := n.transport.SendRequestVote(peer, req)
			if err != nil {
				return
			}

			n.mu.Lock()
			if resp.Term > n.persistentState.currentTerm {
				n.stepDownLocked(resp.Term)
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()

			if !resp.VoteGranted {
				return
			}

			voteMu.Lock()
			defer voteMu.Unlock()
			if wonAlready {
				return
			}
			votes++
			if votes >= n.majority() {
				wonAlready = true
				n.becomeLeader(currentTerm)
			}
		}(peerID)
	}
}

// resetElectionTimerLocked acquires n.mu and resets the election timer
// under it; callers must not hold n.mu.
func (n *Node) resetElectionTimerLocked() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetElectionTimer()
}

// stepDownLocked reverts to follower on discovering a higher term.
// Caller must hold n.mu.
func (n *Node) stepDownLocked(term uint64) {
	n.persistentState.currentTerm = term
	n.role = Follower
	n.persistentState.votedFor = ""
	n.persistOrDie()

	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
		n.heartbeatTicker = nil
	}
}

func (n *Node) becomeLeader(electedTerm uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Candidate || n.persistentState.currentTerm != electedTerm {
		return
	}

	n.role = Leader
	n.setLeader(n.ID)
	n.logf("became leader for term %d", electedTerm)

	lastLogIndex, _ := n.lastLogIndexAndTerm()
	for _, peerID := range n.peers {
		if peerID == n.ID {
			continue
		}
		n.leaderState.nextIndex[peerID] = lastLogIndex + 1
		n.leaderState.matchIndex[peerID] = 0
	}

	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}

	n.heartbeatTicker = time.NewTicker(n.heartbeatInterval)
	n.wg.Add(1)
	go n.sendHeartbeats()
}
