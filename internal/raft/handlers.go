package raft

import (
	"time"

	"github.com/konstantsiy/clustercore/internal/clustererr"
)

const (
	proposeTimeout = 2 * time.Second
	proposePoll    = 2 * time.Millisecond
)

func pollDeadline() func() bool {
	cutoff := time.Now().Add(proposeTimeout)
	return func() bool { return time.Now().After(cutoff) }
}

func sleepPoll() { time.Sleep(proposePoll) }

// HandleRequestVote implements the RequestVote RPC receiver of spec
// §4.2: a peer grants its vote at most once per term, and only to a
// candidate whose log is at least as up to date as its own.
func (n *Node) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.persistentState.currentTerm {
		return &RequestVoteResponse{Term: n.persistentState.currentTerm, VoteGranted: false}
	}

	if req.Term > n.persistentState.currentTerm {
		n.stepDownLocked(req.Term)
	}

	lastLogIndex, lastLogTerm := n.lastLogIndexAndTerm()
	logOK := req.LastLogTerm > lastLogTerm ||
		(req.LastLogTerm == lastLogTerm && req.LastLogIndex >= lastLogIndex)

	if !logOK || (n.persistentState.votedFor != "" && n.persistentState.votedFor != req.CandidateID) {
		return &RequestVoteResponse{Term: n.persistentState.currentTerm, VoteGranted: false}
	}

	n.persistentState.votedFor = req.CandidateID
	n.persistOrDie()
	n.resetElectionTimer()

	return &RequestVoteResponse{Term: n.persistentState.currentTerm, VoteGranted: true}
}

// HandleAppendEntries implements both heartbeats and log replication
// for the AppendEntries RPC receiver of spec §4.2, enforcing the
// prevLogIndex/prevLogTerm consistency check before truncating and
// appending the leader's entries.
func (n *Node) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.persistentState.currentTerm {
		return &AppendEntriesResponse{Term: n.persistentState.currentTerm, Success: false}
	}

	if req.Term > n.persistentState.currentTerm {
		n.stepDownLocked(req.Term)
	} else if n.role == Candidate {
		n.role = Follower
	}

	n.setLeader(req.LeaderID)
	n.resetElectionTimer()

	if req.PrevLogIndex > 0 {
		var prevTerm uint64
		found := false
		for _, e := range n.persistentState.log {
			if e.Index == req.PrevLogIndex {
				prevTerm = e.Term
				found = true
				break
			}
		}
		if !found || prevTerm != req.PrevLogTerm {
			return &AppendEntriesResponse{Term: n.persistentState.currentTerm, Success: false}
		}
	}

	kept := make([]LogEntry, 0, len(n.persistentState.log))
	for _, e := range n.persistentState.log {
		if e.Index <= req.PrevLogIndex {
			kept = append(kept, e)
		}
	}
	kept = append(kept, req.Entries...)
	n.persistentState.log = kept
	n.persistOrDie()

	if req.LeaderCommit > n.volatileState.commitIndex {
		lastIndex, _ := n.lastLogIndexAndTerm()
		if req.LeaderCommit < lastIndex {
			n.volatileState.commitIndex = req.LeaderCommit
		} else {
			n.volatileState.commitIndex = lastIndex
		}
		n.applyCommittedEntriesLocked()
	}

	return &AppendEntriesResponse{Term: n.persistentState.currentTerm, Success: true}
}

// Propose appends command to the leader's log and returns once it has
// been committed and applied, or an error if this node is not leader
// or the entry times out before committing (spec §4.3 "client proposal
// path").
func (n *Node) Propose(command []byte) ([]byte, error) {
	n.mu.Lock()
	if n.role != Leader {
		hint := n.curLeader
		n.mu.Unlock()
		return nil, &clustererr.NotLeaderError{LeaderHint: hint}
	}

	lastIndex, _ := n.lastLogIndexAndTerm()
	entry := LogEntry{Term: n.persistentState.currentTerm, Index: lastIndex + 1, Command: command}
	n.persistentState.log = append(n.persistentState.log, entry)
	n.persistOrDie()

	if len(n.peers) == 1 {
		n.volatileState.commitIndex = entry.Index
		n.applyCommittedEntriesLocked()
	}
	n.mu.Unlock()

	for _, peerID := range n.peers {
		if peerID != n.ID {
			go n.replicateLog(peerID)
		}
	}

	return n.awaitApplied(entry.Index)
}

func (n *Node) awaitApplied(index uint64) ([]byte, error) {
	deadline := pollDeadline()
	for {
		n.mu.Lock()
		applied := n.volatileState.lastApplied >= index
		role := n.role
		var result appliedResult
		if applied {
			result = n.appliedResults[index]
			delete(n.appliedResults, index)
		}
		n.mu.Unlock()

		if applied {
			return result.output, result.err
		}
		if role != Leader {
			return nil, clustererr.ErrLeaderUnknown
		}
		if deadline() {
			return nil, clustererr.ErrTimeout
		}
		sleepPoll()
	}
}
