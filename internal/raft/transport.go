package raft

import "fmt"

// httpPaths used for Raft RPCs, registered by cmd/clustercore against
// an internal/transport.Client, mirroring the teacher's
// raft-server/http_handler.go route names.
const (
	PathRequestVote   = "/raft/request_vote"
	PathAppendEntries = "/raft/append_entries"
)

// postClient is the minimal slice of transport.Client's capability
// the HTTPTransport adapter needs, kept as an interface so raft tests
// never have to spin up real HTTP.
type postClient interface {
	Post(peerID, addr, path string, req, resp any) error
}

// HTTPTransport adapts a postClient plus a static peer address book
// into the raft.Transport interface, generalising the teacher's
// RaftClient to string peer ids.
type HTTPTransport struct {
	client    postClient
	addresses map[string]string
}

func NewHTTPTransport(client postClient, addresses map[string]string) *HTTPTransport {
	return &HTTPTransport{client: client, addresses: addresses}
}

func (t *HTTPTransport) SendRequestVote(peerID string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	addr, ok := t.addresses[peerID]
	if !ok {
		return nil, fmt.Errorf("unknown peer %q", peerID)
	}
	resp := &RequestVoteResponse{}
	if err := t.client.Post(peerID, addr, PathRequestVote, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *HTTPTransport) SendAppendEntries(peerID string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	addr, ok := t.addresses[peerID]
	if !ok {
		return nil, fmt.Errorf("unknown peer %q", peerID)
	}
	resp := &AppendEntriesResponse{}
	if err := t.client.Post(peerID, addr, PathAppendEntries, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
