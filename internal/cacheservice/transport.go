package cacheservice

import (
	"encoding/json"
	"net/http"
)

// PathCacheProbe is the route peers expose for CacheRead probes, per
// spec §4.1's framing (type CacheRead, carried as an ordinary HTTP
// RPC over the shared transport rather than consensus).
const PathCacheProbe = "/internal/cache/probe"

type probeRequest struct {
	Key string `json:"key"`
}

type probeResponse struct {
	NodeID string    `json:"nodeId"`
	State  LineState `json:"state"`
	Value  []byte    `json:"value,omitempty"`
}

// poster is the subset of transport.Client's capability HTTPProber
// needs.
type poster interface {
	Post(peerID, addr, path string, req, resp any) error
	Broadcast(addrs map[string]string, path string, req any, newResp func() any) map[string]any
}

// HTTPProber broadcasts CacheRead probes to every peer over HTTP,
// implementing the Prober interface Directory.Get depends on.
type HTTPProber struct {
	client    poster
	addresses map[string]string
	selfID    string
}

func NewHTTPProber(client poster, addresses map[string]string, selfID string) *HTTPProber {
	return &HTTPProber{client: client, addresses: addresses, selfID: selfID}
}

func (p *HTTPProber) Probe(key string) []PeerState {
	peers := make(map[string]string, len(p.addresses))
	for id, addr := range p.addresses {
		if id != p.selfID {
			peers[id] = addr
		}
	}

	responses := p.client.Broadcast(peers, PathCacheProbe, probeRequest{Key: key}, func() any { return &probeResponse{} })

	states := make([]PeerState, 0, len(responses))
	for _, r := range responses {
		resp := r.(*probeResponse)
		if resp.State != Invalid && resp.State != "" {
			states = append(states, PeerState{NodeID: resp.NodeID, State: resp.State, Value: resp.Value})
		}
	}
	return states
}

// HTTPHandler exposes a Directory's probe responder over HTTP.
type HTTPHandler struct {
	dir *Directory
}

func NewHTTPHandler(dir *Directory) *HTTPHandler {
	return &HTTPHandler{dir: dir}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathCacheProbe, h.handleProbe)
}

func (h *HTTPHandler) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := h.dir.RespondToProbe(req.Key)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(probeResponse{NodeID: resp.NodeID, State: resp.State, Value: resp.Value})
}
