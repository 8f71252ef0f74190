package clientapi

import (
	"net/http"

	"github.com/konstantsiy/clustercore/internal/statemachine"
)

type CacheGetRequest struct {
	Key string `json:"key"`
}

type CacheGetResponse struct {
	Value []byte `json:"value,omitempty"`
	None  bool   `json:"none,omitempty"`
}

type CachePutRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type CachePutResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	var req CacheGetRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	value, found := s.machine.Cache.Get(req.Key)
	if !found {
		writeJSON(w, CacheGetResponse{None: true})
		return
	}
	writeJSON(w, CacheGetResponse{Value: value})
}

func (s *Server) handleCachePut(w http.ResponseWriter, r *http.Request) {
	var req CachePutRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd := statemachine.Command{
		Kind:       statemachine.CachePut,
		Key:        req.Key,
		Value:      req.Value,
		OriginNode: s.selfID,
	}

	var result statemachine.Result
	if err := s.propose(PathCachePut, cmd, req, &result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, CachePutResponse{OK: true})
}
