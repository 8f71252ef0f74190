package clientapi

import "net/http"

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.Status())
}
