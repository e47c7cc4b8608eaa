package poolhttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	selfplay "github.com/rlworks/go-selfplay"
)

// Server serves a selfplay.PoolStore over HTTP. The wrapped store
// provides the atomicity; the server only translates requests.
type Server struct {
	store selfplay.PoolStore
	mux   *http.ServeMux
}

// NewServer returns a Server wrapping the given store.
func NewServer(store selfplay.PoolStore) *Server {
	s := &Server{store: store, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/latest", s.handleLatest)
	s.mux.HandleFunc("/v1/opponents", s.handleOpponents)
	s.mux.HandleFunc("/v1/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("/v1/qualities", s.handleQualities)
	s.mux.HandleFunc("/v1/quality-delta", s.handleQualityDelta)
	s.mux.HandleFunc("/v1/rollouts", s.handleRollouts)
	s.mux.HandleFunc("/v1/rollouts/pop", s.handleRolloutsPop)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, err := s.store.ReadLatest()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, snapshotJSON{Params: snap.Params, Version: snap.Version})
	case http.MethodPost:
		var req snapshotJSON
		if !readJSON(w, r, &req) {
			return
		}
		if err := s.store.PublishLatest(req.Params, req.Version); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOpponents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		n, err := s.store.NumOpponents()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, countResponse{Count: n})
	case http.MethodPost:
		var req promoteRequest
		if !readJSON(w, r, &req) {
			return
		}
		index, err := s.store.PromoteSnapshot(req.Params)
		if err != nil {
			writeError(w, err)
			return
		}
		glog.V(1).Infof("promoted snapshot %d (%d bytes)", index, len(req.Params))
		writeJSON(w, promoteResponse{Index: index})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}

	snap, err := s.store.ReadSnapshot(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snapshotJSON{Params: snap.Params, Version: snap.Version})
}

func (s *Server) handleQualities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	qualities, err := s.store.ReadQualities()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, qualitiesResponse{Qualities: qualities})
}

func (s *Server) handleQualityDelta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deltaRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.store.ApplyQualityDelta(req.Index, req.Delta); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRollouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pushRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.store.PushRollouts(req.Payloads); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRolloutsPop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req popRequest
	if !readJSON(w, r, &req) {
		return
	}
	payloads, err := s.store.PopRollouts(req.Max)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, popResponse{Payloads: payloads})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("writing response: %v", err)
	}
}

// writeError maps store errors onto statuses the client can translate
// back into the same sentinel errors.
func writeError(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case selfplay.ErrNoLatest:
		http.Error(w, err.Error(), http.StatusNotFound)
	case selfplay.ErrIndexOutOfRange:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		glog.Warningf("store error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
