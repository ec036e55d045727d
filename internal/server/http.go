package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"go.uber.org/zap"
)

// StatusPath serves a JSON Status snapshot
const StatusPath = "/status"

// Status describes the bridge at one point in time
type Status struct {
	Upstream       string   `json:"upstream"`
	Framing        string   `json:"framing"`
	Clients        []string `json:"clients"`
	BytesFromRadio uint64   `json:"bytes_from_radio"`
	BytesToRadio   uint64   `json:"bytes_to_radio"`
	Capture        string   `json:"capture,omitempty"`
}

// Status returns the current bridge status
func (s *Server) Status() Status {
	s.mu.Lock()
	clients := make([]string, 0, len(s.activeConns))
	for addr := range s.activeConns {
		clients = append(clients, addr)
	}
	s.mu.Unlock()
	sort.Strings(clients)

	return Status{
		Upstream:       s.upstream.String(),
		Framing:        s.framer.Name(),
		Clients:        clients,
		BytesFromRadio: s.fromRadio.Load(),
		BytesToRadio:   s.toRadio.Load(),
		Capture:        s.capture.Path(),
	}
}

func (s *Server) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(RadioPath, s.handleWebSocket)
	mux.HandleFunc(StatusPath, s.handleStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		s.log.Debug("Failed to write status", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
	}
}
