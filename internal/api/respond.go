package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// envelope is the shape of every data response.
type envelope struct {
	Data any            `json:"data"`
	Meta map[string]any `json:"meta"`
}

func (s *Server) newMeta() map[string]any {
	return map[string]any{
		"current_time": s.clock.Now().In(staffing.Zone()).Format(time.RFC3339),
	}
}

// respond writes a successful envelope.
func (s *Server) respond(w http.ResponseWriter, data any, meta map[string]any) {
	if meta == nil {
		meta = s.newMeta()
	} else {
		meta["current_time"] = s.clock.Now().In(staffing.Zone()).Format(time.RFC3339)
	}
	writeJSON(s.logger, w, http.StatusOK, envelope{Data: data, Meta: meta})
}

// degraded writes an empty but well-formed envelope carrying the error in
// meta. The status stays 200: a read failure degrades the view, it does
// not break the API contract.
func (s *Server) degraded(w http.ResponseWriter, data any, err error) {
	meta := s.newMeta()
	meta["error"] = err.Error()
	writeJSON(s.logger, w, http.StatusOK, envelope{Data: data, Meta: meta})
}

// badRequest rejects a malformed request. Bad parameters are the only
// client-visible 4xx on the data paths.
func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	meta := s.newMeta()
	meta["error"] = msg
	writeJSON(s.logger, w, http.StatusBadRequest, envelope{Data: nil, Meta: meta})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
