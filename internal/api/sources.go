package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

type sourceRequest struct {
	URL string `json:"url"`
}

type bulkSourceRequest struct {
	URLs []string `json:"urls"`
}

type bulkSourceResult struct {
	URL    string `json:"url"`
	ID     int64  `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.degraded(w, []staffing.Source{}, err)
		return
	}
	meta := s.newMeta()
	meta["count"] = len(sources)
	s.respond(w, sources, meta)
}

func (s *Server) addSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON")
		return
	}
	if !validSourceURL(req.URL) {
		s.badRequest(w, "url must be absolute http or https")
		return
	}

	src, err := s.store.AddSource(r.Context(), req.URL)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusCreated, envelope{Data: src, Meta: s.newMeta()})
}

func (s *Server) addSourcesBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.badRequest(w, "urls is required")
		return
	}

	results := make([]bulkSourceResult, 0, len(req.URLs))
	added := 0
	for _, raw := range req.URLs {
		if !validSourceURL(raw) {
			results = append(results, bulkSourceResult{URL: raw, Status: "rejected", Error: "invalid url"})
			continue
		}
		src, err := s.store.AddSource(r.Context(), raw)
		if err != nil {
			status := "error"
			if errors.Is(err, staffing.ErrDuplicateSource) {
				status = "duplicate"
			}
			results = append(results, bulkSourceResult{URL: raw, Status: status, Error: err.Error()})
			continue
		}
		added++
		results = append(results, bulkSourceResult{URL: raw, ID: src.ID, Status: "added"})
	}

	meta := s.newMeta()
	meta["requested"] = len(req.URLs)
	meta["added"] = added
	s.respond(w, results, meta)
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "source_id"), 10, 64)
	if err != nil {
		s.badRequest(w, "invalid source id")
		return
	}
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON")
		return
	}
	if !validSourceURL(req.URL) {
		s.badRequest(w, "url must be absolute http or https")
		return
	}

	if err := s.store.UpdateSource(r.Context(), id, req.URL); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.respond(w, map[string]any{"id": id, "url": req.URL}, nil)
}

func (s *Server) removeSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "source_id"), 10, 64)
	if err != nil {
		s.badRequest(w, "invalid source id")
		return
	}
	if err := s.store.RemoveSource(r.Context(), id); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.respond(w, map[string]any{"id": id, "removed": true}, nil)
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, staffing.ErrSourceNotFound):
		writeJSON(s.logger, w, http.StatusNotFound, map[string]string{"error": "source not found"})
	case errors.Is(err, staffing.ErrDuplicateSource):
		writeJSON(s.logger, w, http.StatusConflict, map[string]string{"error": "source url already registered"})
	default:
		s.degraded(w, nil, err)
	}
}

func validSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
