package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
	"github.com/flowpbx/telephony/internal/telephony"
)

type mergeRequest struct {
	ConnectionIDs []string `json:"connection_ids"`
}

func (s *Server) handleListConferences(w http.ResponseWriter, r *http.Request) {
	confs := s.service.Registry().Conferences()
	sort.Slice(confs, func(i, j int) bool {
		return confs[i].CreatedAt().Before(confs[j].CreatedAt())
	})
	out := make([]telecom.ConferenceSnapshot, 0, len(confs))
	for _, c := range confs {
		out = append(out, telecom.SnapshotConference(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConference(w http.ResponseWriter, r *http.Request) {
	c := s.service.Registry().Conference(chi.URLParam(r, "id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "conference not found")
		return
	}
	writeJSON(w, http.StatusOK, telecom.SnapshotConference(c))
}

// handleMerge asks the radio to conference two connections. The conference
// itself appears once the radio reports the multiparty call.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len(req.ConnectionIDs) != 2 || req.ConnectionIDs[0] == req.ConnectionIDs[1] {
		writeError(w, http.StatusBadRequest, "connection_ids must name two different connections")
		return
	}

	registry := s.service.Registry()
	a := registry.Connection(req.ConnectionIDs[0])
	b := registry.Connection(req.ConnectionIDs[1])
	if a == nil || b == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}

	err := s.service.Merge(a, b)
	var stateErr *phone.CallStateError
	switch {
	case err == nil:
	case errors.Is(err, telephony.ErrNotManaged):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, telephony.ErrTechnologyMismatch), errors.Is(err, phone.ErrNoSuchCall), errors.As(err, &stateErr):
		writeError(w, http.StatusConflict, err.Error())
		return
	default:
		s.logger.Error("merge failed", "connection_ids", req.ConnectionIDs, "error", err)
		writeError(w, http.StatusInternalServerError, "merge failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string][]string{"connection_ids": req.ConnectionIDs})
}

func (s *Server) handleDisconnectConference(w http.ResponseWriter, r *http.Request) {
	c := s.service.Registry().Conference(chi.URLParam(r, "id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "conference not found")
		return
	}
	c.Disconnect()
	writeJSON(w, http.StatusAccepted, telecom.SnapshotConference(c))
}
