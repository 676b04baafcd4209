package api

import (
	"net/http"

	"github.com/flowpbx/telephony/internal/database"
	"github.com/flowpbx/telephony/internal/database/models"
	"github.com/flowpbx/telephony/internal/telecom"
)

// handleListHistory pages through released connections, newest first.
// Query params: limit, offset, direction, cause.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	direction := q.Get("direction")
	switch direction {
	case "", telecom.DirectionIncoming.String(), telecom.DirectionOutgoing.String(), telecom.DirectionUnknown.String():
	default:
		writeError(w, http.StatusBadRequest, "direction must be \"incoming\", \"outgoing\", or \"unknown\"")
		return
	}
	cause := q.Get("cause")
	if msg := firstError(validateStringLen("cause", cause, 40), validateNoControlChars("cause", cause)); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	filter := database.ConnectionRecordFilter{
		Direction: direction,
		Cause:     cause,
		Limit:     pg.Limit,
		Offset:    pg.Offset,
	}

	records, total, err := s.records.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []models.ConnectionRecord{}
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  records,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}
