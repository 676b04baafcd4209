package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
	"github.com/flowpbx/telephony/internal/telephony"
)

// accountRequest is the account handle a creation request is made on.
type accountRequest struct {
	Component string `json:"component"`
	ID        string `json:"id"`
}

func (a accountRequest) handle() phone.AccountHandle {
	return phone.AccountHandle{ComponentName: a.Component, ID: a.ID}
}

func (a accountRequest) validate() string {
	return firstError(
		validateStringLen("account.component", a.Component, 200),
		validateStringLen("account.id", a.ID, 40),
	)
}

type outgoingRequest struct {
	Account    accountRequest   `json:"account"`
	Address    string           `json:"address"`
	VideoState phone.VideoState `json:"video_state"`
}

type createRequest struct {
	Account accountRequest `json:"account"`
}

type videoStateRequest struct {
	VideoState phone.VideoState `json:"video_state"`
}

type answerReleaseResponse struct {
	ConnectionID string `json:"connection_id"`
	Pending      int    `json:"pending"`
}

func validateVideoState(v phone.VideoState) string {
	if v < 0 || v > phone.VideoBidirectional|phone.VideoPaused {
		return "video_state is out of range"
	}
	return ""
}

// dialAddress parses a dial string. A bare number is treated as tel.
func dialAddress(s string) telecom.Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return telecom.Address{}
	}
	addr := telecom.ParseAddress(s)
	if addr.Scheme == "" {
		return telecom.TelAddress(s)
	}
	return addr
}

func snapshotConnections(conns []telecom.Connection) []telecom.ConnectionSnapshot {
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].CreatedAt().Before(conns[j].CreatedAt())
	})
	out := make([]telecom.ConnectionSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, telecom.SnapshotConnection(c))
	}
	return out
}

// lookupConnection resolves the {id} parameter, writing a 404 if unknown.
func (s *Server) lookupConnection(w http.ResponseWriter, r *http.Request) telecom.Connection {
	c := s.service.Registry().Connection(chi.URLParam(r, "id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return nil
	}
	return c
}

// handleListConnections returns all live connections, oldest first.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotConnections(s.service.Registry().Connections()))
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	c := s.lookupConnection(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, telecom.SnapshotConnection(c))
}

// handleCreateOutgoing places a call. A request the service refuses still
// yields a connection: it comes back disconnected with the cause.
func (s *Server) handleCreateOutgoing(w http.ResponseWriter, r *http.Request) {
	var req outgoingRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := firstError(
		req.Account.validate(),
		validateStringLen("address", req.Address, maxAddressLen),
		validateNoControlChars("address", req.Address),
		validateVideoState(req.VideoState),
	); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c := s.service.CreateOutgoing(r.Context(), req.Account.handle(), telephony.OutgoingRequest{
		Address:    dialAddress(req.Address),
		VideoState: req.VideoState,
	})
	s.writeCreated(w, c)
}

func (s *Server) handleCreateIncoming(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := req.Account.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	s.writeCreated(w, s.service.CreateIncoming(r.Context(), req.Account.handle()))
}

func (s *Server) handleCreateUnknown(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := req.Account.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	s.writeCreated(w, s.service.CreateUnknown(r.Context(), req.Account.handle()))
}

// writeCreated answers 201 for a live connection and 200 for a refused one,
// which is never registered.
func (s *Server) writeCreated(w http.ResponseWriter, c telecom.Connection) {
	status := http.StatusCreated
	if c.State() == telecom.StateDisconnected {
		status = http.StatusOK
	}
	writeJSON(w, status, telecom.SnapshotConnection(c))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req videoStateRequest
	if msg := readOptionalJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateVideoState(req.VideoState); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	c := s.lookupConnection(w, r)
	if c == nil {
		return
	}
	c.Answer(req.VideoState)
	writeJSON(w, http.StatusAccepted, telecom.SnapshotConnection(c))
}

type connectionAction func(telecom.Connection)

var (
	actionReject     connectionAction = func(c telecom.Connection) { c.Reject() }
	actionDisconnect connectionAction = func(c telecom.Connection) { c.Disconnect() }
	actionHold       connectionAction = func(c telecom.Connection) { c.Hold() }
	actionUnhold     connectionAction = func(c telecom.Connection) { c.Unhold() }
)

// handleConnectionAction applies a body-less request to a connection. The
// radio reports the outcome through state changes, so the response only
// acknowledges the request.
func (s *Server) handleConnectionAction(action connectionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := s.lookupConnection(w, r)
		if c == nil {
			return
		}
		action(c)
		writeJSON(w, http.StatusAccepted, telecom.SnapshotConnection(c))
	}
}

func (s *Server) handleAnswerAndRelease(w http.ResponseWriter, r *http.Request) {
	var req videoStateRequest
	if msg := readOptionalJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateVideoState(req.VideoState); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	id := chi.URLParam(r, "id")
	h, err := s.service.AnswerAndRelease(id, req.VideoState)
	if errors.Is(err, telephony.ErrNotFound) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	if err != nil {
		s.logger.Error("answer and release failed", "connection_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, answerReleaseResponse{ConnectionID: id, Pending: h.Pending()})
}
