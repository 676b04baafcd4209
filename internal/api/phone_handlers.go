package api

import (
	"net/http"
	"strings"

	"github.com/flowpbx/telephony/internal/phone"
)

// PhoneSimulator is implemented by voice stacks that accept network-side
// events from the API, such as the simulated slots.
type PhoneSimulator interface {
	phone.Phone
	Ring(number string) phone.Connection
	SetServiceState(s phone.ServiceState)
	FindConnection(address string) phone.Connection
	RemoteHangup(conn phone.Connection, cause phone.DisconnectCause)
}

type phoneResponse struct {
	ID                    int    `json:"id"`
	Type                  string `json:"type"`
	ServiceState          string `json:"service_state"`
	VoiceMailNumber       string `json:"voicemail_number"`
	EmergencyCallbackMode bool   `json:"emergency_callback_mode"`
	Default               bool   `json:"default"`
	Simulated             bool   `json:"simulated"`
}

type ringRequest struct {
	Number string `json:"number"`
}

type serviceStateRequest struct {
	State string `json:"state"`
}

type remoteHangupRequest struct {
	Number string `json:"number"`
	Cause  string `json:"cause"`
}

type legResponse struct {
	Address string `json:"address"`
	State   string `json:"state"`
}

func (s *Server) phoneView(p phone.Phone) phoneResponse {
	_, simulated := p.(PhoneSimulator)
	def := s.phones.Default()
	return phoneResponse{
		ID:                    p.ID(),
		Type:                  p.Type().String(),
		ServiceState:          p.ServiceState().String(),
		VoiceMailNumber:       p.VoiceMailNumber(),
		EmergencyCallbackMode: p.IsInEmergencyCallbackMode(),
		Default:               def != nil && def.ID() == p.ID(),
		Simulated:             simulated,
	}
}

func (s *Server) lookupPhone(w http.ResponseWriter, r *http.Request) phone.Phone {
	id, ok := phoneIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone id")
		return nil
	}
	p := s.phones.Get(id)
	if p == nil {
		writeError(w, http.StatusNotFound, "phone not found")
		return nil
	}
	return p
}

// lookupSimulator is lookupPhone for the network-side controls.
func (s *Server) lookupSimulator(w http.ResponseWriter, r *http.Request) PhoneSimulator {
	p := s.lookupPhone(w, r)
	if p == nil {
		return nil
	}
	sim, ok := p.(PhoneSimulator)
	if !ok {
		writeError(w, http.StatusNotImplemented, "phone does not accept simulated network events")
		return nil
	}
	return sim
}

func (s *Server) handleListPhones(w http.ResponseWriter, r *http.Request) {
	phones := s.phones.Phones()
	out := make([]phoneResponse, 0, len(phones))
	for _, p := range phones {
		out = append(out, s.phoneView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPhone(w http.ResponseWriter, r *http.Request) {
	p := s.lookupPhone(w, r)
	if p == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.phoneView(p))
}

// handleRing delivers a new incoming call to the phone.
func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	var req ringRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	req.Number = strings.TrimSpace(req.Number)
	if msg := firstError(
		validateRequiredStringLen("number", req.Number, maxAddressLen),
		validateNoControlChars("number", req.Number),
	); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p := s.lookupSimulator(w, r)
	if p == nil {
		return
	}
	leg := p.Ring(req.Number)
	s.logger.Info("simulated incoming call", "phone_id", p.ID(), "number", req.Number)
	writeJSON(w, http.StatusCreated, legResponse{Address: leg.Address(), State: leg.State().String()})
}

func (s *Server) handleSetServiceState(w http.ResponseWriter, r *http.Request) {
	var req serviceStateRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	state, err := phone.ParseServiceState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, "state is not a valid service state")
		return
	}

	p := s.lookupSimulator(w, r)
	if p == nil {
		return
	}
	p.SetServiceState(state)
	writeJSON(w, http.StatusOK, s.phoneView(p))
}

// handleRemoteHangup ends the live leg with the given number from the
// network side. The cause defaults to a normal clearing.
func (s *Server) handleRemoteHangup(w http.ResponseWriter, r *http.Request) {
	var req remoteHangupRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateRequiredStringLen("number", req.Number, maxAddressLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	cause := phone.CauseNormal
	if req.Cause != "" {
		c, err := phone.ParseDisconnectCause(req.Cause)
		if err != nil || c == phone.CauseNotDisconnected {
			writeError(w, http.StatusBadRequest, "cause is not a valid disconnect cause")
			return
		}
		cause = c
	}

	p := s.lookupSimulator(w, r)
	if p == nil {
		return
	}
	leg := p.FindConnection(req.Number)
	if leg == nil {
		writeError(w, http.StatusNotFound, "no live call with that number")
		return
	}
	p.RemoteHangup(leg, cause)
	writeJSON(w, http.StatusAccepted, legResponse{Address: leg.Address(), State: leg.State().String()})
}
