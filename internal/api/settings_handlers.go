package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/telephony/internal/phonenumber"
	"github.com/flowpbx/telephony/internal/tone"
)

// settingValidators lists the writable settings. Each validator returns an
// error message, or "" if the value is acceptable.
var settingValidators = map[string]func(string) string{
	phonenumber.SettingEmergencyNumbers: validateEmergencyNumbers,
	tone.SettingEmergencyTone: func(v string) string {
		if _, err := tone.ParseMode(v); err != nil {
			return "value must be alert or off"
		}
		return ""
	},
}

func validateEmergencyNumbers(v string) string {
	numbers := phonenumber.ParseList(v)
	if len(numbers) == 0 {
		return "value must list at least one number"
	}
	for _, n := range numbers {
		n = phonenumber.Strip(n)
		if n == "" || strings.Trim(n, "0123456789") != "" {
			return "value must be a comma-separated list of digits"
		}
	}
	return ""
}

type settingRequest struct {
	Value string `json:"value"`
}

// handleListSettings returns all settings as a key/value object.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings store not configured")
		return
	}
	all, err := s.settings.GetAll(r.Context())
	if err != nil {
		s.logger.Error("failed to list settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make(map[string]string, len(all))
	for _, st := range all {
		out[st.Key] = st.Value
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpdateSetting stores one setting and notifies the change hook.
func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings store not configured")
		return
	}
	key := chi.URLParam(r, "key")
	validate, ok := settingValidators[key]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown setting")
		return
	}

	var req settingRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	req.Value = strings.TrimSpace(req.Value)
	if msg := firstError(
		validateStringLen("value", req.Value, maxValueLen),
		validateNoControlChars("value", req.Value),
		validate(req.Value),
	); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.settings.Set(r.Context(), key, req.Value); err != nil {
		s.logger.Error("failed to store setting", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("setting updated", "key", key)

	if s.onSettingChanged != nil {
		s.onSettingChanged(key, req.Value)
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
