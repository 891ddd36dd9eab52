package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/model"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message, param string) {
	writeJSON(w, status, errorBody{Error: code, Message: message, Param: param})
}

// writeScoringError maps scoring errors onto HTTP statuses. Collaborator
// failures are logged with their cause and reported generically.
func (s *Server) writeScoringError(w http.ResponseWriter, r *http.Request, err error) {
	if ie, ok := model.AsInputError(err); ok {
		writeError(w, http.StatusBadRequest, "invalid_parameter", ie.Reason, ie.Param)
		return
	}
	if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		writeError(w, http.StatusGatewayTimeout, "timeout", "request cancelled before scoring finished", "")
		return
	}
	if model.IsUnavailable(err) {
		s.log.Error("scoring unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", model.ErrScoringUnavailable.Error(), "")
		return
	}
	s.log.Error("scoring failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", "internal error", "")
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON: "+err.Error(), "body")
		return false
	}
	return true
}
