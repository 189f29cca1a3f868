package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
)

type errorBody struct {
	Kind      apperr.Kind `json:"kind,omitempty"`
	Code      string      `json:"code"`
	Entity    string      `json:"entity,omitempty"`
	ID        string      `json:"id,omitempty"`
	Message   string      `json:"message,omitempty"`
	Retryable bool        `json:"retryable"`
}

// statusOf maps a domain failure to its HTTP status.
func statusOf(e *apperr.Error) int {
	if e.Code == apperr.NotFound {
		return http.StatusNotFound
	}
	switch e.Kind {
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindEconomic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		zap.L().Error("api: internal error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeStatus(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, statusOf(e), errorBody{
		Kind:      e.Kind,
		Code:      string(e.Code),
		Entity:    e.Entity,
		ID:        e.ID,
		Message:   e.Message,
		Retryable: e.Retryable(),
	})
}

// decode reads a JSON body into v, reporting malformed input as a
// validation failure.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Newf(apperr.InvalidInput, "request", "", "malformed body: %v", err)
	}
	return nil
}
