package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps domain error codes onto HTTP statuses. Messages pass
// through only for client-caused failures; everything else is generic.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	if code, ok := domain.CodeFrom(err); ok {
		switch code {
		case domain.CodeInvalidArgument:
			status = http.StatusBadRequest
			message = err.Error()
		case domain.CodeNotFound:
			status = http.StatusNotFound
			message = "not found"
		case domain.CodeUnauthenticated:
			status = http.StatusUnauthorized
			message = "unauthorized"
		case domain.CodeUnavailable:
			status = http.StatusServiceUnavailable
			message = "unavailable"
		}
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: message})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.E(domain.CodeInvalidArgument, "api.decode", "invalid request body", err)
	}
	return nil
}

var errStreamingUnsupported = errors.New("response writer does not support streaming")
