package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/apperror"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code. Server-side failures are logged and
// answered with fallback so driver or transport details never reach callers.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error, fallback string) {
	status := apperror.HTTPStatus(err)
	message := apperror.PublicMessage(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg(fallback)
		message = fallback
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation("decode_body", "invalid JSON body")
	}
	return nil
}

const maxBodyBytes = 1 << 20
