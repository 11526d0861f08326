package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"media-relay/work/logger"
	"media-relay/work/types"
)

// StatusOf maps an error to the HTTP status of its envelope.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUpstream), errors.Is(err, types.ErrContentType):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes env with the given status.
func WriteJSON(w http.ResponseWriter, status int, env types.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Debug("{utils/response - WriteJSON} encoding response failed: %v", err)
	}
}

// WriteData writes a success envelope around data.
func WriteData(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, types.Envelope{Code: 0, Data: data, Msg: "ok"})
}

// WriteError writes the failure envelope of err: code -1, data null and the error text.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusOf(err), types.Envelope{Code: -1, Data: nil, Msg: err.Error()})
}
