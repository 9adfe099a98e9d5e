package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"peerlend/services/lending/engine"
)

// toStatus maps service errors onto HTTP status codes.
func toStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidAmount), errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrConflict), errors.Is(err, engine.ErrNotLiquidatable):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientCollateral), errors.Is(err, engine.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrPaused), errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal detail from callers.
func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError || err == nil {
		return "internal error"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return http.StatusText(status)
	}
	return message
}

func writeError(w http.ResponseWriter, err error) int {
	status := toStatus(err)
	writeJSONError(w, status, errorMessage(status, err))
	return status
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, errorMessage(http.StatusBadRequest, err))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(fmt.Sprintf("{\"error\":%q}", http.StatusText(status)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
