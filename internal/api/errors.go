package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/poolfleet/internal/command"
	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/sender"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeBadGateway  = "bad_gateway"
	ErrCodeUnavailable = "unavailable"
)

// domainErrors maps package sentinels to responses, first match wins.
// Anything unmatched is a device or broker failure and becomes 502.
var domainErrors = []struct {
	target error
	status int
	code   string
}{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{command.ErrCommandNotFound, http.StatusNotFound, ErrCodeNotFound},
	{device.ErrUnknownFamily, http.StatusUnprocessableEntity, ErrCodeValidation},
	{command.ErrNoPublisher, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{command.ErrInvalidCommand, http.StatusInternalServerError, ErrCodeInternal},
	{command.ErrCoercion, http.StatusBadRequest, ErrCodeBadRequest},
	{sender.ErrInvalidLevel, http.StatusBadRequest, ErrCodeBadRequest},
	{command.ErrLevelOutOfRange, http.StatusBadRequest, ErrCodeBadRequest},
	{sender.ErrInvalidInterval, http.StatusBadRequest, ErrCodeBadRequest},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError translates an error from the registry, dispatcher or
// sender manager into a response.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
}
