package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/afterdarksys/mockfactory/internal/fault"
)

// apiError is the JSON error envelope of the control-plane API.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeFault maps internal error kinds onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, fault.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, fault.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, fault.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, fault.ErrInvalid):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, fault.ErrTooManyRequests):
		status, code = http.StatusTooManyRequests, "too_many_requests"
	case errors.Is(err, fault.ErrTimeout):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, fault.ErrProvisioning):
		status, code = http.StatusInternalServerError, "provisioning_failure"
	}

	if status >= http.StatusInternalServerError {
		// 5xx details stay in the logs.
		writeError(w, status, code, code)
		return
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body apiError
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
