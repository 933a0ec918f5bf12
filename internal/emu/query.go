package emu

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/afterdarksys/mockfactory/internal/fault"
)

// Helpers for the AWS Query protocol (EC2, SQS, IAM): form-encoded Action
// requests, XML responses, the ErrorResponse envelope.

type queryErrorResponse struct {
	XMLName xml.Name `xml:"ErrorResponse"`
	Error   struct {
		Type    string `xml:"Type"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
	RequestID string `xml:"RequestId"`
}

func writeQueryError(w http.ResponseWriter, status int, code, message string) {
	var body queryErrorResponse
	body.Error.Type = "Sender"
	if status >= 500 {
		body.Error.Type = "Receiver"
	}
	body.Error.Code = code
	body.Error.Message = message
	body.RequestID = uuid.NewString()
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(body)
}

func queryFault(w http.ResponseWriter, err error, notFoundCode string) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		writeQueryError(w, http.StatusBadRequest, notFoundCode, err.Error())
	case errors.Is(err, fault.ErrForbidden):
		writeQueryError(w, http.StatusForbidden, "AccessDenied", err.Error())
	case errors.Is(err, fault.ErrConflict):
		writeQueryError(w, http.StatusConflict, "ResourceAlreadyExists", err.Error())
	case errors.Is(err, fault.ErrInvalid):
		writeQueryError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, fault.ErrTooManyRequests):
		writeQueryError(w, http.StatusTooManyRequests, "Throttling", err.Error())
	default:
		writeQueryError(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}

// notImplementedQuery is the shared refusal for operations outside the
// supported subset of a Query-protocol family.
func notImplementedQuery(w http.ResponseWriter, action string) {
	writeQueryError(w, http.StatusNotImplemented, "NotImplemented",
		"action "+action+" is not supported")
}

// memberParams collects indexed form members like InstanceId.1, InstanceId.2.
func memberParams(form map[string][]string, prefix string) []string {
	var out []string
	for i := 1; ; i++ {
		vals, ok := form[prefix+"."+strconv.Itoa(i)]
		if !ok || len(vals) == 0 {
			break
		}
		out = append(out, vals[0])
	}
	return out
}

func awsResourceID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:17]
}
