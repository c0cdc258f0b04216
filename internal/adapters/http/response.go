package http

import (
	"encoding/json"
	"net/http"
)

// successEnvelope wraps every 2xx body. RequestID echoes X-Request-Id so
// clients can quote it when reporting a problem.
type successEnvelope[T any] struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	Data      T      `json:"data"`
}

// errorEnvelope carries the stable error code and the request id the
// failure was logged under.
type errorEnvelope struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess[T any](w http.ResponseWriter, r *http.Request, statusCode int, data T) {
	writeJSON(w, statusCode, successEnvelope[T]{
		Status:    "success",
		RequestID: requestIDFromContext(r.Context()),
		Data:      data,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorEnvelope{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeRejection logs a failed operation and writes its error envelope.
func writeRejection(w http.ResponseWriter, r *http.Request, operation string, statusCode int, code, message string, err error) {
	logHTTPOperationError(r, operation, statusCode, code, message, err)
	writeError(w, r, statusCode, code, message)
}
