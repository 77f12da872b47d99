package utils

import (
	"encoding/json"
	"net/http"
	"time"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ErrorResponse builds a failure envelope. code is a stable machine-readable
// identifier such as SEATS_UNAVAILABLE; data may carry details like the
// conflicting seat ids.
func ErrorResponse(message, code, err string, data interface{}) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Error:     err,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// WriteJSON encodes resp with the given status code.
func WriteJSON(w http.ResponseWriter, status int, resp APIResponse) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(resp)
}
