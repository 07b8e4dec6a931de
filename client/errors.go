package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by the repository. Callers branch with errors.Is;
// every returned error also carries a human-readable description.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("forbidden")
	ErrServer     = errors.New("server error")
	ErrNetwork    = errors.New("network error")
	ErrUnexpected = errors.New("unexpected error")
)

// errorFromResponse maps a non-2xx response to an error kind, preferring the
// server's {"error": "..."} body for the description.
func errorFromResponse(statusCode int, body []byte) error {
	msg := http.StatusText(statusCode)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	var kind error
	switch {
	case statusCode == http.StatusNotFound:
		kind = ErrNotFound
	case statusCode == http.StatusBadRequest:
		kind = ErrBadRequest
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = ErrForbidden
	case statusCode >= 500:
		kind = ErrServer
	default:
		kind = ErrUnexpected
	}
	return fmt.Errorf("%w: %s", kind, msg)
}
