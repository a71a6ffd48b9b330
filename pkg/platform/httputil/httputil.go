// Package httputil centralizes JSON encoding and domain error translation so
// every handler returns the same envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "escorte/pkg/domain-errors"
)

// WriteJSON encodes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto the shared JSON error envelope.
// Unclassified errors surface as internal_error without leaking details.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	var de dErrors.DomainError
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		body["message"] = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// ReadJSON decodes a request body, rejecting unknown fields.
func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON payload")
	}
	return nil
}
