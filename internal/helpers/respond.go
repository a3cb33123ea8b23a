package helpers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/charlieegan3/social-relay/internal/apperr"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "WriteJSON",
			"error":    err,
		}).Warn("Failed to write response")
	}
}

// WriteError reports err with the status of its kind.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logrus.WithFields(logrus.Fields{
			"function": "WriteError",
			"method":   r.Method,
			"path":     r.URL.Path,
			"error":    err,
		}).Error("Request failed")
	}

	WriteJSON(w, apperr.Status(kind), ErrorBody{
		Error: apperr.Message(err),
		Kind:  kind,
	})
}

// WriteMessage writes a {"message": ...} body.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"message": message})
}

// DecodeJSON reads the request body into v.
func DecodeJSON(r *http.Request, v interface{}) error {
	payloadBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Invalid("failed to read request body")
	}
	if err := json.Unmarshal(payloadBytes, v); err != nil {
		return apperr.Invalid("request body is not valid JSON")
	}
	return nil
}
