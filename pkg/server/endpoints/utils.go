package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

const maxBodyBytes = 1 << 20

func respondWithError(w http.ResponseWriter, code int, payload interface{}) {
	respondWithJSON(w, code, map[string]interface{}{"error": payload})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithFailure maps a workflow error to its status code. Internal
// errors are logged and answered with an opaque body.
func respondWithFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := sentinel.HTTPStatus(err)
	requestID := ""
	if id, ok := identity.Get(r.Context()); ok {
		requestID = id.RequestID
	}

	if code == http.StatusInternalServerError {
		logging.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		respondWithJSON(w, code, map[string]interface{}{
			"error":      "internal error",
			"code":       "internal",
			"request_id": requestID,
		})
		return
	}

	body := map[string]interface{}{
		"error": err.Error(),
		"code":  sentinel.Code(err),
	}
	var se *sentinel.StateError
	if errors.As(err, &se) {
		body["status"] = se.Status
	}
	respondWithJSON(w, code, body)
}

// decodeBody reads a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return sentinel.Invalid("failed to read body")
	}
	if len(body) > maxBodyBytes {
		return sentinel.Invalid("body exceeds %d bytes", maxBodyBytes)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return sentinel.Invalid("malformed JSON body: %v", err)
	}
	return nil
}

// caller returns the identity the middleware attached
func caller(r *http.Request) (*identity.Identity, error) {
	id, ok := identity.Get(r.Context())
	if !ok || id == nil || id.PrincipalID == "" {
		return nil, fmt.Errorf("no identity on request: %w", sentinel.ErrUnauthenticated)
	}
	return id, nil
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
