// Package middleware resolves the caller of every API request.
//
// The edge access layer authenticates staff and forwards their email in a
// header. Identity turns that header into an identity.Identity carrying the
// staff principal and the roles it holds right now.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/logging"
)

// RequestIDHeader is echoed back on every response
const RequestIDHeader = "X-Request-Id"

// RoleResolver lists the roles a principal holds at a point in time
type RoleResolver interface {
	RolesAt(ctx context.Context, principalID string, asOf time.Time) ([]string, error)
}

// Identity is middleware that authenticates requests from the identity header
type Identity struct {
	Header    string
	Directory identity.Directory
	Roles     RoleResolver
	// Trusted reports whether a peer address may assert identity and
	// forwarding headers. Nil trusts every peer.
	Trusted func(ip string) bool
	// Verifier, when set, requires a valid access assertion whose email
	// matches the header
	Verifier *AccessVerifier
}

// Middleware returns an HTTP middleware that rejects unauthenticated requests
func (m *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		peer := peerIP(r)
		if m.Trusted != nil && !m.Trusted(peer) {
			unauthorized(w, requestID, "request did not come through the access proxy")
			return
		}

		email := identity.NormalizeEmail(r.Header.Get(m.Header))
		if email == "" {
			unauthorized(w, requestID, "no identity asserted")
			return
		}
		if m.Verifier != nil {
			asserted, err := m.Verifier.Verify(r.Header.Get(AssertionHeader))
			if err != nil || identity.NormalizeEmail(asserted) != email {
				logging.WithFields(logrus.Fields{"request_id": requestID, "email": email}).
					WithError(err).Warn("access assertion did not verify")
				unauthorized(w, requestID, "invalid access assertion")
				return
			}
		}

		staff, err := m.Directory.ResolveEmail(r.Context(), email)
		if err != nil {
			unauthorized(w, requestID, "unknown or inactive staff member")
			return
		}
		roles, err := m.Roles.RolesAt(r.Context(), staff.ID, time.Now().UTC())
		if err != nil {
			logging.WithFields(logrus.Fields{"request_id": requestID}).WithError(err).Error("failed to resolve roles")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "request_id": requestID})
			return
		}

		id := identity.New(staff.ID, staff.Email).
			WithDisplayName(staff.DisplayName).
			WithRoles(roles).
			WithRemoteIP(net.ParseIP(clientIP(r, peer))).
			WithUserAgent(r.UserAgent()).
			WithRequestID(requestID)

		next.ServeHTTP(w, r.WithContext(identity.Set(r.Context(), id)))
	})
}

// clientIP is the first X-Forwarded-For hop for trusted peers, else the peer
func clientIP(r *http.Request, peer string) string {
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return peer
	}
	first := strings.TrimSpace(strings.Split(fwd, ",")[0])
	if net.ParseIP(first) == nil {
		return peer
	}
	return first
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func unauthorized(w http.ResponseWriter, requestID, msg string) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":      msg,
		"code":       "unauthenticated",
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
