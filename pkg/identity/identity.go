package identity

import (
	"context"
	"net"
	"strings"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// Key is the context key for Identity.
	Key ContextKey = "identity"
)

// Identity represents the resolved caller of a request.
// It combines the staff record behind the edge-asserted email with
// request-specific context.
type Identity struct {
	// Staff record
	PrincipalID string
	Email       string
	DisplayName string
	Roles       []string // effective roles at resolution time

	// Request context
	RemoteIP  net.IP
	UserAgent string
	RequestID string
}

// New creates an Identity for a resolved staff member.
func New(principalID, email string) *Identity {
	return &Identity{
		PrincipalID: principalID,
		Email:       NormalizeEmail(email),
	}
}

// WithDisplayName sets the display name.
func (i *Identity) WithDisplayName(name string) *Identity {
	i.DisplayName = name
	return i
}

// WithRoles sets the effective roles.
func (i *Identity) WithRoles(roles []string) *Identity {
	i.Roles = roles
	return i
}

// WithRemoteIP sets the remote IP address.
func (i *Identity) WithRemoteIP(ip net.IP) *Identity {
	i.RemoteIP = ip
	return i
}

// WithUserAgent sets the client user agent.
func (i *Identity) WithUserAgent(ua string) *Identity {
	i.UserAgent = ua
	return i
}

// WithRequestID sets the request correlation id.
func (i *Identity) WithRequestID(id string) *Identity {
	i.RequestID = id
	return i
}

// HasRole reports whether role was among the effective roles at resolution.
// Workflows re-check roles against the Role Authority; this is for display.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Get retrieves Identity from context.
func Get(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(Key).(*Identity)
	return id, ok
}

// Set stores Identity in context.
func Set(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, Key, id)
}
