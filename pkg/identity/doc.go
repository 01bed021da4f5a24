// Package identity carries the resolved caller through a request.
//
// Authentication happens at the edge: an access proxy injects the
// authenticated email in a header. The server middleware resolves that email
// through a Directory into a staff principal, attaches the caller's current
// roles and stores the result in the request context.
//
//	id := identity.New(staff.ID, staff.Email).
//	    WithRoles(roles).
//	    WithRemoteIP(clientIP)
//	ctx = identity.Set(ctx, id)
//
//	id, ok := identity.Get(ctx)
//
// Workflows never trust Identity.Roles for authorization decisions; they ask
// the Role Authority at the moment of the check.
package identity
