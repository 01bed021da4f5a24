// Package breakglass implements emergency, time-boxed role elevation under
// dual control.
//
// A request names a target principal, the roles it needs and a window. Two
// security admins other than the requester must approve it. The approval
// that reaches quorum triggers MaybeExecute, which claims the request with a
// conditional update and grants each role for the window. Only the caller
// whose update claimed the row performs the grants, so concurrent approvals
// or repeated calls grant each role once.
//
// States:
//
//	pending ──quorum──▶ approved ──claim──▶ executed ──▶ revoked
//	   │                   │
//	   ├──────revoke───────┴──▶ revoked
//	   └──window elapsed (sweep)──▶ expired
//
// Revoking an executed request also ends the target's break-glass grants for
// the requested roles.
package breakglass
