// Package audit records privileged actions.
//
// Workflows call Sink.Log with an Entry naming the action and its target.
// The production Recorder attaches the caller from the request identity,
// writes an RFC5424 line and appends a row to audit_events.
//
// # Tamper evidence
//
// Every row stores the SHA-256 of its own content together with the hash of
// the row before it. Store.Verify recomputes the chain; editing or deleting a
// row breaks it from that point on. Appends take a transaction-scoped
// advisory lock so concurrent writers cannot fork the chain.
//
// # Best effort
//
// Audit is not transactional with the workflow that triggered it. A failed
// append is logged and counted in torvus_audit_failures_total, and the
// workflow step still completes.
//
// # Usage
//
//	sink.Log(ctx, audit.Entry{
//	    Action:     "elevation.requested",
//	    TargetType: "elevation_request",
//	    TargetID:   id,
//	    Meta:       map[string]any{"roles": roles},
//	})
package audit
