// Package quorum enforces dual control for every approval workflow.
//
// An Engine is built once per workflow from a Policy: how many distinct
// approvals unlock the request, which roles may approve, which statuses
// still accept decisions and whether a single reject decides the outcome.
//
// The ledger's unique index on (request_id, approver_id) is the only guard
// against duplicate decisions. RecordDecision never reads before it writes;
// a conflicting insert is reported as sentinel.ErrAlreadyDecided. The tally
// is re-read after every insert, so two approvals racing to be second both
// see quorum and both reach the workflow's execute step. That step must be
// idempotent.
//
// # Single-approver override
//
// Binaries built with the torvus_devquorum tag can relax every policy to one
// approval when TORVUS_ENV is not production and TORVUS_DEV_SINGLE_APPROVER=1.
// Release builds compile the override out. Whenever it changes a quorum
// decision the engine logs a warning.
package quorum
