// Package model defines the database models for Torvus Console.
//
// This package contains GORM models that map to the PostgreSQL schema in
// db/migrations. The same models are auto-migrated into SQLite for tests.
//
// # Core Models
//
//   - Staff: principals known to the console, keyed by email
//   - Role: the role catalog
//   - RoleMembership: permanent and time-boxed role grants
//   - ElevationRequest: break-glass requests for temporary roles
//   - SecretChangeRequest: proposed create, rotate or reveal of a secret
//   - Secret: applied, encrypted, versioned secret values
//   - ReleaseRequest: release approvals
//   - Approval: one decision per approver per request
//
// # Database Schema
//
//   - staff, roles, role_memberships
//   - elevation_requests, elevation_approvals
//   - secret_change_requests, secret_change_approvals, secrets
//   - release_requests, release_approvals
//
// The audit_events table is written by pkg/audit through database/sql and has
// no GORM model.
package model
