// Command torvusctl runs the Torvus Console, a dual-control engine for
// privileged operations.
//
// Every privileged change needs a requester and a distinct quorum of
// approvers before it takes effect. The console covers three workflows:
//
//   - break-glass elevation: temporary role grants during an incident
//   - secret changes: create, rotate and reveal of encrypted secrets
//   - release approvals: admins approve or reject a release before it ships
//
// Every transition is written to a hash-chained audit log.
//
// # Architecture
//
//   - pkg/server: HTTP server, identity middleware and endpoints
//   - pkg/quorum: shared approval engine and ledgers
//   - pkg/breakglass, pkg/secrets, pkg/release: the workflows
//   - pkg/roles: time-bounded role memberships
//   - pkg/identity: staff directory and request identity
//   - pkg/audit: audit sink, logger and hash-chained store
//   - pkg/notify: shoutrrr and signed webhook channels
//   - pkg/seal: AES-GCM sealing of secret material
//   - pkg/sweep: scheduled expiry of stale requests
//   - pkg/config, pkg/logging, pkg/metrics: ambient configuration
//
// # Quick Start
//
//	# Generate a data key for secret encryption
//	export TORVUS_DATA_KEY="$(torvusctl data-key generate)"
//
//	# Run database migrations
//	torvusctl db migrate
//
//	# Add staff and grant roles
//	torvusctl staff add alice alice@torvus.io --name "Alice"
//	torvusctl role grant alice investigator
//
//	# Start the server
//	torvusctl server
//
// # Environment Variables
//
//   - DATABASE_URL: PostgreSQL connection string
//   - AUDIT_DATABASE_URL: audit store connection string (defaults to DATABASE_URL)
//   - TORVUS_DATA_KEY: Base64-encoded 256-bit key for secret encryption
//   - TORVUS_CONFIG_PATH: directory holding torvus.yml
//   - TORVUS_ENV: development, staging or production
//   - TORVUS_LOG_LEVEL: debug for verbose text logs
//   - TORVUS_LOG_FILE: optional rotated log file
//   - PORT: Server port (default: 8000)
package main
