package model

// Request statuses shared by the approval workflows
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExecuted = "executed"
	StatusExpired  = "expired"
	StatusRevoked  = "revoked"
	StatusApplied  = "applied"
)

// Approval decisions
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Role membership sources
const (
	SourcePermanent  = "permanent"
	SourceBreakGlass = "break_glass"
)

// Secret change actions
const (
	ActionCreate = "create"
	ActionRotate = "rotate"
	ActionReveal = "reveal"
)

// Well-known role names
const (
	RoleInvestigator   = "investigator"
	RoleSecurityAdmin  = "security_admin"
	RoleSecretsManager = "secrets_manager"
	RoleAdmin          = "admin"
)
