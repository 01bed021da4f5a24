package model

import "time"

// Secret is an applied secret value. Only ciphertext is stored.
type Secret struct {
	ID                  string     `gorm:"column:id;primaryKey" json:"id"`
	Key                 string     `gorm:"column:key;not null;uniqueIndex:idx_secrets_key_environment" json:"key"`
	Environment         string     `gorm:"column:environment;not null;uniqueIndex:idx_secrets_key_environment" json:"environment"`
	Ciphertext          []byte     `gorm:"column:ciphertext;not null" json:"-"`
	Nonce               []byte     `gorm:"column:nonce;not null" json:"-"`
	AAD                 *string    `gorm:"column:aad" json:"aad,omitempty"`
	Version             int        `gorm:"column:version;not null;default:1" json:"version"`
	CreatedBy           string     `gorm:"column:created_by;not null" json:"created_by"`
	CreatedAt           time.Time  `gorm:"column:created_at" json:"created_at"`
	LastRotatedAt       *time.Time `gorm:"column:last_rotated_at" json:"last_rotated_at,omitempty"`
	LastAccessedAt      *time.Time `gorm:"column:last_accessed_at" json:"last_accessed_at,omitempty"`
	DualControlRequired bool       `gorm:"column:dual_control_required;not null;default:true" json:"dual_control_required"`
}

func (Secret) TableName() string {
	return "secrets"
}

// SecretChangeRequest proposes a create, rotate or reveal of a secret.
// Reveal requests carry no payload.
type SecretChangeRequest struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	Key         string     `gorm:"column:key;not null" json:"key"`
	Environment string     `gorm:"column:environment;not null" json:"environment"`
	Action      string     `gorm:"column:action;not null" json:"action"`
	Ciphertext  []byte     `gorm:"column:ciphertext" json:"-"`
	Nonce       []byte     `gorm:"column:nonce" json:"-"`
	AAD         *string    `gorm:"column:aad" json:"aad,omitempty"`
	Reason      string     `gorm:"column:reason;not null" json:"reason"`
	RequesterID string     `gorm:"column:requester_id;not null" json:"requester_id"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	BaseVersion *int       `gorm:"column:base_version" json:"base_version,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	AppliedAt   *time.Time `gorm:"column:applied_at" json:"applied_at,omitempty"`
}

func (SecretChangeRequest) TableName() string {
	return "secret_change_requests"
}

type SecretChangeApproval struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	RequestID  string    `gorm:"column:request_id;not null;uniqueIndex:idx_secret_change_approvals_request_approver" json:"request_id"`
	ApproverID string    `gorm:"column:approver_id;not null;uniqueIndex:idx_secret_change_approvals_request_approver" json:"approver_id"`
	Decision   string    `gorm:"column:decision;not null;default:approve" json:"decision"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

func (SecretChangeApproval) TableName() string {
	return "secret_change_approvals"
}
