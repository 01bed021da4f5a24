package model

import "time"

type ReleaseRequest struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	Title       string     `gorm:"column:title;not null" json:"title"`
	Description string     `gorm:"column:description" json:"description"`
	RequesterID string     `gorm:"column:requester_id;not null" json:"requester_id"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	DecidedAt   *time.Time `gorm:"column:decided_at" json:"decided_at,omitempty"`
	ExecutedAt  *time.Time `gorm:"column:executed_at" json:"executed_at,omitempty"`
	ExecutedBy  *string    `gorm:"column:executed_by" json:"executed_by,omitempty"`
}

func (ReleaseRequest) TableName() string {
	return "release_requests"
}

type ReleaseApproval struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	RequestID  string    `gorm:"column:request_id;not null;uniqueIndex:idx_release_approvals_request_approver" json:"request_id"`
	ApproverID string    `gorm:"column:approver_id;not null;uniqueIndex:idx_release_approvals_request_approver" json:"approver_id"`
	Decision   string    `gorm:"column:decision;not null" json:"decision"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ReleaseApproval) TableName() string {
	return "release_approvals"
}
