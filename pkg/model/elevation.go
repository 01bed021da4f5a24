package model

import "time"

// ElevationRequest asks for temporary roles on behalf of a target principal
type ElevationRequest struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	RequesterID   string     `gorm:"column:requester_id;not null" json:"requester_id"`
	TargetID      string     `gorm:"column:target_id;not null" json:"target_id"`
	Roles         StringList `gorm:"column:roles;type:text;not null" json:"roles"`
	Reason        string     `gorm:"column:reason;not null" json:"reason"`
	TicketRef     *string    `gorm:"column:ticket_ref" json:"ticket_ref,omitempty"`
	WindowMinutes int        `gorm:"column:window_minutes;not null" json:"window_minutes"`
	Status        string     `gorm:"column:status;not null;index" json:"status"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	ExecutedAt    *time.Time `gorm:"column:executed_at" json:"executed_at,omitempty"`
}

func (ElevationRequest) TableName() string {
	return "elevation_requests"
}

// ExpiresAt is the end of the request's window measured from creation
func (r *ElevationRequest) ExpiresAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.WindowMinutes) * time.Minute)
}

type ElevationApproval struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	RequestID  string    `gorm:"column:request_id;not null;uniqueIndex:idx_elevation_approvals_request_approver" json:"request_id"`
	ApproverID string    `gorm:"column:approver_id;not null;uniqueIndex:idx_elevation_approvals_request_approver" json:"approver_id"`
	Decision   string    `gorm:"column:decision;not null;default:approve" json:"decision"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ElevationApproval) TableName() string {
	return "elevation_approvals"
}
