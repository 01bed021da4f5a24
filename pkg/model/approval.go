package model

import "time"

// Approval is the row shape shared by every *_approvals table.
// Callers pick the table with db.Table.
type Approval struct {
	ID         string    `gorm:"column:id;primaryKey"`
	RequestID  string    `gorm:"column:request_id"`
	ApproverID string    `gorm:"column:approver_id"`
	Decision   string    `gorm:"column:decision"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// All returns every model for auto-migration
func All() []interface{} {
	return []interface{}{
		&Staff{},
		&Role{},
		&RoleMembership{},
		&ElevationRequest{},
		&ElevationApproval{},
		&Secret{},
		&SecretChangeRequest{},
		&SecretChangeApproval{},
		&ReleaseRequest{},
		&ReleaseApproval{},
	}
}
