package model

import "time"

// RoleMembership grants a role to a principal over [ValidFrom, ValidTo).
// A nil ValidTo is open-ended.
type RoleMembership struct {
	ID            string     `gorm:"column:id;primaryKey"`
	PrincipalID   string     `gorm:"column:principal_id;not null;uniqueIndex:idx_role_memberships_principal_role"`
	RoleName      string     `gorm:"column:role_name;not null;uniqueIndex:idx_role_memberships_principal_role"`
	ValidFrom     time.Time  `gorm:"column:valid_from;not null"`
	ValidTo       *time.Time `gorm:"column:valid_to"`
	Source        string     `gorm:"column:source;not null;default:permanent"`
	Justification string     `gorm:"column:justification"`
	TicketRef     *string    `gorm:"column:ticket_ref"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (RoleMembership) TableName() string {
	return "role_memberships"
}

// ActiveAt reports whether the membership is valid at t
func (m *RoleMembership) ActiveAt(t time.Time) bool {
	if t.Before(m.ValidFrom) {
		return false
	}
	return m.ValidTo == nil || t.Before(*m.ValidTo)
}
