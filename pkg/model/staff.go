package model

import "time"

// Staff is a principal recognised by the console
type Staff struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Email       string    `gorm:"column:email;uniqueIndex:idx_staff_email;not null" json:"email"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`
	Active      bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Staff) TableName() string {
	return "staff"
}
