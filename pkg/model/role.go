package model

import "time"

// Role is an entry in the role catalog
type Role struct {
	Name        string    `gorm:"column:name;primaryKey"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (Role) TableName() string {
	return "roles"
}
