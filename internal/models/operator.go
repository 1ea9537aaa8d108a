package models

import "time"

// Operator roles.
const (
	RoleSuperAdmin = "superadmin"
	RoleAdmin      = "admin"
	RoleMaster     = "master"
)

// Operator is an authorized (or pending) chat. Super-admins come from config
// bootstrap; everyone else goes through the approve/deny workflow.
type Operator struct {
	ChatID   int64  `gorm:"primaryKey"`
	Name     string `gorm:"size:128"`
	Role     string `gorm:"size:16;index"` // empty while the request is pending
	MasterID string `gorm:"size:64"`       // config master entry, master role only
	Approved bool   `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
