package models

import "time"

// Role distinguishes shoppers from administrators.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// User represents a user of the marketplace.
type User struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)" validate:"omitempty,uuid"`
	Username   string    `json:"username" gorm:"uniqueIndex;type:varchar(100)" validate:"required,min=3,max=100"`
	Email      string    `json:"email" gorm:"uniqueIndex;type:varchar(255)" validate:"required,email"`
	Password   string    `json:"-" gorm:"type:varchar(255)" validate:"required,min=6"`
	Role       Role      `json:"role" gorm:"type:varchar(16);not null;default:customer"`
	CODEnabled bool      `json:"cod_enabled" gorm:"column:cod_enabled;not null;default:false"` // set by administrators only
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the administrator role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
