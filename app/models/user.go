package models

import "time"

const (
	RoleAnonymous  = "ANONYMOUS"
	RoleDonor      = "DONOR"
	RoleMember     = "MEMBER"
	RoleVolunteer  = "VOLUNTEER"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// User is the donor/member identity. Account management, authentication and
// role enforcement live outside this core; the donation subsystem only reads
// contact data and upgrades ANONYMOUS accounts to DONOR on their first
// completed gift.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(200);not null;uniqueIndex" json:"email"`
	FirstName    string    `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName     string    `gorm:"type:varchar(100);not null" json:"last_name"`
	Role         string    `gorm:"type:varchar(20);not null;default:'ANONYMOUS';index" json:"role"`
	AddressLine1 string    `gorm:"type:varchar(255);default:''" json:"address_line1,omitempty"`
	PostalCode   string    `gorm:"type:varchar(20);default:''" json:"postal_code,omitempty"`
	City         string    `gorm:"type:varchar(100);default:''" json:"city,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FullName returns "First Last" for display and receipts.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// IsAdmin reports whether the user holds an administrative role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
}
