package models

import "time"

// UserRole enumerates the roles understood by the system. Role decides which
// profile entity applies and which operations the holder may perform.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
	RoleParent  UserRole = "parent"
	RoleGuest   UserRole = "guest"
)

// Valid reports whether the role is one of the known values. The switch is
// exhaustive so that adding a role without updating call sites fails review.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleGuest:
		return true
	}
	return false
}

// User represents an application user stored in the users table. The password
// is only ever persisted as a bcrypt hash.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	IsApproved   bool      `db:"is_approved" json:"is_approved"`
	PhoneNumber  *string   `db:"phone_number" json:"phone_number,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	IsApproved *bool
}
