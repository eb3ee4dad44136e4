package models

import "time"

// StudentProfile extends a student user. The enrollment date is fixed when
// the profile row is materialized.
type StudentProfile struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	EnrollmentDate time.Time `db:"enrollment_date" json:"enrollment_date"`
}

// TeacherProfile extends a teacher user.
type TeacherProfile struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	EnrollmentDate time.Time `db:"enrollment_date" json:"enrollment_date"`
}

// ParentProfile extends a parent user with the relationship label supplied by
// the admin, e.g. "Father", "Mother", "Guardian".
type ParentProfile struct {
	ID           int64  `db:"id" json:"id"`
	UserID       int64  `db:"user_id" json:"user_id"`
	Relationship string `db:"relationship" json:"relationship"`
}

// ParentStudentMapping links one parent profile to one student profile.
// Duplicate pairs are allowed; the parent side owns the mapping lifetime.
type ParentStudentMapping struct {
	ID               int64 `db:"id" json:"id"`
	ParentProfileID  int64 `db:"parent_profile_id" json:"parent_profile_id"`
	StudentProfileID int64 `db:"student_profile_id" json:"student_profile_id"`
}

// MappingMode selects how SetParentMappings treats existing mappings.
type MappingMode int

const (
	// MappingReplace deletes the parent's current mappings before inserting.
	MappingReplace MappingMode = iota
	// MappingAdd appends to the existing mappings.
	MappingAdd
)

// StudentSummary describes a mapped student inside a parent view.
type StudentSummary struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          string    `db:"email" json:"email"`
	EnrollmentDate time.Time `db:"enrollment_date" json:"enrollment_date"`
}

// RoleData is the role-specific payload attached to a user view. Exactly one
// concrete type exists per role that carries extra data; guests and admins
// have none.
type RoleData interface {
	roleData()
}

// StudentRoleData is the student payload.
type StudentRoleData struct {
	EnrollmentDate time.Time `json:"enrollment_date"`
}

func (StudentRoleData) roleData() {}

// TeacherRoleData is the teacher payload.
type TeacherRoleData struct {
	EnrollmentDate time.Time `json:"enrollment_date"`
}

func (TeacherRoleData) roleData() {}

// ParentRoleData is the parent payload including all mapped students.
type ParentRoleData struct {
	Relationship string           `json:"relationship"`
	Students     []StudentSummary `json:"students"`
}

func (ParentRoleData) roleData() {}

// UserProfileView is the admin-facing projection of a user with role data.
type UserProfileView struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Role        UserRole `json:"role"`
	IsApproved  bool     `json:"is_approved"`
	PhoneNumber *string  `json:"phone_number,omitempty"`
	RoleData    RoleData `json:"role_data,omitempty"`
}
