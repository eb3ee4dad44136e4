package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/edupanel/identity-api/internal/models"
	"github.com/edupanel/identity-api/internal/repository"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
)

type profileGraphRepository interface {
	ExistingStudentUserIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	CreateUserGraph(ctx context.Context, user *models.User, changes repository.GraphChanges) error
	UpdateUserGraph(ctx context.Context, user *models.User, changes repository.GraphChanges) error
	SetParentMappings(ctx context.Context, parentProfileID int64, studentUserIDs []int64, mode models.MappingMode) error
	StudentProfileByUserID(ctx context.Context, userID int64) (*models.StudentProfile, error)
	TeacherProfileByUserID(ctx context.Context, userID int64) (*models.TeacherProfile, error)
	ParentProfileByUserID(ctx context.Context, userID int64) (*models.ParentProfile, error)
	StudentsForParent(ctx context.Context, parentProfileID int64) ([]models.StudentSummary, error)
}

// CreateUserGraphRequest carries everything needed to create a user together
// with its role profile and mappings.
type CreateUserGraphRequest struct {
	Username     string
	Email        string
	PasswordHash string
	Role         models.UserRole
	IsApproved   bool
	PhoneNumber  *string
	Relationship *string
	StudentIDs   []int64
}

// EditUserGraphRequest applies a partial update; only non-nil fields change.
type EditUserGraphRequest struct {
	Username     *string
	Email        *string
	Role         *models.UserRole
	IsApproved   *bool
	PhoneNumber  *string
	Relationship *string
	StudentIDs   []int64
}

// ProfileService owns creation and mutation of role profiles and the
// parent-student mapping graph. All graph invariants are re-established
// before any write: student ids are checked in full, so a single bad id
// leaves the store untouched.
type ProfileService struct {
	repo   profileGraphRepository
	logger *zap.Logger
}

// NewProfileService constructs a ProfileService instance.
func NewProfileService(repo profileGraphRepository, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{repo: repo, logger: logger}
}

// CreateUserWithRole validates the role-specific constraints and creates the
// user plus, when approved, its profile and mappings in one atomic write.
// baseFields lets the caller contribute validation failures (password or
// email checks) so the client sees every field error at once.
func (s *ProfileService) CreateUserWithRole(ctx context.Context, req CreateUserGraphRequest, baseFields map[string]string) (*models.User, error) {
	fields := make(map[string]string, len(baseFields))
	for k, v := range baseFields {
		fields[k] = v
	}

	if !req.Role.Valid() {
		fields["role"] = "Invalid role specified."
	}

	if req.Role == models.RoleParent {
		if req.Relationship == nil || *req.Relationship == "" {
			fields["relationship"] = "Relationship is required for parent role."
		}
		if err := s.checkStudentIDs(ctx, req.StudentIDs, fields); err != nil {
			return nil, err
		}
	}

	if len(fields) > 0 {
		return nil, appErrors.Validation(fields)
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		Role:         req.Role,
		IsActive:     true,
		IsApproved:   req.IsApproved,
		PhoneNumber:  req.PhoneNumber,
	}

	changes := repository.GraphChanges{
		Materialize:  req.IsApproved,
		Relationship: req.Relationship,
		StudentIDs:   req.StudentIDs,
		SetMappings:  req.Role == models.RoleParent && req.IsApproved,
		Mode:         models.MappingReplace,
	}

	if err := s.repo.CreateUserGraph(ctx, user, changes); err != nil {
		if dup := duplicateIdentityFields(err); dup != nil {
			return nil, appErrors.Validation(dup)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	return user, nil
}

// EditUser applies field-level updates to an existing user. When the
// resulting role is parent the relationship must be supplied, whether the
// role came from the request or was already held. Profiles from roles the
// user no longer holds are intentionally left in place.
func (s *ProfileService) EditUser(ctx context.Context, existing *models.User, req EditUserGraphRequest) (*models.User, error) {
	updated := *existing
	if req.Username != nil {
		updated.Username = *req.Username
	}
	if req.Email != nil {
		updated.Email = *req.Email
	}
	if req.IsApproved != nil {
		updated.IsApproved = *req.IsApproved
	}
	if req.PhoneNumber != nil {
		updated.PhoneNumber = req.PhoneNumber
	}
	if req.Role != nil {
		updated.Role = *req.Role
	}

	fields := make(map[string]string)
	if req.Role != nil && !req.Role.Valid() {
		fields["role"] = "Invalid role specified."
	}

	if updated.Role == models.RoleParent {
		if req.Relationship == nil || *req.Relationship == "" {
			fields["relationship"] = "Relationship is required for parent role."
		}
		if err := s.checkStudentIDs(ctx, req.StudentIDs, fields); err != nil {
			return nil, err
		}
	}

	if len(fields) > 0 {
		return nil, appErrors.Validation(fields)
	}

	changes := repository.GraphChanges{
		Materialize:  updated.IsApproved,
		Relationship: req.Relationship,
		StudentIDs:   req.StudentIDs,
		SetMappings:  updated.Role == models.RoleParent && updated.IsApproved && len(req.StudentIDs) > 0,
		Mode:         models.MappingReplace,
	}

	if err := s.repo.UpdateUserGraph(ctx, &updated, changes); err != nil {
		if dup := duplicateIdentityFields(err); dup != nil {
			return nil, appErrors.Validation(dup)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	return &updated, nil
}

// MaterializeProfile ensures the profile row matching the user's role exists.
// Only approved users get a profile; parents additionally need the
// relationship label.
func (s *ProfileService) MaterializeProfile(ctx context.Context, user *models.User, relationship *string) error {
	if !user.IsApproved {
		return nil
	}
	if user.Role == models.RoleParent && (relationship == nil || *relationship == "") {
		return appErrors.Validation(map[string]string{"relationship": "Relationship is required for parent role."})
	}
	updated := *user
	changes := repository.GraphChanges{Materialize: true, Relationship: relationship}
	if err := s.repo.UpdateUserGraph(ctx, &updated, changes); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to materialize profile")
	}
	return nil
}

// SetParentMappings validates every student id and then rewrites (REPLACE)
// or extends (ADD) the parent's mapping set. Nothing changes when any id is
// invalid.
func (s *ProfileService) SetParentMappings(ctx context.Context, parent *models.ParentProfile, studentIDs []int64, mode models.MappingMode) error {
	fields := make(map[string]string)
	if err := s.checkStudentIDs(ctx, studentIDs, fields); err != nil {
		return err
	}
	if len(fields) > 0 {
		return appErrors.Validation(fields)
	}
	if err := s.repo.SetParentMappings(ctx, parent.ID, studentIDs, mode); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set parent mappings")
	}
	return nil
}

// ProfileView projects a user into its admin view, attaching the payload for
// the role the user currently holds. The switch is exhaustive over the role
// enum; a missing profile row (unapproved user) yields no role data.
func (s *ProfileService) ProfileView(ctx context.Context, user *models.User) (*models.UserProfileView, error) {
	view := &models.UserProfileView{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Role:        user.Role,
		IsApproved:  user.IsApproved,
		PhoneNumber: user.PhoneNumber,
	}

	switch user.Role {
	case models.RoleStudent:
		profile, err := s.repo.StudentProfileByUserID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return view, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		view.RoleData = models.StudentRoleData{EnrollmentDate: profile.EnrollmentDate}
	case models.RoleTeacher:
		profile, err := s.repo.TeacherProfileByUserID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return view, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher profile")
		}
		view.RoleData = models.TeacherRoleData{EnrollmentDate: profile.EnrollmentDate}
	case models.RoleParent:
		profile, err := s.repo.ParentProfileByUserID(ctx, user.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return view, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent profile")
		}
		students, err := s.repo.StudentsForParent(ctx, profile.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mapped students")
		}
		if students == nil {
			students = []models.StudentSummary{}
		}
		view.RoleData = models.ParentRoleData{Relationship: profile.Relationship, Students: students}
	case models.RoleAdmin, models.RoleGuest:
		// No role payload.
	}

	return view, nil
}

// checkStudentIDs verifies every id references a user with role student and
// records the first offender, in input order, as a field error.
func (s *ProfileService) checkStudentIDs(ctx context.Context, ids []int64, fields map[string]string) error {
	if len(ids) == 0 {
		return nil
	}
	existing, err := s.repo.ExistingStudentUserIDs(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student ids")
	}
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			fields["student_ids"] = fmt.Sprintf("Invalid student ID: %d", id)
			return nil
		}
	}
	return nil
}

// duplicateIdentityFields maps storage-level duplicate sentinels to field
// errors, or nil when the error is unrelated.
func duplicateIdentityFields(err error) map[string]string {
	switch {
	case errors.Is(err, repository.ErrDuplicateUsername):
		return map[string]string{"username": "Username is already taken."}
	case errors.Is(err, repository.ErrDuplicateEmail):
		return map[string]string{"email": "Email is already taken."}
	}
	return nil
}
