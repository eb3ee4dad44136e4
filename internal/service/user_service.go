package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edupanel/identity-api/internal/models"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
)

const userListCachePrefix = "users:list"

type adminUserRepository interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userProfileManager interface {
	CreateUserWithRole(ctx context.Context, req CreateUserGraphRequest, baseFields map[string]string) (*models.User, error)
	EditUser(ctx context.Context, existing *models.User, req EditUserGraphRequest) (*models.User, error)
	ProfileView(ctx context.Context, user *models.User) (*models.UserProfileView, error)
}

type listCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AdminCreateUserRequest is the admin-side user creation payload. Unlike
// self-service registration, any role may be assigned here.
type AdminCreateUserRequest struct {
	Username     string          `json:"username" binding:"required" validate:"required,max=150"`
	Email        string          `json:"email" binding:"required,email" validate:"required,email"`
	Password     string          `json:"password" binding:"required" validate:"required"`
	Password2    string          `json:"password2" binding:"required" validate:"required"`
	Role         models.UserRole `json:"role" binding:"required" validate:"required"`
	PhoneNumber  *string         `json:"phone_number"`
	IsApproved   bool            `json:"is_approved"`
	Relationship *string         `json:"relationship"`
	StudentIDs   []int64         `json:"student_ids"`
}

// AdminEditUserRequest carries a partial user update; only provided fields
// change.
type AdminEditUserRequest struct {
	ID           int64            `json:"id" binding:"required" validate:"required"`
	Username     *string          `json:"username"`
	Email        *string          `json:"email" validate:"omitempty,email"`
	Role         *models.UserRole `json:"role"`
	PhoneNumber  *string          `json:"phone_number"`
	IsApproved   *bool            `json:"is_approved"`
	Relationship *string          `json:"relationship"`
	StudentIDs   []int64          `json:"student_ids"`
}

// UserServiceConfig tunes admin user management behaviour.
type UserServiceConfig struct {
	ListCacheTTL time.Duration
}

// UserService implements the admin-facing user management use cases on top of
// the profile graph manager.
type UserService struct {
	users     adminUserRepository
	profiles  userProfileManager
	cache     listCache
	validator *validator.Validate
	logger    *zap.Logger
	config    UserServiceConfig
}

// NewUserService constructs a UserService instance.
func NewUserService(users adminUserRepository, profiles userProfileManager, cache listCache, validate *validator.Validate, logger *zap.Logger, config UserServiceConfig) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{users: users, profiles: profiles, cache: cache, validator: validate, logger: logger, config: config}
}

// Create provisions a user with any role. Password and email checks mirror
// registration so the client sees every field failure in one response; the
// profile graph manager owns the role-specific constraints and the atomic
// write.
func (s *UserService) Create(ctx context.Context, actor *models.JWTClaims, req AdminCreateUserRequest) (*models.UserProfileView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	baseFields := make(map[string]string)
	if req.Password != req.Password2 {
		baseFields["password"] = "Passwords do not match."
	}
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		baseFields["email"] = "Email is already taken."
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user, err := s.profiles.CreateUserWithRole(ctx, CreateUserGraphRequest{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
		Role:         req.Role,
		IsApproved:   req.IsApproved,
		PhoneNumber:  req.PhoneNumber,
		Relationship: req.Relationship,
		StudentIDs:   req.StudentIDs,
	}, baseFields)
	if err != nil {
		return nil, err
	}

	s.invalidateListCache(ctx)
	s.audit(ctx, actor, models.AuditActionUserCreate, user.ID, fmt.Sprintf(`{"role":%q}`, user.Role))

	return s.profiles.ProfileView(ctx, user)
}

// Edit applies a partial update to an existing user.
func (s *UserService) Edit(ctx context.Context, actor *models.JWTClaims, req AdminEditUserRequest) (*models.UserProfileView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	existing, err := s.users.FindByID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	updated, err := s.profiles.EditUser(ctx, existing, EditUserGraphRequest{
		Username:     req.Username,
		Email:        req.Email,
		Role:         req.Role,
		IsApproved:   req.IsApproved,
		PhoneNumber:  req.PhoneNumber,
		Relationship: req.Relationship,
		StudentIDs:   req.StudentIDs,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateListCache(ctx)
	s.audit(ctx, actor, models.AuditActionUserUpdate, updated.ID, fmt.Sprintf(`{"role":%q}`, updated.Role))

	return s.profiles.ProfileView(ctx, updated)
}

// Get returns the profile view for a single user.
func (s *UserService) Get(ctx context.Context, id int64) (*models.UserProfileView, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	return s.profiles.ProfileView(ctx, user)
}

// List returns profile views for all users, optionally filtered by approval
// state. Results are cached per filter and invalidated on every write.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.UserProfileView, error) {
	key := listCacheKey(filter)
	var cached []models.UserProfileView
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("user list cache read failed", zap.Error(err))
	}

	users, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	views := make([]models.UserProfileView, 0, len(users))
	for i := range users {
		view, err := s.profiles.ProfileView(ctx, &users[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}

	if err := s.cache.Set(ctx, key, views, s.config.ListCacheTTL); err != nil {
		s.logger.Warn("user list cache write failed", zap.Error(err))
	}

	return views, nil
}

func (s *UserService) invalidateListCache(ctx context.Context) {
	if err := s.cache.DeleteByPattern(ctx, userListCachePrefix+":*"); err != nil {
		s.logger.Warn("user list cache invalidation failed", zap.Error(err))
	}
}

func (s *UserService) audit(ctx context.Context, actor *models.JWTClaims, action string, resourceID int64, newValues string) {
	log := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		NewValues:  []byte(newValues),
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.users.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record user audit log", zap.Error(err))
	}
}

func listCacheKey(filter models.UserFilter) string {
	if filter.IsApproved == nil {
		return userListCachePrefix + ":all"
	}
	return fmt.Sprintf("%s:approved:%t", userListCachePrefix, *filter.IsApproved)
}
