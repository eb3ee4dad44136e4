package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edupanel/identity-api/internal/models"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
)

type mockAuthUserRepo struct {
	usersByName map[string]*models.User
	usersByID   map[int64]*models.User
	createErr   error
	created     []*models.User
	auditLogs   []*models.AuditLog
	nextID      int64
}

func (m *mockAuthUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := m.usersByName[username]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.usersByName {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := m.usersByID[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	user.ID = m.nextID
	m.created = append(m.created, user)
	return nil
}

func (m *mockAuthUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockTokenRepo struct {
	tokens       map[string]*models.RefreshToken
	revokedUsers []int64
}

func (m *mockTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	if m.tokens == nil {
		m.tokens = make(map[string]*models.RefreshToken)
	}
	m.tokens[token.Token] = token
	return nil
}

func (m *mockTokenRepo) Claim(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	rt, ok := m.tokens[token]
	if !ok || rt.Revoked || !rt.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	rt.Revoked = true
	rt.RevokedAt = &now
	return rt, nil
}

func (m *mockTokenRepo) RevokeAllForUser(ctx context.Context, userID int64) error {
	m.revokedUsers = append(m.revokedUsers, userID)
	for _, rt := range m.tokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

type mockBlacklist struct {
	revoked map[string]bool
}

func (m *mockBlacklist) MarkTokenRevoked(ctx context.Context, token string, ttl time.Duration) error {
	if m.revoked == nil {
		m.revoked = make(map[string]bool)
	}
	m.revoked[token] = true
	return nil
}

func (m *mockBlacklist) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	return m.revoked[token], nil
}

func newTestAuthService(users *mockAuthUserRepo, tokens *mockTokenRepo, blacklist *mockBlacklist) *AuthService {
	return NewAuthService(users, tokens, blacklist, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "identity-api",
	})
}

func activeUser(id int64, username, password string, role models.UserRole) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &models.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
		IsApproved:   true,
	}
}

func TestAuthServiceRegisterCreatesUnapprovedUser(t *testing.T) {
	users := &mockAuthUserRepo{usersByName: map[string]*models.User{}}
	svc := newTestAuthService(users, &mockTokenRepo{}, &mockBlacklist{})

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Username:  "student1",
		Email:     "student1@example.com",
		Password:  "pass1234",
		Password2: "pass1234",
		Role:      models.RoleStudent,
	})
	require.NoError(t, err)
	assert.False(t, user.IsApproved)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "pass1234", user.PasswordHash)
	require.Len(t, users.created, 1)
	require.Len(t, users.auditLogs, 1)
	assert.Equal(t, models.AuditActionRegister, users.auditLogs[0].Action)
}

func TestAuthServiceRegisterParentForbidden(t *testing.T) {
	users := &mockAuthUserRepo{usersByName: map[string]*models.User{}}
	svc := newTestAuthService(users, &mockTokenRepo{}, &mockBlacklist{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Username:  "parent1",
		Email:     "parent1@example.com",
		Password:  "pass1234",
		Password2: "pass1234",
		Role:      models.RoleParent,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "Only admins can create Parent users.", appErr.Fields["role"])
	assert.Empty(t, users.created)
}

func TestAuthServiceRegisterAggregatesFieldErrors(t *testing.T) {
	existing := activeUser(1, "taken", "pw", models.RoleStudent)
	users := &mockAuthUserRepo{usersByName: map[string]*models.User{"taken": existing}}
	svc := newTestAuthService(users, &mockTokenRepo{}, &mockBlacklist{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Username:  "newuser",
		Email:     existing.Email,
		Password:  "pass1234",
		Password2: "different",
		Role:      models.RoleParent,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, "Passwords do not match.", appErr.Fields["password"])
	assert.Equal(t, "Email is already taken.", appErr.Fields["email"])
	assert.Equal(t, "Only admins can create Parent users.", appErr.Fields["role"])
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	user := activeUser(7, "teacher1", "password", models.RoleTeacher)
	users := &mockAuthUserRepo{usersByName: map[string]*models.User{"teacher1": user}}
	tokens := &mockTokenRepo{}
	svc := newTestAuthService(users, tokens, &mockBlacklist{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "teacher1", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.Access)
	assert.NotEmpty(t, res.Tokens.Refresh)
	assert.Equal(t, int64(7), res.User.ID)
	assert.Equal(t, models.RoleTeacher, res.User.Role)
	assert.NotEmpty(t, tokens.tokens)
}

func TestAuthServiceLoginCheckOrdering(t *testing.T) {
	svc := newTestAuthService(&mockAuthUserRepo{usersByName: map[string]*models.User{}}, &mockTokenRepo{}, &mockBlacklist{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "ghost", Password: "anything"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	user := activeUser(1, "alice", "correct", models.RoleStudent)
	user.IsActive = false
	user.IsApproved = false
	users := &mockAuthUserRepo{usersByName: map[string]*models.User{"alice": user}}
	svc = newTestAuthService(users, &mockTokenRepo{}, &mockBlacklist{})

	// Wrong password wins over inactive and unapproved.
	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	// Inactive wins over unapproved.
	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)

	user.IsActive = true
	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotApproved.Code, appErrors.FromError(err).Code)

	user.IsApproved = true
	_, err = svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct"})
	require.NoError(t, err)
}

func TestAuthServiceLogoutIsPermanent(t *testing.T) {
	user := activeUser(3, "bob", "password", models.RoleStudent)
	users := &mockAuthUserRepo{
		usersByName: map[string]*models.User{"bob": user},
		usersByID:   map[int64]*models.User{3: user},
	}
	tokens := &mockTokenRepo{}
	blacklist := &mockBlacklist{}
	svc := newTestAuthService(users, tokens, blacklist)

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "bob", Password: "password"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), res.Tokens.Refresh, "", ""))
	assert.True(t, blacklist.revoked[res.Tokens.Refresh])

	// Second logout and any refresh attempt both fail with a token error.
	err = svc.Logout(context.Background(), res.Tokens.Refresh, "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{Refresh: res.Tokens.Refresh})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	user := activeUser(5, "carol", "password", models.RoleParent)
	users := &mockAuthUserRepo{
		usersByName: map[string]*models.User{"carol": user},
		usersByID:   map[int64]*models.User{5: user},
	}
	tokens := &mockTokenRepo{}
	svc := newTestAuthService(users, tokens, &mockBlacklist{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "carol", Password: "password"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), models.RefreshRequest{Refresh: res.Tokens.Refresh})
	require.NoError(t, err)
	assert.NotEqual(t, res.Tokens.Refresh, rotated.Tokens.Refresh)

	// The old token was claimed during rotation and cannot be reused.
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{Refresh: res.Tokens.Refresh})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{Refresh: rotated.Tokens.Refresh})
	require.NoError(t, err)
}

func TestAuthServiceValidateToken(t *testing.T) {
	user := activeUser(9, "dave", "password", models.RoleAdmin)
	users := &mockAuthUserRepo{usersByName: map[string]*models.User{"dave": user}}
	svc := newTestAuthService(users, &mockTokenRepo{}, &mockBlacklist{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "dave", Password: "password"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(res.Tokens.Access)
	require.NoError(t, err)
	assert.Equal(t, int64(9), claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	other := NewAuthService(users, &mockTokenRepo{}, &mockBlacklist{}, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "different",
		AccessTokenExpiry: time.Hour,
	})
	_, err = other.ValidateToken(res.Tokens.Access)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
