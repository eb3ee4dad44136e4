package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds the self-service signup payload.
type RegisterRequest struct {
	Username    string   `json:"username" binding:"required" validate:"required,max=150"`
	Email       string   `json:"email" binding:"required,email" validate:"required,email"`
	Password    string   `json:"password" binding:"required" validate:"required"`
	Password2   string   `json:"password2" binding:"required" validate:"required"`
	Role        UserRole `json:"role" binding:"required" validate:"required"`
	PhoneNumber *string  `json:"phone_number"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username  string `json:"username" binding:"required" validate:"required"`
	Password  string `json:"password" binding:"required" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// TokenPair carries the issued access and refresh tokens.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginResponse returns the issued tokens and user summary.
type LoginResponse struct {
	Tokens    TokenPair `json:"tokens"`
	User      UserInfo  `json:"user"`
	ExpiresIn int64     `json:"expires_in"`
	IssuedAt  time.Time `json:"issued_at"`
}

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	Refresh   string `json:"refresh" binding:"required" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LogoutRequest revokes the given refresh token.
type LogoutRequest struct {
	Refresh string `json:"refresh" binding:"required" validate:"required"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`
}

// JWTClaims represents the JWT payload for access tokens. Identity and role
// are captured at issuance time; later role edits do not touch issued tokens.
type JWTClaims struct {
	UserID   int64    `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`
	jwt.RegisteredClaims
}
