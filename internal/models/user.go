package models

import (
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleHOD     UserRole = "hod"
	RoleAdmin   UserRole = "admin"
)

// AllRoles lists every role in the order role tables are searched
var AllRoles = []UserRole{RoleStudent, RoleTeacher, RoleHOD, RoleAdmin}

func (r UserRole) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleHOD, RoleAdmin:
		return true
	}
	return false
}

type IdentityProvider string

const (
	ProviderPassword IdentityProvider = "password"
	ProviderCasdoor  IdentityProvider = "casdoor"
)

// Identity is the authentication record behind every role profile
type Identity struct {
	ID           string           `json:"id" gorm:"primaryKey;size:36"`
	Email        string           `json:"email" gorm:"uniqueIndex;not null;size:255"`
	PasswordHash string           `json:"-" gorm:"size:255"`
	Provider     IdentityProvider `json:"provider" gorm:"size:20;default:password"`
	ExternalID   *string          `json:"-" gorm:"size:255;index"`

	EmailConfirmedAt  *time.Time `json:"email_confirmed_at"`
	ConfirmationToken *string    `json:"-" gorm:"size:64;index"`
	ResetToken        *string    `json:"-" gorm:"size:64;index"`
	ResetExpiresAt    *time.Time `json:"-"`
	LastSignInAt      *time.Time `json:"last_sign_in_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Identity) TableName() string {
	return "identities"
}

// IsConfirmed reports whether the identity's email address has been confirmed
func (i *Identity) IsConfirmed() bool {
	return i.EmailConfirmedAt != nil && !i.EmailConfirmedAt.IsZero()
}

// AuthSession is a signed-in session of an identity; signing out revokes it
type AuthSession struct {
	ID               string     `json:"id" gorm:"primaryKey;size:36"`
	IdentityID       string     `json:"identity_id" gorm:"size:36;index;not null"`
	Role             UserRole   `json:"role" gorm:"size:20"`
	RefreshTokenHash string     `json:"-" gorm:"size:64;uniqueIndex"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RevokedAt        *time.Time `json:"revoked_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (AuthSession) TableName() string {
	return "auth_sessions"
}

// IsActive reports whether the session can still be used at the given time
func (s *AuthSession) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
