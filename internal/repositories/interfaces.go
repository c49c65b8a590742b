package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"gorm.io/gorm"
)

// Errors returned by repository implementations that are not backed by gorm
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// IsNotFoundError reports whether err means the requested row does not exist
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateError reports whether err is a unique constraint violation
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey)
}

// Repository gives services access to every store the portal owns
type Repository interface {
	Identity() IdentityRepository
	Profile() ProfileRepository
	Approval() TeacherApprovalRepository
	SecurityAnswer() SecurityAnswerRepository
	Chat() ChatRepository

	// WithTransaction runs fn against a repository bound to a single transaction
	WithTransaction(ctx context.Context, fn func(tx Repository) error) error
}

// ===== SHARED FILTER STRUCTS =====

type ApprovalFilters struct {
	Status    *models.ApprovalStatus `json:"status"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
	SortOrder string                 `json:"sort_order"` // "asc", "desc"
}

// ===== REPOSITORIES =====

// IdentityRepository stores identities and their signed-in sessions
type IdentityRepository interface {
	Create(ctx context.Context, identity *models.Identity) error
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetByConfirmationToken(ctx context.Context, token string) (*models.Identity, error)
	GetByResetToken(ctx context.Context, token string) (*models.Identity, error)
	Update(ctx context.Context, identity *models.Identity) error

	CreateSession(ctx context.Context, session *models.AuthSession) error
	GetSession(ctx context.Context, id string) (*models.AuthSession, error)
	GetSessionByRefreshHash(ctx context.Context, hash string) (*models.AuthSession, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

// ProfileRepository reads and writes the role tables (student, teacher, hod, admin)
type ProfileRepository interface {
	Get(ctx context.Context, role models.UserRole, identityID string) (*models.RoleProfile, error)
	GetByEmail(ctx context.Context, role models.UserRole, email string) (*models.RoleProfile, error)
	// FindAll returns the profiles of the identity across every role table
	FindAll(ctx context.Context, identityID string) ([]*models.RoleProfile, error)
	Create(ctx context.Context, profile *models.RoleProfile) error
	Update(ctx context.Context, profile *models.RoleProfile) error
	UpdateStatus(ctx context.Context, role models.UserRole, identityID string, status models.ProfileStatus) error
	UpdateStatusByEmail(ctx context.Context, role models.UserRole, email string, status models.ProfileStatus) error
	IncrementMessageCount(ctx context.Context, studentID string) error
}

type TeacherApprovalRepository interface {
	Create(ctx context.Context, approval *models.TeacherApproval) error
	GetByEmail(ctx context.Context, email string) (*models.TeacherApproval, error)
	Update(ctx context.Context, approval *models.TeacherApproval) error
	List(ctx context.Context, filters ApprovalFilters) ([]*models.TeacherApproval, int64, error)
}

type SecurityAnswerRepository interface {
	Upsert(ctx context.Context, answer *models.SecurityAnswer) error
	GetForIdentity(ctx context.Context, identityID string, role models.UserRole) ([]*models.SecurityAnswer, error)
}

// ChatRepository persists chat sessions and their append-only messages
type ChatRepository interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	// ListSessions returns the user's sessions, most recent first
	ListSessions(ctx context.Context, userID string, persona models.ChatPersona) ([]*models.ChatSession, error)

	CreateMessage(ctx context.Context, message *models.ChatMessage) error
	// ListMessages returns the session's messages in creation order
	ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error)
	DeleteMessages(ctx context.Context, sessionID string) (int64, error)
}
