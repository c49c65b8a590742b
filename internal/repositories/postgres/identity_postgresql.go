package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"gorm.io/gorm"
)

type IdentityPostgreSQL struct {
	db *gorm.DB
}

func NewIdentityPostgreSQL(db *gorm.DB) repositories.IdentityRepository {
	return &IdentityPostgreSQL{db: db}
}

func (r IdentityPostgreSQL) Create(ctx context.Context, identity *models.Identity) error {
	return r.db.WithContext(ctx).Create(identity).Error
}

func (r IdentityPostgreSQL) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r IdentityPostgreSQL) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(email)).
		First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r IdentityPostgreSQL) GetByConfirmationToken(ctx context.Context, token string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).Where("confirmation_token = ?", token).First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r IdentityPostgreSQL) GetByResetToken(ctx context.Context, token string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).Where("reset_token = ?", token).First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r IdentityPostgreSQL) Update(ctx context.Context, identity *models.Identity) error {
	return r.db.WithContext(ctx).Save(identity).Error
}

func (r IdentityPostgreSQL) CreateSession(ctx context.Context, session *models.AuthSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r IdentityPostgreSQL) GetSession(ctx context.Context, id string) (*models.AuthSession, error) {
	var session models.AuthSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r IdentityPostgreSQL) GetSessionByRefreshHash(ctx context.Context, hash string) (*models.AuthSession, error) {
	var session models.AuthSession
	if err := r.db.WithContext(ctx).Where("refresh_token_hash = ?", hash).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r IdentityPostgreSQL) RevokeSession(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.AuthSession{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at).Error
}
