package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"gorm.io/gorm"
)

type ProfilePostgreSQL struct {
	db *gorm.DB
}

func NewProfilePostgreSQL(db *gorm.DB) repositories.ProfileRepository {
	return &ProfilePostgreSQL{db: db}
}

func (r ProfilePostgreSQL) Get(ctx context.Context, role models.UserRole, identityID string) (*models.RoleProfile, error) {
	return r.first(ctx, role, "id = ?", identityID)
}

func (r ProfilePostgreSQL) GetByEmail(ctx context.Context, role models.UserRole, email string) (*models.RoleProfile, error) {
	return r.first(ctx, role, "LOWER(email) = ?", strings.ToLower(email))
}

func (r ProfilePostgreSQL) first(ctx context.Context, role models.UserRole, query string, arg interface{}) (*models.RoleProfile, error) {
	row, err := models.NewProfileRow(role)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where(query, arg).First(row).Error; err != nil {
		return nil, err
	}
	return models.ProfileFromRow(row)
}

func (r ProfilePostgreSQL) FindAll(ctx context.Context, identityID string) ([]*models.RoleProfile, error) {
	var profiles []*models.RoleProfile
	for _, role := range models.AllRoles {
		profile, err := r.Get(ctx, role, identityID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func (r ProfilePostgreSQL) Create(ctx context.Context, profile *models.RoleProfile) error {
	row, err := profile.ToRow()
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	created, err := models.ProfileFromRow(row)
	if err != nil {
		return err
	}
	*profile = *created
	return nil
}

func (r ProfilePostgreSQL) Update(ctx context.Context, profile *models.RoleProfile) error {
	row, err := profile.ToRow()
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(row).Error
}

func (r ProfilePostgreSQL) UpdateStatus(ctx context.Context, role models.UserRole, identityID string, status models.ProfileStatus) error {
	return r.updateStatus(ctx, role, "id = ?", identityID, status)
}

func (r ProfilePostgreSQL) UpdateStatusByEmail(ctx context.Context, role models.UserRole, email string, status models.ProfileStatus) error {
	return r.updateStatus(ctx, role, "LOWER(email) = ?", strings.ToLower(email), status)
}

func (r ProfilePostgreSQL) updateStatus(ctx context.Context, role models.UserRole, query string, arg interface{}, status models.ProfileStatus) error {
	row, err := models.NewProfileRow(role)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(row).Where(query, arg).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r ProfilePostgreSQL) IncrementMessageCount(ctx context.Context, studentID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Student{}).
		Where("id = ?", studentID).
		UpdateColumn("message_count", gorm.Expr("message_count + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
