package postgres

import (
	"context"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"gorm.io/gorm"
)

type TeacherApprovalPostgreSQL struct {
	db *gorm.DB
}

func NewTeacherApprovalPostgreSQL(db *gorm.DB) repositories.TeacherApprovalRepository {
	return &TeacherApprovalPostgreSQL{db: db}
}

func (r TeacherApprovalPostgreSQL) Create(ctx context.Context, approval *models.TeacherApproval) error {
	return r.db.WithContext(ctx).Create(approval).Error
}

func (r TeacherApprovalPostgreSQL) GetByEmail(ctx context.Context, email string) (*models.TeacherApproval, error) {
	var approval models.TeacherApproval
	if err := r.db.WithContext(ctx).
		Where("LOWER(teacher_email) = ?", strings.ToLower(email)).
		First(&approval).Error; err != nil {
		return nil, err
	}
	return &approval, nil
}

func (r TeacherApprovalPostgreSQL) Update(ctx context.Context, approval *models.TeacherApproval) error {
	return r.db.WithContext(ctx).Save(approval).Error
}

func (r TeacherApprovalPostgreSQL) List(ctx context.Context, filters repositories.ApprovalFilters) ([]*models.TeacherApproval, int64, error) {
	var approvals []*models.TeacherApproval
	var total int64

	query := r.db.WithContext(ctx).Model(&models.TeacherApproval{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if filters.SortOrder == "asc" {
		order = "created_at ASC"
	}
	query = query.Order(order)

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&approvals).Error; err != nil {
		return nil, 0, err
	}
	return approvals, total, nil
}
