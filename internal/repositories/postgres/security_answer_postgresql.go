package postgres

import (
	"context"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SecurityAnswerPostgreSQL struct {
	db *gorm.DB
}

func NewSecurityAnswerPostgreSQL(db *gorm.DB) repositories.SecurityAnswerRepository {
	return &SecurityAnswerPostgreSQL{db: db}
}

func (r SecurityAnswerPostgreSQL) Upsert(ctx context.Context, answer *models.SecurityAnswer) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}, {Name: "role"}, {Name: "question_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"answer_hash", "updated_at"}),
	}).Create(answer).Error
}

func (r SecurityAnswerPostgreSQL) GetForIdentity(ctx context.Context, identityID string, role models.UserRole) ([]*models.SecurityAnswer, error) {
	var answers []*models.SecurityAnswer
	err := r.db.WithContext(ctx).
		Where("identity_id = ? AND role = ?", identityID, role).
		Order("question_key ASC").
		Find(&answers).Error
	return answers, err
}
