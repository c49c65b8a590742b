package postgres

import (
	"context"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"gorm.io/gorm"
)

type ChatPostgreSQL struct {
	db *gorm.DB
}

func NewChatPostgreSQL(db *gorm.DB) repositories.ChatRepository {
	return &ChatPostgreSQL{db: db}
}

func (r ChatPostgreSQL) CreateSession(ctx context.Context, session *models.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r ChatPostgreSQL) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r ChatPostgreSQL) ListSessions(ctx context.Context, userID string, persona models.ChatPersona) ([]*models.ChatSession, error) {
	var sessions []*models.ChatSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND persona = ?", userID, persona).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (r ChatPostgreSQL) CreateMessage(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListMessages orders by the serial column as a tiebreaker for rows sharing a timestamp
func (r ChatPostgreSQL) ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, seq ASC").
		Find(&messages).Error
	return messages, err
}

func (r ChatPostgreSQL) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.ChatMessage{})
	return result.RowsAffected, result.Error
}
