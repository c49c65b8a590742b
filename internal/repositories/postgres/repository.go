package postgres

import (
	"context"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"gorm.io/gorm"
)

// Manager implements repositories.Repository on top of a gorm connection
type Manager struct {
	db             *gorm.DB
	identity       repositories.IdentityRepository
	profile        repositories.ProfileRepository
	approval       repositories.TeacherApprovalRepository
	securityAnswer repositories.SecurityAnswerRepository
	chat           repositories.ChatRepository
}

func NewRepository(db *gorm.DB) repositories.Repository {
	return &Manager{
		db:             db,
		identity:       NewIdentityPostgreSQL(db),
		profile:        NewProfilePostgreSQL(db),
		approval:       NewTeacherApprovalPostgreSQL(db),
		securityAnswer: NewSecurityAnswerPostgreSQL(db),
		chat:           NewChatPostgreSQL(db),
	}
}

func (m *Manager) Identity() repositories.IdentityRepository { return m.identity }

func (m *Manager) Profile() repositories.ProfileRepository { return m.profile }

func (m *Manager) Approval() repositories.TeacherApprovalRepository { return m.approval }

func (m *Manager) SecurityAnswer() repositories.SecurityAnswerRepository { return m.securityAnswer }

func (m *Manager) Chat() repositories.ChatRepository { return m.chat }

func (m *Manager) WithTransaction(ctx context.Context, fn func(tx repositories.Repository) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}
