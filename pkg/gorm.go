package pkg

import (
	"fmt"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/config"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Error
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates every table the portal owns
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Identity{},
		&models.AuthSession{},
		&models.Student{},
		&models.Teacher{},
		&models.HOD{},
		&models.Admin{},
		&models.TeacherApproval{},
		&models.SecurityAnswer{},
		&models.ChatSession{},
		&models.ChatMessage{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
