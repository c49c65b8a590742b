package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImageUpload is an image attached to a chat message
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// StoredUpload is an image written to the upload directory
type StoredUpload struct {
	Name        string    `json:"name"`
	Path        string    `json:"-"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	StoredAt    time.Time `json:"stored_at"`
}

// UploadService stores chat images on disk and evicts them after MaxAge
type UploadService interface {
	Save(ctx context.Context, upload *ImageUpload) (*StoredUpload, error)
	Sweep(ctx context.Context) (int, error)
	StartSweeper(ctx context.Context)
	Dir() string
}

type UploadConfig struct {
	Dir           string
	PublicBaseURL string
	MaxAge        time.Duration
	SweepInterval time.Duration
	MaxBytes      int64
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type uploadService struct {
	Deps
	config UploadConfig
}

func NewUploadService(deps Deps, cfg UploadConfig) (UploadService, error) {
	if cfg.Dir == "" {
		cfg.Dir = "uploads"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &uploadService{Deps: deps, config: cfg}, nil
}

func (s *uploadService) Dir() string {
	return s.config.Dir
}

func (s *uploadService) Save(ctx context.Context, upload *ImageUpload) (*StoredUpload, error) {
	if upload == nil || len(upload.Data) == 0 {
		return nil, ErrInvalidImage
	}
	if int64(len(upload.Data)) > s.config.MaxBytes {
		return nil, ErrImageTooLarge
	}

	contentType := http.DetectContentType(upload.Data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return nil, ErrInvalidImage
	}

	name := uuid.New().String() + ext
	path := filepath.Join(s.config.Dir, name)
	if err := os.WriteFile(path, upload.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	s.Logger.InfoContext(ctx, "Stored chat image", "name", name, "bytes", len(upload.Data))
	return &StoredUpload{
		Name:        name,
		Path:        path,
		URL:         strings.TrimRight(s.config.PublicBaseURL, "/") + "/uploads/" + name,
		ContentType: contentType,
		StoredAt:    s.now(),
	}, nil
}

// Sweep deletes every stored file older than MaxAge, whether or not it was used
func (s *uploadService) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	cutoff := s.now().Add(-s.config.MaxAge)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.Dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			s.Logger.WarnContext(ctx, "Failed to remove expired upload", "name", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// StartSweeper runs Sweep every SweepInterval until ctx is cancelled
func (s *uploadService) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Sweep(ctx)
				if err != nil {
					s.Logger.ErrorContext(ctx, "Upload sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					s.Logger.InfoContext(ctx, "Upload sweep removed expired files", "removed", removed)
				}
			}
		}
	}()
}
