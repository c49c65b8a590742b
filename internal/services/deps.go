package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/cache"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/validator"
)

// Deps bundles the collaborators shared by every service
type Deps struct {
	Repo      repositories.Repository
	Cache     cache.CacheService
	Events    events.EventPublisher
	Validator *validator.Validator
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// publish sends a domain event; delivery failures are logged and never fail the caller
func (d Deps) publish(ctx context.Context, event *events.PortalEvent) {
	if d.Events == nil || event == nil {
		return
	}
	if err := d.Events.Publish(ctx, event); err != nil {
		d.Logger.WarnContext(ctx, "Failed to publish event", "event_type", event.Type, "error", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Actor is the authenticated caller of an operation
type Actor struct {
	IdentityID string
	Email      string
	Role       models.UserRole
}

func (a Actor) HasRole(roles ...models.UserRole) bool {
	for _, role := range roles {
		if a.Role == role {
			return true
		}
	}
	return false
}
