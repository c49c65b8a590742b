package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"gorm.io/datatypes"
)

// ProfileService runs onboarding: the first row in a role table for an identity
type ProfileService interface {
	Complete(ctx context.Context, identityID, email string, req *CompleteProfileRequest) (*ProfileResponse, error)
	Me(ctx context.Context, identityID string) (*MeResponse, error)
}

type CompleteProfileRequest struct {
	Role        models.UserRole        `json:"role" validate:"required,user_role"`
	FullName    string                 `json:"fullname" validate:"required,min=2,max=100"`
	Phone       string                 `json:"phone" validate:"required,phone"`
	Gender      string                 `json:"gender" validate:"required,gender"`
	SecurityPIN string                 `json:"security_pin" validate:"omitempty,security_pin"`
	Fields      map[string]interface{} `json:"fields"`
	Details     map[string]interface{} `json:"details"`
}

// ProfileResponse of onboarding. PendingApproval is true for teachers waiting
// on an HOD/admin decision.
type ProfileResponse struct {
	Profile         *models.RoleProfile `json:"profile"`
	RedirectPath    string              `json:"redirect_path"`
	PendingApproval bool                `json:"pending_approval"`
}

type MeResponse struct {
	Identity *IdentityResponse     `json:"identity"`
	Profiles []*models.RoleProfile `json:"profiles"`
	IsNew    bool                  `json:"is_new"`
}

type ProfileConfig struct {
	HODSecurityPIN   string
	AdminSecurityPIN string
}

func (c ProfileConfig) pinFor(role models.UserRole) string {
	switch role {
	case models.RoleHOD:
		return c.HODSecurityPIN
	case models.RoleAdmin:
		return c.AdminSecurityPIN
	}
	return ""
}

type profileService struct {
	Deps
	config ProfileConfig
}

func NewProfileService(deps Deps, cfg ProfileConfig) ProfileService {
	return &profileService{Deps: deps, config: cfg}
}

func (s *profileService) Complete(ctx context.Context, identityID, email string, req *CompleteProfileRequest) (*ProfileResponse, error) {
	s.Logger.InfoContext(ctx, "Completing profile", "identity_id", identityID, "role", req.Role)

	if err := s.Validator.Validate(req); err != nil {
		return nil, err
	}
	policy, err := PolicyFor(req.Role)
	if err != nil {
		return nil, err
	}

	if missing := policy.MissingFields(req.Fields); len(missing) > 0 {
		errs := make(ValidationErrors, 0, len(missing))
		for _, field := range missing {
			errs = append(errs, *NewValidationError("fields."+field, field+" is required for "+string(req.Role), nil))
		}
		return nil, errs
	}

	if policy.PINRequired {
		expected := s.config.pinFor(req.Role)
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(req.SecurityPIN)) != 1 {
			s.Logger.WarnContext(ctx, "Invalid security PIN", "identity_id", identityID, "role", req.Role)
			return nil, ErrInvalidSecurityPIN
		}
	}

	email = normalizeEmail(email)
	profile := &models.RoleProfile{
		Role: req.Role,
		ProfileBase: models.ProfileBase{
			ID:       identityID,
			Email:    email,
			FullName: strings.TrimSpace(req.FullName),
			Phone:    strings.TrimSpace(req.Phone),
			Gender:   req.Gender,
			Status:   policy.DefaultStatus,
		},
		Fields: req.Fields,
	}
	if len(req.Details) > 0 {
		raw, err := json.Marshal(req.Details)
		if err != nil {
			return nil, NewValidationError("details", "details must be a JSON object", nil)
		}
		profile.Details = datatypes.JSON(raw)
	}

	err = s.Repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		existing, err := tx.Profile().Get(ctx, req.Role, identityID)
		if err == nil {
			return s.resubmit(ctx, tx, existing, profile)
		}
		if !repositories.IsNotFoundError(err) {
			return fmt.Errorf("failed to check existing profile: %w", err)
		}

		if err := tx.Profile().Create(ctx, profile); err != nil {
			if repositories.IsDuplicateError(err) {
				return ErrProfileExists
			}
			return fmt.Errorf("failed to create profile: %w", err)
		}

		if req.Role == models.RoleTeacher {
			return s.submitApplication(ctx, tx, email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.InfoContext(ctx, "Profile completed", "identity_id", identityID, "role", req.Role, "status", profile.Status)
	s.publish(ctx, events.NewEvent(events.EventProfileCompleted, events.ProfileCompletedEvent{
		IdentityID: identityID,
		Email:      email,
		Role:       string(req.Role),
		Status:     string(profile.Status),
	}))
	if req.Role == models.RoleTeacher {
		s.publish(ctx, events.NewTeacherApplicationEvent(events.EventApplicationSubmitted, email, string(models.ApprovalPending), nil, nil, nil))
	}

	response := &ProfileResponse{
		Profile:         profile,
		RedirectPath:    policy.LandingPath,
		PendingApproval: profile.Status == models.ProfilePending,
	}
	if response.PendingApproval {
		response.RedirectPath = PathLogin
	}
	return response, nil
}

// resubmit lets a rejected teacher correct the profile and apply again; any
// other existing profile is a conflict
func (s *profileService) resubmit(ctx context.Context, tx repositories.Repository, existing, profile *models.RoleProfile) error {
	if profile.Role != models.RoleTeacher {
		return ErrProfileExists
	}
	approval, err := tx.Approval().GetByEmail(ctx, profile.Email)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("failed to load teacher application: %w", err)
	}
	if approval.Status != models.ApprovalRejected {
		return ErrProfileExists
	}

	profile.CreatedAt = existing.CreatedAt
	if err := tx.Profile().Update(ctx, profile); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return s.submitApplication(ctx, tx, profile.Email)
}

// submitApplication keeps exactly one approval record per teacher email. A
// rejected applicant who completes the profile again goes back to pending.
func (s *profileService) submitApplication(ctx context.Context, tx repositories.Repository, email string) error {
	existing, err := tx.Approval().GetByEmail(ctx, email)
	if err != nil {
		if !repositories.IsNotFoundError(err) {
			return fmt.Errorf("failed to load teacher application: %w", err)
		}
		if err := tx.Approval().Create(ctx, &models.TeacherApproval{
			TeacherEmail: email,
			Status:       models.ApprovalPending,
		}); err != nil {
			return fmt.Errorf("failed to create teacher application: %w", err)
		}
		return nil
	}

	if existing.Status == models.ApprovalRejected {
		existing.Status = models.ApprovalPending
		existing.RejectionReason = nil
		existing.DecidedAt = nil
		existing.DecidedBy = nil
		if err := tx.Approval().Update(ctx, existing); err != nil {
			return fmt.Errorf("failed to resubmit teacher application: %w", err)
		}
	}
	return nil
}

func (s *profileService) Me(ctx context.Context, identityID string) (*MeResponse, error) {
	identity, err := s.Repo.Identity().GetByID(ctx, identityID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	profiles, err := s.Repo.Profile().FindAll(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return &MeResponse{
		Identity: toIdentityResponse(identity),
		Profiles: profiles,
		IsNew:    len(profiles) == 0,
	}, nil
}
