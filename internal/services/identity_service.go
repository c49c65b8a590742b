package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/auth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/mailer"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"github.com/google/uuid"
)

// IdentityService is the credential store: accounts, email confirmation,
// password resets and signed-in sessions
type IdentityService interface {
	Signup(ctx context.Context, req *SignupRequest) (*IdentityResponse, error)
	ConfirmEmail(ctx context.Context, req *ConfirmEmailRequest) (*IdentityResponse, error)
	ResendConfirmation(ctx context.Context, req *EmailRequest) error
	ForgotPassword(ctx context.Context, req *EmailRequest) error
	ResetPassword(ctx context.Context, req *ResetPasswordRequest) error
	GetIdentity(ctx context.Context, id string) (*IdentityResponse, error)

	EnrollSecurityAnswers(ctx context.Context, identityID string, req *EnrollSecurityAnswersRequest) error
	// VerifySecurityAnswers checks answers against enrolled hashes; identities
	// without enrolled answers pass
	VerifySecurityAnswers(ctx context.Context, identityID string, role models.UserRole, answers map[string]string) (bool, error)

	SignIn(ctx context.Context, email, password string, role models.UserRole) (*SignInResult, error)
	SignInExternal(ctx context.Context, ext ExternalIdentity, role models.UserRole) (*SignInResult, error)
	// OpenSession starts a session for an identity whose credentials were
	// already accepted in the same request
	OpenSession(ctx context.Context, identity *models.Identity, role models.UserRole) (*SignInResult, error)
	SignOut(ctx context.Context, sessionID string) error
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type ConfirmEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type EnrollSecurityAnswersRequest struct {
	Role    models.UserRole   `json:"role" validate:"required,user_role"`
	Answers map[string]string `json:"answers" validate:"required,min=1,dive,keys,required,endkeys,required,max=100"`
}

type IdentityResponse struct {
	ID             string                  `json:"id"`
	Email          string                  `json:"email"`
	Provider       models.IdentityProvider `json:"provider"`
	EmailConfirmed bool                    `json:"email_confirmed"`
	LastSignInAt   *time.Time              `json:"last_sign_in_at,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// ExternalIdentity is what the OAuth provider tells us about a user
type ExternalIdentity struct {
	Provider      models.IdentityProvider
	ExternalID    string
	Email         string
	EmailVerified bool
}

// SignInResult is an identity with a freshly opened auth session
type SignInResult struct {
	Identity     *models.Identity
	Session      *models.AuthSession
	RefreshToken string
}

type IdentityConfig struct {
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

type identityService struct {
	Deps
	mailer mailer.Mailer
	config IdentityConfig
}

func NewIdentityService(deps Deps, m mailer.Mailer, cfg IdentityConfig) IdentityService {
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = time.Hour
	}
	return &identityService{Deps: deps, mailer: m, config: cfg}
}

// ===== ACCOUNT LIFECYCLE =====

func (s *identityService) Signup(ctx context.Context, req *SignupRequest) (*IdentityResponse, error) {
	if err := s.Validator.Validate(req); err != nil {
		return nil, err
	}
	email := normalizeEmail(req.Email)

	if _, err := s.Repo.Identity().GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check existing identity: %w", err)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	token, err := auth.RandomToken(24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate confirmation token: %w", err)
	}

	identity := &models.Identity{
		ID:                uuid.New().String(),
		Email:             email,
		PasswordHash:      hash,
		Provider:          models.ProviderPassword,
		ConfirmationToken: &token,
	}
	if err := s.Repo.Identity().Create(ctx, identity); err != nil {
		if repositories.IsDuplicateError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	if err := s.mailer.SendConfirmation(ctx, email, token); err != nil {
		s.Logger.ErrorContext(ctx, "Failed to send confirmation email", "email", email, "error", err)
	}

	s.Logger.InfoContext(ctx, "Identity registered", "identity_id", identity.ID)
	s.publish(ctx, events.NewEvent(events.EventIdentityRegistered, map[string]interface{}{
		"identity_id": identity.ID,
		"email":       email,
	}))

	return toIdentityResponse(identity), nil
}

func (s *identityService) ConfirmEmail(ctx context.Context, req *ConfirmEmailRequest) (*IdentityResponse, error) {
	if err := s.Validator.Validate(req); err != nil {
		return nil, err
	}

	identity, err := s.Repo.Identity().GetByConfirmationToken(ctx, req.Token)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	now := s.now()
	identity.EmailConfirmedAt = &now
	identity.ConfirmationToken = nil
	if err := s.Repo.Identity().Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to confirm email: %w", err)
	}

	return toIdentityResponse(identity), nil
}

// ResendConfirmation does not reveal whether the email is registered
func (s *identityService) ResendConfirmation(ctx context.Context, req *EmailRequest) error {
	if err := s.Validator.Validate(req); err != nil {
		return err
	}

	identity, err := s.Repo.Identity().GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if identity.IsConfirmed() {
		return ErrAlreadyConfirmed
	}

	token, err := auth.RandomToken(24)
	if err != nil {
		return fmt.Errorf("failed to generate confirmation token: %w", err)
	}
	identity.ConfirmationToken = &token
	if err := s.Repo.Identity().Update(ctx, identity); err != nil {
		return fmt.Errorf("failed to store confirmation token: %w", err)
	}
	return s.mailer.SendConfirmation(ctx, identity.Email, token)
}

func (s *identityService) ForgotPassword(ctx context.Context, req *EmailRequest) error {
	if err := s.Validator.Validate(req); err != nil {
		return err
	}

	identity, err := s.Repo.Identity().GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}

	token, err := auth.RandomToken(24)
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	expires := s.now().Add(s.config.ResetTTL)
	identity.ResetToken = &token
	identity.ResetExpiresAt = &expires
	if err := s.Repo.Identity().Update(ctx, identity); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return s.mailer.SendPasswordReset(ctx, identity.Email, token)
}

func (s *identityService) ResetPassword(ctx context.Context, req *ResetPasswordRequest) error {
	if err := s.Validator.Validate(req); err != nil {
		return err
	}

	identity, err := s.Repo.Identity().GetByResetToken(ctx, req.Token)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if identity.ResetExpiresAt == nil || !s.now().Before(*identity.ResetExpiresAt) {
		return ErrInvalidToken
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	identity.PasswordHash = hash
	identity.ResetToken = nil
	identity.ResetExpiresAt = nil
	// a reset link proves control of the mailbox
	if !identity.IsConfirmed() {
		now := s.now()
		identity.EmailConfirmedAt = &now
		identity.ConfirmationToken = nil
	}
	if err := s.Repo.Identity().Update(ctx, identity); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (s *identityService) GetIdentity(ctx context.Context, id string) (*IdentityResponse, error) {
	identity, err := s.Repo.Identity().GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return toIdentityResponse(identity), nil
}

// ===== SECURITY ANSWERS =====

func (s *identityService) EnrollSecurityAnswers(ctx context.Context, identityID string, req *EnrollSecurityAnswersRequest) error {
	if err := s.Validator.Validate(req); err != nil {
		return err
	}
	catalog, ok := securityQuestionCatalog[req.Role]
	if !ok {
		return ErrInvalidRole
	}

	known := make(map[string]bool, len(catalog))
	for _, q := range catalog {
		known[q.Key] = true
	}
	for key := range req.Answers {
		if !known[key] {
			return fmt.Errorf("%w: %s", ErrUnknownQuestion, key)
		}
	}

	return s.Repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		for key, answer := range req.Answers {
			hash, err := auth.HashPassword(auth.NormalizeAnswer(answer))
			if err != nil {
				return fmt.Errorf("failed to hash answer: %w", err)
			}
			if err := tx.SecurityAnswer().Upsert(ctx, &models.SecurityAnswer{
				IdentityID:  identityID,
				Role:        req.Role,
				QuestionKey: key,
				AnswerHash:  hash,
			}); err != nil {
				return fmt.Errorf("failed to store security answer: %w", err)
			}
		}
		return nil
	})
}

func (s *identityService) VerifySecurityAnswers(ctx context.Context, identityID string, role models.UserRole, answers map[string]string) (bool, error) {
	enrolled, err := s.Repo.SecurityAnswer().GetForIdentity(ctx, identityID, role)
	if err != nil {
		return false, fmt.Errorf("failed to load security answers: %w", err)
	}
	if len(enrolled) == 0 {
		s.Logger.WarnContext(ctx, "Security answers accepted without enrollment", "identity_id", identityID, "role", role)
		return true, nil
	}

	for _, e := range enrolled {
		answer, asked := answers[e.QuestionKey]
		if !asked {
			continue
		}
		if !auth.CheckPassword(e.AnswerHash, auth.NormalizeAnswer(answer)) {
			return false, nil
		}
	}
	return true, nil
}

// ===== SESSIONS =====

func (s *identityService) SignIn(ctx context.Context, email, password string, role models.UserRole) (*SignInResult, error) {
	identity, err := s.Repo.Identity().GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if !auth.CheckPassword(identity.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.openSession(ctx, identity, role)
}

// SignInExternal links or creates the identity an OAuth provider vouched for
func (s *identityService) SignInExternal(ctx context.Context, ext ExternalIdentity, role models.UserRole) (*SignInResult, error) {
	email := normalizeEmail(ext.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	identity, err := s.Repo.Identity().GetByEmail(ctx, email)
	switch {
	case err == nil:
		changed := false
		if identity.ExternalID == nil && ext.ExternalID != "" {
			externalID := ext.ExternalID
			identity.ExternalID = &externalID
			changed = true
		}
		if !identity.IsConfirmed() && ext.EmailVerified {
			now := s.now()
			identity.EmailConfirmedAt = &now
			identity.ConfirmationToken = nil
			changed = true
		}
		if changed {
			if err := s.Repo.Identity().Update(ctx, identity); err != nil {
				return nil, fmt.Errorf("failed to link external identity: %w", err)
			}
		}
	case repositories.IsNotFoundError(err):
		identity = &models.Identity{
			ID:       uuid.New().String(),
			Email:    email,
			Provider: ext.Provider,
		}
		if ext.ExternalID != "" {
			externalID := ext.ExternalID
			identity.ExternalID = &externalID
		}
		if ext.EmailVerified {
			now := s.now()
			identity.EmailConfirmedAt = &now
		}
		if err := s.Repo.Identity().Create(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to create external identity: %w", err)
		}
		s.publish(ctx, events.NewEvent(events.EventIdentityRegistered, map[string]interface{}{
			"identity_id": identity.ID,
			"email":       email,
			"provider":    string(ext.Provider),
		}))
	default:
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	return s.openSession(ctx, identity, role)
}

func (s *identityService) OpenSession(ctx context.Context, identity *models.Identity, role models.UserRole) (*SignInResult, error) {
	return s.openSession(ctx, identity, role)
}

func (s *identityService) openSession(ctx context.Context, identity *models.Identity, role models.UserRole) (*SignInResult, error) {
	refreshToken, err := auth.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := s.now()
	session := &models.AuthSession{
		ID:               uuid.New().String(),
		IdentityID:       identity.ID,
		Role:             role,
		RefreshTokenHash: auth.HashToken(refreshToken),
		ExpiresAt:        now.Add(s.config.RefreshTTL),
		CreatedAt:        now,
	}
	if err := s.Repo.Identity().CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	identity.LastSignInAt = &now
	if err := s.Repo.Identity().Update(ctx, identity); err != nil {
		s.Logger.WarnContext(ctx, "Failed to record sign-in time", "identity_id", identity.ID, "error", err)
	}

	return &SignInResult{Identity: identity, Session: session, RefreshToken: refreshToken}, nil
}

func (s *identityService) SignOut(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	if err := s.Repo.Identity().RevokeSession(ctx, sessionID, s.now()); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func toIdentityResponse(identity *models.Identity) *IdentityResponse {
	return &IdentityResponse{
		ID:             identity.ID,
		Email:          identity.Email,
		Provider:       identity.Provider,
		EmailConfirmed: identity.IsConfirmed(),
		LastSignInAt:   identity.LastSignInAt,
		CreatedAt:      identity.CreatedAt,
	}
}
