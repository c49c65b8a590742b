package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/auth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/cache"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/oauth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
)

const (
	oauthStateTTL    = 10 * time.Minute
	oauthStatePrefix = "oauth:state:"
)

// OAuthOutcome tells the client what to do after the provider redirect
type OAuthOutcome string

const (
	OAuthAuthenticated   OAuthOutcome = "authenticated"
	OAuthRoleMismatch    OAuthOutcome = "role-mismatch"
	OAuthProfileRequired OAuthOutcome = "profile-required"
)

// OAuthService signs users in through the external identity provider
type OAuthService interface {
	Start(ctx context.Context, req *OAuthStartRequest) (*OAuthStartResult, error)
	Callback(ctx context.Context, req *OAuthCallbackRequest) (*OAuthResult, error)
}

type OAuthStartRequest struct {
	Role        models.UserRole `json:"role" form:"role" validate:"required,user_role"`
	RedirectURL string          `json:"redirect_url" form:"redirect_url" validate:"omitempty,url"`
}

type OAuthStartResult struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type OAuthCallbackRequest struct {
	Code        string            `json:"code" form:"code" validate:"required"`
	State       string            `json:"state" form:"state" validate:"required"`
	ClientID    string            `json:"client_id" form:"client_id"`
	ChallengeID string            `json:"challenge_id" form:"challenge_id"`
	Answers     map[string]string `json:"answers"`
}

// OAuthResult of a callback. ExistingRole is only set for role-mismatch and
// names the role the identity already has a profile in.
type OAuthResult struct {
	Outcome      OAuthOutcome    `json:"outcome"`
	SelectedRole models.UserRole `json:"selected_role"`
	ExistingRole models.UserRole `json:"existing_role,omitempty"`
	Login        *LoginResult    `json:"login"`
}

// oauthState is what Start stashes for the callback
type oauthState struct {
	Role        models.UserRole `json:"role"`
	RedirectURL string          `json:"redirect_url"`
}

type oauthService struct {
	flow            *authFlow
	provider        oauth.Provider
	defaultRedirect string
}

// NewOAuthService returns a service that fails with ErrOAuthNotConfigured when provider is nil
func NewOAuthService(deps Deps, provider oauth.Provider, defaultRedirect string, identities IdentityService, tracker *LockoutTracker, questions *SecurityQuestionSet, tokens *auth.TokenManager) OAuthService {
	return &oauthService{
		flow:            newAuthFlow(deps, identities, tracker, questions, tokens),
		provider:        provider,
		defaultRedirect: defaultRedirect,
	}
}

func (s *oauthService) Start(ctx context.Context, req *OAuthStartRequest) (*OAuthStartResult, error) {
	if s.provider == nil {
		return nil, ErrOAuthNotConfigured
	}
	if err := s.flow.Validator.Validate(req); err != nil {
		return nil, err
	}

	state, err := auth.RandomToken(24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}
	redirect := req.RedirectURL
	if redirect == "" {
		redirect = s.defaultRedirect
	}

	if err := s.flow.Cache.Set(ctx, oauthStatePrefix+state, oauthState{Role: req.Role, RedirectURL: redirect}, oauthStateTTL); err != nil {
		return nil, fmt.Errorf("failed to store oauth state: %w", err)
	}

	return &OAuthStartResult{
		URL:   s.provider.AuthorizeURL(state, redirect),
		State: state,
	}, nil
}

func (s *oauthService) Callback(ctx context.Context, req *OAuthCallbackRequest) (*OAuthResult, error) {
	f := s.flow
	if s.provider == nil {
		return nil, ErrOAuthNotConfigured
	}
	if err := f.Validator.Validate(req); err != nil {
		return nil, err
	}

	stashed, err := s.popState(ctx, req.State)
	if err != nil {
		return nil, err
	}
	role := stashed.Role

	// without a client id the lockout can only be checked once the email is known
	key := ""
	var state *TrackerState
	if req.ClientID != "" {
		key = clientKey(req.ClientID, "")
		if state, err = f.admit(ctx, key); err != nil {
			return nil, err
		}
		if err := f.checkChallengePresent(state, req.ChallengeID, req.Answers); err != nil {
			return nil, err
		}
	}

	ext, err := s.provider.Exchange(ctx, req.Code, req.State)
	if err != nil {
		f.Logger.WarnContext(ctx, "OAuth exchange failed", "error", err)
		if key == "" {
			return nil, &LoginError{Code: LoginInvalidCredentials, Message: "Sign-in with the identity provider failed."}
		}
		return nil, f.fail(ctx, key, role, "", &LoginError{
			Code:    LoginInvalidCredentials,
			Message: "Sign-in with the identity provider failed.",
		})
	}

	if key == "" {
		key = clientKey("", ext.Email)
		if state, err = f.admit(ctx, key); err != nil {
			return nil, err
		}
		if err := f.checkChallengePresent(state, req.ChallengeID, req.Answers); err != nil {
			return nil, err
		}
	}

	signIn, err := f.identities.SignInExternal(ctx, ExternalIdentity{
		Provider:      models.ProviderCasdoor,
		ExternalID:    ext.ExternalID,
		Email:         ext.Email,
		EmailVerified: ext.EmailVerified,
	}, role)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, f.fail(ctx, key, role, ext.Email, &LoginError{
				Code:    LoginInvalidCredentials,
				Message: "The identity provider did not return an email address.",
			})
		}
		return nil, err
	}

	outcome, existing, err := s.resolve(ctx, signIn.Identity.ID, role)
	if err != nil {
		f.signOut(ctx, signIn.Session.ID)
		return nil, err
	}

	runGate, err := f.gateApplies(ctx, role, signIn.Identity)
	if err != nil {
		f.signOut(ctx, signIn.Session.ID)
		return nil, err
	}

	login, err := f.complete(ctx, key, role, signIn, state, req.Answers, runGate)
	if err != nil {
		return nil, err
	}

	return &OAuthResult{
		Outcome:      outcome,
		SelectedRole: role,
		ExistingRole: existing,
		Login:        login,
	}, nil
}

func (s *oauthService) popState(ctx context.Context, state string) (*oauthState, error) {
	var stashed oauthState
	if err := s.flow.Cache.Get(ctx, oauthStatePrefix+state, &stashed); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrOAuthStateInvalid
		}
		return nil, fmt.Errorf("failed to load oauth state: %w", err)
	}
	if err := s.flow.Cache.Delete(ctx, oauthStatePrefix+state); err != nil {
		s.flow.Logger.WarnContext(ctx, "Failed to delete oauth state", "error", err)
	}
	if !stashed.Role.IsValid() {
		return nil, ErrOAuthStateInvalid
	}
	return &stashed, nil
}

// resolve checks the selected role first, then every other role table
func (s *oauthService) resolve(ctx context.Context, identityID string, role models.UserRole) (OAuthOutcome, models.UserRole, error) {
	if _, err := s.flow.Repo.Profile().Get(ctx, role, identityID); err == nil {
		return OAuthAuthenticated, "", nil
	} else if !repositories.IsNotFoundError(err) {
		return "", "", fmt.Errorf("failed to load profile: %w", err)
	}

	profiles, err := s.flow.Repo.Profile().FindAll(ctx, identityID)
	if err != nil {
		return "", "", fmt.Errorf("failed to search profiles: %w", err)
	}
	if len(profiles) > 0 {
		return OAuthRoleMismatch, profiles[0].Role, nil
	}
	return OAuthProfileRequired, "", nil
}
