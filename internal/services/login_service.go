package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/auth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
)

// LoginService authenticates a user against one selected role
type LoginService interface {
	Login(ctx context.Context, req *LoginRequest) (*LoginResult, error)
	Status(ctx context.Context, clientKey string) (*LoginStatus, error)
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	Authenticate(ctx context.Context, accessToken string) (*auth.Claims, error)
	SecurityQuestions(role models.UserRole) ([]SecurityQuestion, error)
}

type LoginRequest struct {
	Role        models.UserRole   `json:"role" validate:"required,user_role"`
	Email       string            `json:"email" validate:"required,email"`
	Password    string            `json:"password" validate:"required"`
	ClientID    string            `json:"client_id" validate:"max=128"`
	ChallengeID string            `json:"challenge_id"`
	Answers     map[string]string `json:"answers"`
}

// ClientKey identifies whose failures a request counts against
func (r *LoginRequest) ClientKey() string {
	return clientKey(r.ClientID, r.Email)
}

func clientKey(clientID, email string) string {
	if id := strings.TrimSpace(clientID); id != "" {
		return "client:" + id
	}
	return "email:" + normalizeEmail(email)
}

type LoginResult struct {
	AccessToken     string              `json:"access_token"`
	RefreshToken    string              `json:"refresh_token"`
	ExpiresAt       time.Time           `json:"expires_at"`
	SessionID       string              `json:"session_id"`
	Identity        *IdentityResponse   `json:"identity"`
	Role            models.UserRole     `json:"role"`
	Profile         *models.RoleProfile `json:"profile,omitempty"`
	RedirectPath    string              `json:"redirect_path"`
	ProfileRequired bool                `json:"profile_required"`
}

type LoginStatus struct {
	Attempts  int        `json:"attempts"`
	Locked    bool       `json:"locked"`
	RetryIn   int        `json:"retry_in"`
	Challenge *Challenge `json:"challenge,omitempty"`
}

// authFlow holds the steps shared by password and OAuth sign-in
type authFlow struct {
	Deps
	identities IdentityService
	tracker    *LockoutTracker
	questions  *SecurityQuestionSet
	tokens     *auth.TokenManager
}

func newAuthFlow(deps Deps, identities IdentityService, tracker *LockoutTracker, questions *SecurityQuestionSet, tokens *auth.TokenManager) *authFlow {
	return &authFlow{
		Deps:       deps,
		identities: identities,
		tracker:    tracker,
		questions:  questions,
		tokens:     tokens,
	}
}

type loginService struct {
	flow *authFlow
}

func NewLoginService(deps Deps, identities IdentityService, tracker *LockoutTracker, questions *SecurityQuestionSet, tokens *auth.TokenManager) LoginService {
	return &loginService{flow: newAuthFlow(deps, identities, tracker, questions, tokens)}
}

func (s *loginService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	f := s.flow
	key := req.ClientKey()

	state, err := f.admit(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := f.Validator.Validate(req); err != nil {
		return nil, err
	}
	if err := f.checkChallengePresent(state, req.ChallengeID, req.Answers); err != nil {
		return nil, err
	}

	f.Logger.InfoContext(ctx, "Login attempt", "role", req.Role, "attempts", state.Attempts)

	signIn, err := f.identities.SignIn(ctx, req.Email, req.Password, req.Role)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			f.Logger.ErrorContext(ctx, "Credential store sign-in failed", "error", err)
		}
		return nil, f.fail(ctx, key, req.Role, req.Email, &LoginError{
			Code:    LoginInvalidCredentials,
			Message: signInFailureMessage(err),
		})
	}

	runGate, err := f.gateApplies(ctx, req.Role, signIn.Identity)
	if err != nil {
		f.signOut(ctx, signIn.Session.ID)
		return nil, err
	}
	return f.complete(ctx, key, req.Role, signIn, state, req.Answers, runGate)
}

// gateApplies decides whether the role gate runs for this sign-in. An identity
// with neither a profile in the role nor a gate record on file is onboarding and
// gets a profile completion session instead.
func (f *authFlow) gateApplies(ctx context.Context, role models.UserRole, identity *models.Identity) (bool, error) {
	policy, err := PolicyFor(role)
	if err != nil {
		return false, err
	}
	if policy.Gate == nil {
		return false, nil
	}

	_, err = f.Repo.Profile().Get(ctx, role, identity.ID)
	switch {
	case err == nil:
		return true, nil
	case !repositories.IsNotFoundError(err):
		return false, fmt.Errorf("failed to load profile: %w", err)
	}
	return policy.Gate.OnFile(ctx, f.Repo, identity.Email)
}

func signInFailureMessage(err error) string {
	if errors.Is(err, ErrInvalidCredentials) {
		return "Invalid email or password."
	}
	return "Unable to sign in right now: " + err.Error()
}

// admit rejects the attempt outright while the client is locked out
func (f *authFlow) admit(ctx context.Context, key string) (*TrackerState, error) {
	state, err := f.tracker.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := f.tracker.Now()
	if state.IsLocked(now) {
		retryIn := state.LockoutSecondsRemaining(now)
		return nil, &LoginError{
			Code:     LoginLockedOut,
			Message:  fmt.Sprintf("Too many failed attempts. Please try again in %d seconds.", retryIn),
			Attempts: state.Attempts,
			RetryIn:  retryIn,
		}
	}
	return state, nil
}

// checkChallengePresent requires an answer to every question of the active challenge
func (f *authFlow) checkChallengePresent(state *TrackerState, challengeID string, answers map[string]string) error {
	if !state.Challenged || state.Challenge == nil {
		return nil
	}
	incomplete := &LoginError{
		Code:      LoginSecurityQuestionsIncomplete,
		Message:   "Please answer both security questions to continue.",
		Attempts:  state.Attempts,
		Challenge: state.Challenge,
	}
	if challengeID != state.Challenge.ID {
		return incomplete
	}
	for _, q := range state.Challenge.Questions {
		if strings.TrimSpace(answers[q.Key]) == "" {
			return incomplete
		}
	}
	return nil
}

// complete runs the post sign-in checks and issues tokens. Every rejection
// signs the new session out and counts as a failed attempt. The role gate is
// skipped for identities that still have to create the role's profile.
func (f *authFlow) complete(ctx context.Context, key string, role models.UserRole, signIn *SignInResult, state *TrackerState, answers map[string]string, runGate bool) (*LoginResult, error) {
	identity := signIn.Identity

	reject := func(le *LoginError) error {
		f.signOut(ctx, signIn.Session.ID)
		return f.fail(ctx, key, role, identity.Email, le)
	}

	if !identity.IsConfirmed() {
		return nil, reject(&LoginError{
			Code:    LoginUnconfirmedEmail,
			Message: "Please confirm your email address before signing in.",
		})
	}

	if state.Challenged && state.Challenge != nil {
		ok, err := f.identities.VerifySecurityAnswers(ctx, identity.ID, role, answers)
		if err != nil {
			f.signOut(ctx, signIn.Session.ID)
			return nil, err
		}
		if !ok {
			return nil, reject(&LoginError{
				Code:    LoginSecurityQuestionsIncomplete,
				Message: "Your security answers did not match our records.",
			})
		}
	}

	policy, err := PolicyFor(role)
	if err != nil {
		f.signOut(ctx, signIn.Session.ID)
		return nil, err
	}
	if runGate && policy.Gate != nil {
		if err := policy.Gate.Check(ctx, f.Repo, identity.Email); err != nil {
			var le *LoginError
			if errors.As(err, &le) {
				rejected := reject(le)
				if le.Code == LoginApplicationRejected {
					le.Reapply = f.reapplySession(ctx, identity, role)
				}
				return nil, rejected
			}
			f.signOut(ctx, signIn.Session.ID)
			return nil, err
		}
	}

	if err := f.tracker.Reset(ctx, key); err != nil {
		f.Logger.WarnContext(ctx, "Failed to reset login tracker", "error", err)
	}

	result, err := f.issue(ctx, identity, role, signIn.Session, signIn.RefreshToken)
	if err != nil {
		f.signOut(ctx, signIn.Session.ID)
		return nil, err
	}

	f.Logger.InfoContext(ctx, "Login succeeded", "identity_id", identity.ID, "role", role)
	f.publish(ctx, events.NewLoginEvent(events.EventLoginSucceeded, identity.Email, string(role), key, 0))
	return result, nil
}

// fail counts the attempt and decorates the error with the tracker state
func (f *authFlow) fail(ctx context.Context, key string, role models.UserRole, email string, le *LoginError) error {
	state, challenged, locked, err := f.tracker.RecordFailure(ctx, key, role)
	if err != nil {
		f.Logger.ErrorContext(ctx, "Failed to record login failure", "error", err)
		return le
	}

	le.Attempts = state.Attempts
	le.Challenge = state.Challenge
	if locked {
		le.RetryIn = state.LockoutSecondsRemaining(f.tracker.Now())
		f.Logger.WarnContext(ctx, "Login locked out", "attempts", state.Attempts, "retry_in", le.RetryIn)
		f.publish(ctx, events.NewLoginEvent(events.EventLoginLockedOut, email, string(role), key, state.Attempts))
	}
	if challenged {
		le.Notice = "Too many failed attempts. Please answer the security questions to continue."
		f.publish(ctx, events.NewLoginEvent(events.EventChallengeIssued, email, string(role), key, state.Attempts))
	}

	f.Logger.InfoContext(ctx, "Login failed", "code", le.Code, "attempts", state.Attempts)
	return le
}

// reapplySession opens a fresh session limited to profile completion so a
// rejected applicant can correct the profile and apply again
func (f *authFlow) reapplySession(ctx context.Context, identity *models.Identity, role models.UserRole) *LoginResult {
	signIn, err := f.identities.OpenSession(ctx, identity, role)
	if err != nil {
		f.Logger.WarnContext(ctx, "Failed to open reapply session", "identity_id", identity.ID, "error", err)
		return nil
	}
	result, err := f.issue(ctx, identity, role, signIn.Session, signIn.RefreshToken)
	if err != nil {
		f.signOut(ctx, signIn.Session.ID)
		f.Logger.WarnContext(ctx, "Failed to issue reapply token", "identity_id", identity.ID, "error", err)
		return nil
	}
	return result
}

func (f *authFlow) signOut(ctx context.Context, sessionID string) {
	if err := f.identities.SignOut(ctx, sessionID); err != nil {
		f.Logger.WarnContext(ctx, "Failed to sign out session", "session_id", sessionID, "error", err)
	}
}

// issue signs an access token and decides where the user lands. The role claim
// is only granted while the identity holds an active profile in that role;
// otherwise the token is limited to profile completion.
func (f *authFlow) issue(ctx context.Context, identity *models.Identity, role models.UserRole, session *models.AuthSession, refreshToken string) (*LoginResult, error) {
	policy, err := PolicyFor(role)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		RefreshToken: refreshToken,
		SessionID:    session.ID,
		Identity:     toIdentityResponse(identity),
		Role:         role,
		RedirectPath: PathCompleteProfile,
	}

	profile, err := f.Repo.Profile().Get(ctx, role, identity.ID)
	switch {
	case err == nil:
		result.Profile = profile
	case repositories.IsNotFoundError(err):
		result.ProfileRequired = true
	default:
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var claimRole models.UserRole
	if profile != nil && profile.IsActive() {
		claimRole = role
		result.RedirectPath = policy.LandingPath
	}

	result.AccessToken, result.ExpiresAt, err = f.tokens.GenerateAccessToken(identity.ID, identity.Email, claimRole, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	return result, nil
}

func (s *loginService) Status(ctx context.Context, key string) (*LoginStatus, error) {
	state, err := s.flow.tracker.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := s.flow.tracker.Now()
	return &LoginStatus{
		Attempts:  state.Attempts,
		Locked:    state.IsLocked(now),
		RetryIn:   state.LockoutSecondsRemaining(now),
		Challenge: state.Challenge,
	}, nil
}

func (s *loginService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	f := s.flow
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidToken
	}

	session, err := f.Repo.Identity().GetSessionByRefreshHash(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.IsActive(f.now()) {
		return nil, ErrSessionRevoked
	}

	identity, err := f.Repo.Identity().GetByID(ctx, session.IdentityID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	return f.issue(ctx, identity, session.Role, session, refreshToken)
}

func (s *loginService) Logout(ctx context.Context, sessionID string) error {
	return s.flow.identities.SignOut(ctx, sessionID)
}

// Authenticate accepts an access token only while its auth session is still open
func (s *loginService) Authenticate(ctx context.Context, accessToken string) (*auth.Claims, error) {
	f := s.flow
	claims, err := f.tokens.ParseAccessToken(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	session, err := f.Repo.Identity().GetSession(ctx, claims.SessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.IsActive(f.now()) {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

func (s *loginService) SecurityQuestions(role models.UserRole) ([]SecurityQuestion, error) {
	return s.flow.questions.Catalog(role)
}
