package services

import (
	"context"
	"testing"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answersFor(ch *Challenge) map[string]string {
	answers := make(map[string]string, len(ch.Questions))
	for _, q := range ch.Questions {
		answers[q.Key] = "answer for " + q.Key
	}
	return answers
}

func requireLoginError(t *testing.T, err error, code LoginErrorCode) *LoginError {
	t.Helper()
	le, ok := AsLoginError(err)
	require.True(t, ok, "expected *LoginError, got %v", err)
	require.Equal(t, code, le.Code, le.Message)
	return le
}

// failUntilLocked drives the client to the lockout, answering the challenge once it appears
func failUntilLocked(t *testing.T, env *testEnv, role models.UserRole, email string) *LoginError {
	t.Helper()
	ctx := context.Background()
	var challenge *Challenge
	var last *LoginError
	for i := 1; i <= LockoutThreshold; i++ {
		req := env.loginRequest(role, email, "wrong-password")
		if challenge != nil {
			req.ChallengeID = challenge.ID
			req.Answers = answersFor(challenge)
		}
		_, err := env.login.Login(ctx, req)
		last = requireLoginError(t, err, LoginInvalidCredentials)
		require.Equal(t, i, last.Attempts)
		challenge = last.Challenge
	}
	return last
}

func TestLogin_FailureCounterChallengesOnceAndLocksOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "student@example.com", true)
	env.createProfile(t, identity, models.RoleStudent, models.ProfileActive)

	for i := 1; i < ChallengeThreshold; i++ {
		_, err := env.login.Login(ctx, env.loginRequest(models.RoleStudent, identity.Email, "nope"))
		le := requireLoginError(t, err, LoginInvalidCredentials)
		assert.Equal(t, i, le.Attempts)
		assert.Nil(t, le.Challenge)
		assert.Empty(t, le.Notice)
	}

	_, err := env.login.Login(ctx, env.loginRequest(models.RoleStudent, identity.Email, "nope"))
	le := requireLoginError(t, err, LoginInvalidCredentials)
	assert.Equal(t, ChallengeThreshold, le.Attempts)
	require.NotNil(t, le.Challenge)
	assert.NotEmpty(t, le.Notice)
	require.Len(t, le.Challenge.Questions, ChallengeQuestionCount)
	assert.NotEqual(t, le.Challenge.Questions[0].Key, le.Challenge.Questions[1].Key)
	for _, q := range le.Challenge.Questions {
		_, known := env.questions.Lookup(models.RoleStudent, q.Key)
		assert.True(t, known, q.Key)
	}
	challenge := le.Challenge

	t.Run("missing answers block the attempt without counting it", func(t *testing.T) {
		_, err := env.login.Login(ctx, env.loginRequest(models.RoleStudent, identity.Email, "nope"))
		le := requireLoginError(t, err, LoginSecurityQuestionsIncomplete)
		assert.Equal(t, ChallengeThreshold, le.Attempts)

		status, err := env.login.Status(ctx, "client:browser-1")
		require.NoError(t, err)
		assert.Equal(t, ChallengeThreshold, status.Attempts)
	})

	req := env.loginRequest(models.RoleStudent, identity.Email, "nope")
	req.ChallengeID = challenge.ID
	req.Answers = answersFor(challenge)
	_, err = env.login.Login(ctx, req)
	le = requireLoginError(t, err, LoginInvalidCredentials)
	assert.Equal(t, 4, le.Attempts)
	assert.Empty(t, le.Notice, "the challenge notice is only shown once")
	assert.Equal(t, challenge.ID, le.Challenge.ID, "the challenge is not re-sampled")

	_, err = env.login.Login(ctx, req)
	le = requireLoginError(t, err, LoginInvalidCredentials)
	assert.Equal(t, LockoutThreshold, le.Attempts)
	assert.Equal(t, int(LockoutDuration.Seconds()), le.RetryIn)

	assert.Len(t, env.events.EventsOfType(events.EventChallengeIssued), 1)
	assert.Len(t, env.events.EventsOfType(events.EventLoginLockedOut), 1)
}

func TestLogin_LockoutSkipsCredentialStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "locked@example.com", true)
	env.createProfile(t, identity, models.RoleStudent, models.ProfileActive)

	last := failUntilLocked(t, env, models.RoleStudent, identity.Email)
	calls := env.identities.SignInCalls()

	req := env.loginRequest(models.RoleStudent, identity.Email, testPassword)
	req.ChallengeID = last.Challenge.ID
	req.Answers = answersFor(last.Challenge)

	_, err := env.login.Login(ctx, req)
	le := requireLoginError(t, err, LoginLockedOut)
	assert.Equal(t, 30, le.RetryIn)

	env.clock.Advance(12 * time.Second)
	_, err = env.login.Login(ctx, req)
	le = requireLoginError(t, err, LoginLockedOut)
	assert.Equal(t, 18, le.RetryIn, "the countdown decrements once per second")

	env.clock.Advance(17 * time.Second)
	_, err = env.login.Login(ctx, req)
	le = requireLoginError(t, err, LoginLockedOut)
	assert.Equal(t, 1, le.RetryIn)
	assert.Equal(t, calls, env.identities.SignInCalls(), "no sign-in while locked out")

	env.clock.Advance(time.Second)
	result, err := env.login.Login(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, calls+1, env.identities.SignInCalls())
	assert.Equal(t, PathProfile, result.RedirectPath)

	status, err := env.login.Status(ctx, req.ClientKey())
	require.NoError(t, err)
	assert.Equal(t, 0, status.Attempts, "success resets the counter")
	assert.False(t, status.Locked)
	assert.Nil(t, status.Challenge)
}

func TestLogin_ValidationFailureMakesNoCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.login.Login(ctx, env.loginRequest(models.RoleStudent, "not-an-email", "pw"))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, env.identities.SignInCalls())

	status, err := env.login.Status(ctx, "client:browser-1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Attempts)
}

func TestLogin_RedirectsByRole(t *testing.T) {
	tests := []struct {
		name             string
		role             models.UserRole
		withProfile      bool
		expectedRedirect string
		profileRequired  bool
	}{
		{"student lands on profile", models.RoleStudent, true, PathProfile, false},
		{"hod lands on dashboard", models.RoleHOD, true, PathDashboard, false},
		{"admin lands on dashboard", models.RoleAdmin, true, PathDashboard, false},
		{"new identity completes profile", models.RoleStudent, false, PathCompleteProfile, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			identity := env.createIdentity(t, "user@example.com", true)
			if tt.withProfile {
				env.createProfile(t, identity, tt.role, models.ProfileActive)
			}

			result, err := env.login.Login(context.Background(), env.loginRequest(tt.role, "User@Example.com", testPassword))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedRedirect, result.RedirectPath)
			assert.Equal(t, tt.profileRequired, result.ProfileRequired)
			assert.Equal(t, tt.role, result.Role)
			assert.NotEmpty(t, result.AccessToken)
			assert.NotEmpty(t, result.RefreshToken)

			claims, err := env.tokens.ParseAccessToken(result.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, identity.ID, claims.IdentityID)
			if tt.withProfile {
				assert.Equal(t, tt.role, claims.Role)
			} else {
				assert.Empty(t, claims.Role, "onboarding tokens carry no role")
			}
			assert.Equal(t, result.SessionID, claims.SessionID)
		})
	}
}

func TestLogin_UnconfirmedEmailSignsOut(t *testing.T) {
	env := newTestEnv(t)
	identity := env.createIdentity(t, "fresh@example.com", false)

	_, err := env.login.Login(context.Background(), env.loginRequest(models.RoleStudent, identity.Email, testPassword))
	le := requireLoginError(t, err, LoginUnconfirmedEmail)
	assert.Equal(t, 1, le.Attempts)

	signedOut := env.identities.SignedOut()
	require.Len(t, signedOut, 1)
	session, err := env.repo.Identity().GetSession(context.Background(), signedOut[0])
	require.NoError(t, err)
	assert.NotNil(t, session.RevokedAt)
}

func TestLogin_TeacherApprovalGate(t *testing.T) {
	decidedAt := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		status   models.ApprovalStatus
		noRecord bool
		code     LoginErrorCode
	}{
		{name: "no application", noRecord: true, code: LoginNoTeacherApplication},
		{name: "pending", status: models.ApprovalPending, code: LoginApplicationPending},
		{name: "rejected", status: models.ApprovalRejected, code: LoginApplicationRejected},
		{name: "unknown status", status: models.ApprovalStatus("on-hold"), code: LoginInvalidApplicationStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			identity := env.createIdentity(t, "t@example.com", true)
			env.createProfile(t, identity, models.RoleTeacher, models.ProfilePending)
			if !tt.noRecord {
				env.createApproval(t, identity.Email, tt.status, strPtr("incomplete documents"), &decidedAt)
			}

			result, err := env.login.Login(ctx, env.loginRequest(models.RoleTeacher, identity.Email, testPassword))
			assert.Nil(t, result)
			le := requireLoginError(t, err, tt.code)
			assert.Equal(t, 1, le.Attempts)

			signedOut := env.identities.SignedOut()
			require.Len(t, signedOut, 1)
			session, err := env.repo.Identity().GetSession(ctx, signedOut[0])
			require.NoError(t, err)
			assert.NotNil(t, session.RevokedAt)

			profile, err := env.repo.Profile().Get(ctx, models.RoleTeacher, identity.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ProfilePending, profile.Status)
		})
	}
}

func TestLogin_RejectedTeacherExample(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "t@example.com", true)
	decidedAt := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	env.createApproval(t, "t@example.com", models.ApprovalRejected, strPtr("incomplete documents"), &decidedAt)

	before, err := env.login.Status(ctx, "client:browser-1")
	require.NoError(t, err)

	_, err = env.login.Login(ctx, env.loginRequest(models.RoleTeacher, identity.Email, testPassword))
	le := requireLoginError(t, err, LoginApplicationRejected)

	assert.Contains(t, le.Message, "incomplete documents")
	assert.Contains(t, le.Message, "January 10, 2024")
	assert.Equal(t, "incomplete documents", le.Reason)
	require.NotNil(t, le.DecidedAt)
	assert.True(t, decidedAt.Equal(*le.DecidedAt))
	assert.Equal(t, before.Attempts+1, le.Attempts)
	assert.Len(t, env.identities.SignedOut(), 1)

	require.NotNil(t, le.Reapply, "rejected applicants get a profile completion session")
	assert.Equal(t, PathCompleteProfile, le.Reapply.RedirectPath)
	assert.NotEqual(t, env.identities.SignedOut()[0], le.Reapply.SessionID)
	claims, err := env.tokens.ParseAccessToken(le.Reapply.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, claims.Role)
}

func TestLogin_PrivilegedRoleWithoutProfileGetsNoRole(t *testing.T) {
	for _, role := range []models.UserRole{models.RoleHOD, models.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			env := newTestEnv(t)
			identity := env.createIdentity(t, "mallory@example.com", true)

			result, err := env.login.Login(context.Background(), env.loginRequest(role, identity.Email, testPassword))
			require.NoError(t, err)
			assert.True(t, result.ProfileRequired)
			assert.Equal(t, PathCompleteProfile, result.RedirectPath)

			claims, err := env.login.Authenticate(context.Background(), result.AccessToken)
			require.NoError(t, err)
			assert.Empty(t, claims.Role)
		})
	}
}

func TestLogin_NewTeacherOnboards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "newteacher@example.com", true)

	result, err := env.login.Login(ctx, env.loginRequest(models.RoleTeacher, identity.Email, testPassword))
	require.NoError(t, err)
	assert.True(t, result.ProfileRequired)
	assert.Empty(t, env.identities.SignedOut())

	status, err := env.login.Status(ctx, "client:browser-1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Attempts)

	claims, err := env.tokens.ParseAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, claims.Role)
}

func TestLogin_RefreshKeepsPendingTeacherWithoutRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "pending@example.com", true)

	result, err := env.login.Login(ctx, env.loginRequest(models.RoleTeacher, identity.Email, testPassword))
	require.NoError(t, err)

	env.createProfile(t, identity, models.RoleTeacher, models.ProfilePending)
	env.createApproval(t, identity.Email, models.ApprovalPending, nil, nil)

	refreshed, err := env.login.Refresh(ctx, result.RefreshToken)
	require.NoError(t, err)
	assert.False(t, refreshed.ProfileRequired)
	assert.Equal(t, PathCompleteProfile, refreshed.RedirectPath)
	claims, err := env.tokens.ParseAccessToken(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, claims.Role)
}

func TestLogin_ApprovedTeacherActivatesProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "approved@example.com", true)
	env.createProfile(t, identity, models.RoleTeacher, models.ProfilePending)
	env.createApproval(t, identity.Email, models.ApprovalApproved, nil, nil)

	result, err := env.login.Login(ctx, env.loginRequest(models.RoleTeacher, identity.Email, testPassword))
	require.NoError(t, err)
	assert.Equal(t, PathDashboard, result.RedirectPath)
	require.NotNil(t, result.Profile)
	assert.Equal(t, models.ProfileActive, result.Profile.Status)

	profile, err := env.repo.Profile().Get(ctx, models.RoleTeacher, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileActive, profile.Status)
	assert.Empty(t, env.identities.SignedOut())
}

func TestLogin_EnrolledAnswersAreCompared(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "careful@example.com", true)
	env.createProfile(t, identity, models.RoleStudent, models.ProfileActive)

	catalog, err := env.login.SecurityQuestions(models.RoleStudent)
	require.NoError(t, err)
	enrolled := map[string]string{}
	for _, q := range catalog {
		enrolled[q.Key] = "Real " + q.Key
	}
	require.NoError(t, env.identities.EnrollSecurityAnswers(ctx, identity.ID, &EnrollSecurityAnswersRequest{
		Role:    models.RoleStudent,
		Answers: enrolled,
	}))

	var challenge *Challenge
	for i := 0; i < ChallengeThreshold; i++ {
		_, err := env.login.Login(ctx, env.loginRequest(models.RoleStudent, identity.Email, "wrong"))
		challenge = requireLoginError(t, err, LoginInvalidCredentials).Challenge
	}
	require.NotNil(t, challenge)

	req := env.loginRequest(models.RoleStudent, identity.Email, testPassword)
	req.ChallengeID = challenge.ID
	req.Answers = answersFor(challenge)
	_, err = env.login.Login(ctx, req)
	le := requireLoginError(t, err, LoginSecurityQuestionsIncomplete)
	assert.Equal(t, ChallengeThreshold+1, le.Attempts, "wrong answers count as a failure")

	for _, q := range challenge.Questions {
		req.Answers[q.Key] = "  real " + q.Key + " "
	}
	result, err := env.login.Login(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, PathProfile, result.RedirectPath)
}

func TestLogin_RefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.createIdentity(t, "refresh@example.com", true)
	env.createProfile(t, identity, models.RoleHOD, models.ProfileActive)

	result, err := env.login.Login(ctx, env.loginRequest(models.RoleHOD, identity.Email, testPassword))
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	refreshed, err := env.login.Refresh(ctx, result.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, refreshed.SessionID)
	assert.Equal(t, models.RoleHOD, refreshed.Role)
	assert.True(t, refreshed.ExpiresAt.After(result.ExpiresAt))

	claims, err := env.login.Authenticate(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, claims.IdentityID)

	require.NoError(t, env.login.Logout(ctx, result.SessionID))
	_, err = env.login.Refresh(ctx, result.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, err = env.login.Authenticate(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, err = env.login.Authenticate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.login.Refresh(ctx, "unknown-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogin_ClientKeyFallsBackToEmail(t *testing.T) {
	assert.Equal(t, "client:abc", clientKey(" abc ", "x@example.com"))
	assert.Equal(t, "email:x@example.com", clientKey("", " X@Example.com "))
}
