package services

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/auth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/cache"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/llm"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/mailer"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories/memory"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/validator"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingIdentities records sign-ins and sign-outs reaching the credential store
type countingIdentities struct {
	IdentityService
	mu       sync.Mutex
	signIns  int
	signOuts []string
}

func (c *countingIdentities) SignIn(ctx context.Context, email, password string, role models.UserRole) (*SignInResult, error) {
	c.mu.Lock()
	c.signIns++
	c.mu.Unlock()
	return c.IdentityService.SignIn(ctx, email, password, role)
}

func (c *countingIdentities) SignOut(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.signOuts = append(c.signOuts, sessionID)
	c.mu.Unlock()
	return c.IdentityService.SignOut(ctx, sessionID)
}

func (c *countingIdentities) SignedOut() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.signOuts...)
}

func (c *countingIdentities) SignInCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signIns
}

type testEnv struct {
	clock      *fakeClock
	repo       *memory.Repository
	cache      cache.CacheService
	events     *events.MockEventPublisher
	mail       *mailer.LogMailer
	deps       Deps
	identities *countingIdentities
	questions  *SecurityQuestionSet
	tracker    *LockoutTracker
	tokens     *auth.TokenManager
	login      LoginService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewRepositoryWithClock(clock.Now)
	env := &testEnv{
		clock:  clock,
		repo:   repo,
		cache:  cache.NewMemoryCacheWithClock(clock.Now),
		events: events.NewMockEventPublisher(logger),
		mail:   mailer.NewLogMailer("http://portal.test", logger),
	}
	env.deps = Deps{
		Repo:      repo,
		Cache:     env.cache,
		Events:    env.events,
		Validator: validator.New(),
		Logger:    logger,
		Now:       clock.Now,
	}
	env.identities = &countingIdentities{IdentityService: NewIdentityService(env.deps, env.mail, IdentityConfig{})}
	env.questions = NewSecurityQuestionSet(rand.NewSource(7))
	env.tracker = NewLockoutTracker(env.cache, env.questions, clock.Now)
	env.tokens = auth.NewTokenManager("test-secret", time.Hour).WithClock(clock.Now)
	env.login = NewLoginService(env.deps, env.identities, env.tracker, env.questions, env.tokens)
	return env
}

func (e *testEnv) createIdentity(t *testing.T, email string, confirmed bool) *models.Identity {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	identity := &models.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Provider:     models.ProviderPassword,
	}
	if confirmed {
		at := e.clock.Now()
		identity.EmailConfirmedAt = &at
	}
	require.NoError(t, e.repo.Identity().Create(context.Background(), identity))
	return identity
}

func (e *testEnv) createProfile(t *testing.T, identity *models.Identity, role models.UserRole, status models.ProfileStatus) *models.RoleProfile {
	t.Helper()
	profile := &models.RoleProfile{
		Role: role,
		ProfileBase: models.ProfileBase{
			ID:       identity.ID,
			Email:    identity.Email,
			FullName: "Test User",
			Status:   status,
		},
		Fields: map[string]interface{}{},
	}
	require.NoError(t, e.repo.Profile().Create(context.Background(), profile))
	return profile
}

func (e *testEnv) createApproval(t *testing.T, email string, status models.ApprovalStatus, reason *string, decidedAt *time.Time) {
	t.Helper()
	require.NoError(t, e.repo.Approval().Create(context.Background(), &models.TeacherApproval{
		TeacherEmail:    email,
		Status:          status,
		RejectionReason: reason,
		DecidedAt:       decidedAt,
	}))
}

func (e *testEnv) loginRequest(role models.UserRole, email, password string) *LoginRequest {
	return &LoginRequest{Role: role, Email: email, Password: password, ClientID: "browser-1"}
}

// MockChatModel is a testify mock of the chat completion client
type MockChatModel struct {
	mock.Mock
}

func (m *MockChatModel) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	args := m.Called(ctx, messages)
	if fn, ok := args.Get(0).(func(context.Context, []llm.Message) string); ok {
		return fn(ctx, messages), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

// MockVisionModel is a testify mock of the image description client
type MockVisionModel struct {
	mock.Mock
}

func (m *MockVisionModel) DescribeImage(ctx context.Context, image llm.Image, prompt string) (string, error) {
	args := m.Called(ctx, image, prompt)
	return args.String(0), args.Error(1)
}

func strPtr(s string) *string {
	return &s
}
