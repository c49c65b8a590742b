package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

// echoModel answers every turn with the last user message, or fails when err is set
type echoModel struct {
	mu  sync.Mutex
	err error
}

func (m *echoModel) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return "echo: " + messages[len(messages)-1].Content, nil
}

type server struct {
	router *gin.Engine
	repo   *memory.Repository
	model  *echoModel
	mail   *mailer.LogMailer
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := utils.NewNopLogger()
	repo := memory.NewRepository()
	deps := services.Deps{
		Repo:      repo,
		Cache:     cache.NewMemoryCache(),
		Events:    events.NewMockEventPublisher(logger.Slog()),
		Validator: validator.New(),
		Logger:    logger.Slog(),
		Now:       time.Now,
	}
	model := &echoModel{}
	mail := mailer.NewLogMailer("http://portal.test", logger.Slog())
	manager, err := services.NewServiceManager(deps, services.ManagerConfig{
		Mailer:        mail,
		ChatModel:     model,
		Tokens:        auth.NewTokenManager("handler-secret", time.Hour),
		ProfileConfig: services.ProfileConfig{HODSecurityPIN: "4321", AdminSecurityPIN: "9876"},
		UploadConfig:  services.UploadConfig{Dir: t.TempDir(), PublicBaseURL: "http://api.test"},
	})
	require.NoError(t, err)

	return &server{
		router: NewRouter(manager, logger, []string{"http://localhost:5173"}),
		repo:   repo,
		model:  model,
		mail:   mail,
	}
}

func (s *server) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signIn creates a confirmed identity with an active profile and returns its access token
func (s *server) signIn(t *testing.T, email string, role models.UserRole) string {
	t.Helper()
	ctx := context.Background()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	now := time.Now()
	identity := &models.Identity{
		ID:               uuid.New().String(),
		Email:            email,
		PasswordHash:     hash,
		Provider:         models.ProviderPassword,
		EmailConfirmedAt: &now,
	}
	require.NoError(t, s.repo.Identity().Create(ctx, identity))
	require.NoError(t, s.repo.Profile().Create(ctx, &models.RoleProfile{
		Role:        role,
		ProfileBase: models.ProfileBase{ID: identity.ID, Email: email, FullName: "Test User", Status: models.ProfileActive},
		Fields:      map[string]interface{}{},
	}))

	w := s.do(t, http.MethodPost, "/api/auth/login", gin.H{"role": role, "email": email, "password": testPassword}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data services.LoginResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data.AccessToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestHealthCheck(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(utils.RequestIDHeader))
}

func TestLogin_ErrorsCarryLoginCode(t *testing.T) {
	s := newServer(t)
	s.signIn(t, "student@example.com", models.RoleStudent)

	w := s.do(t, http.MethodPost, "/api/auth/login", gin.H{"role": "student", "email": "student@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid-credentials", body["code"])

	w = s.do(t, http.MethodPost, "/api/auth/login", gin.H{"role": "student", "email": "not-an-email", "password": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_LockoutIsLocked(t *testing.T) {
	s := newServer(t)
	body := gin.H{"role": "student", "email": "nobody@example.com", "password": "wrong", "client_id": "tab-9"}

	for i := 0; i < 3; i++ {
		s.do(t, http.MethodPost, "/api/auth/login", body, "")
	}
	status := s.do(t, http.MethodGet, "/api/auth/status?client_id=tab-9", nil, "")
	require.Equal(t, http.StatusOK, status.Code)
	var st struct {
		Data services.LoginStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Data.Attempts)
	require.NotNil(t, st.Data.Challenge)

	answers := map[string]string{}
	for _, q := range st.Data.Challenge.Questions {
		answers[q.Key] = "something"
	}
	body["challenge_id"] = st.Data.Challenge.ID
	body["answers"] = answers
	s.do(t, http.MethodPost, "/api/auth/login", body, "")
	s.do(t, http.MethodPost, "/api/auth/login", body, "")

	w := s.do(t, http.MethodPost, "/api/auth/login", body, "")
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "locked-out", decode(t, w)["code"])
}

func TestSignupAndConfirm(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/api/auth/signup", gin.H{"email": "new@example.com", "password": testPassword}, "")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/signup", gin.H{"email": "new@example.com", "password": testPassword}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/confirm", gin.H{"token": "bogus"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfileRequiresAuthentication(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/profile/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := s.signIn(t, "me@example.com", models.RoleStudent)
	w = s.do(t, http.MethodGet, "/api/profile/me", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/profile/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTeacherApprovalsAreRoleGated(t *testing.T) {
	s := newServer(t)
	studentToken := s.signIn(t, "kid@example.com", models.RoleStudent)
	hodToken := s.signIn(t, "hod@example.com", models.RoleHOD)
	require.NoError(t, s.repo.Approval().Create(context.Background(), &models.TeacherApproval{TeacherEmail: "t@example.com"}))

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/teacher-approvals", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/teacher-approvals", nil, studentToken).Code)

	w := s.do(t, http.MethodGet, "/api/teacher-approvals?status=pending", nil, hodToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/teacher-approvals/t@example.com/reject", gin.H{"reason": "no certificate"}, hodToken)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/teacher-approvals/t@example.com/approve", nil, hodToken)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodPost, "/api/teacher-approvals/ghost@example.com/approve", nil, hodToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/teacher-approvals/export", nil, hodToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
}

func TestChat_HistoryReadsAreIdempotent(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/api/chat/student", gin.H{"message": "Explain gravity"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply chatReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.True(t, reply.Success)
	assert.Equal(t, "echo: Explain gravity", reply.Reply)
	require.Len(t, reply.History, 2)

	first := s.do(t, http.MethodGet, "/api/chat/student/history?sessionId="+reply.SessionID, nil, "")
	second := s.do(t, http.MethodGet, "/api/chat/student/history?sessionId="+reply.SessionID, nil, "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	w = s.do(t, http.MethodGet, "/api/chat/student/history", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_ClearRequiresSessionID(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/api/chat/teacher/clear", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = s.do(t, http.MethodPost, "/api/chat/teacher", gin.H{"message": "Lesson plan ideas?"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := decode(t, w)["sessionId"].(string)

	w = s.do(t, http.MethodPost, "/api/chat/teacher/clear", gin.H{"sessionId": sessionID}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/chat/teacher/history?sessionId="+sessionID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["history"])
}

func TestChat_ModelFailureIs500(t *testing.T) {
	s := newServer(t)
	s.model.err = errors.New("upstream timeout")

	w := s.do(t, http.MethodPost, "/api/chat/student", gin.H{"message": "Hello"}, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Error processing request", body["message"])
}

func TestLegacyChatAcceptsMultipart(t *testing.T) {
	s := newServer(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("message", "What is 2+2?"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/chat", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "echo: What is 2+2?", body["reply"])
	assert.NotEmpty(t, body["sessionId"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRouteCheck(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/routes/check?path=/dashboard", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, false, data["allowed"])
	assert.Equal(t, "/login", data["redirect"])

	token := s.signIn(t, "head@example.com", models.RoleHOD)
	w = s.do(t, http.MethodGet, "/api/routes/check?path=/teacher-approvals", nil, token)
	data = decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, true, data["allowed"])
}

// signUp registers email and confirms it with the mailed token
func (s *server) signUp(t *testing.T, email string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/signup", gin.H{"email": email, "password": testPassword}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var token string
	for _, entry := range s.mail.Sent() {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) == 3 && parts[0] == "confirm" && parts[1] == email {
			token = parts[2]
		}
	}
	require.NotEmpty(t, token, "no confirmation mail for %s", email)

	w = s.do(t, http.MethodPost, "/api/auth/confirm", gin.H{"token": token}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (s *server) login(t *testing.T, role models.UserRole, email string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/auth/login", gin.H{"role": role, "email": email, "password": testPassword}, "")
}

func loginResult(t *testing.T, w *httptest.ResponseRecorder) services.LoginResult {
	t.Helper()
	var resp struct {
		Data services.LoginResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Data
}

func teacherProfile() gin.H {
	return gin.H{
		"role":     "teacher",
		"fullname": "Asha Rao",
		"phone":    "+91 98765 43210",
		"gender":   "female",
		"fields":   gin.H{"subject": "Physics", "qualification": "M.Sc"},
	}
}

func TestLogin_AdminWithoutProfileCannotDecideApplications(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.repo.Approval().Create(context.Background(), &models.TeacherApproval{TeacherEmail: "t@example.com"}))
	s.signUp(t, "mallory@example.com")

	for _, role := range []models.UserRole{models.RoleAdmin, models.RoleHOD} {
		w := s.login(t, role, "mallory@example.com")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		result := loginResult(t, w)
		assert.True(t, result.ProfileRequired)
		assert.Equal(t, "/complete-profile", result.RedirectPath)

		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/teacher-approvals", nil, result.AccessToken).Code)
		w = s.do(t, http.MethodPost, "/api/teacher-approvals/t@example.com/approve", nil, result.AccessToken)
		assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

		w = s.do(t, http.MethodGet, "/api/routes/check?path=/teacher-approvals", nil, result.AccessToken)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, false, data["allowed"])
		assert.Equal(t, "/complete-profile", data["redirect"])
	}

	approval, err := s.repo.Approval().GetByEmail(context.Background(), "t@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, approval.Status)
}

func TestTeacherOnboardingFromSignup(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "asha@example.com")

	w := s.login(t, models.RoleTeacher, "asha@example.com")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := loginResult(t, w)
	require.True(t, result.ProfileRequired)

	w = s.do(t, http.MethodPost, "/api/profile/complete", teacherProfile(), result.AccessToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["data"].(map[string]interface{})["pending_approval"])

	w = s.login(t, models.RoleTeacher, "asha@example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "application-pending", decode(t, w)["code"])

	hodToken := s.signIn(t, "hod@example.com", models.RoleHOD)
	w = s.do(t, http.MethodPost, "/api/teacher-approvals/asha@example.com/reject", gin.H{"reason": "no certificate"}, hodToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.login(t, models.RoleTeacher, "asha@example.com")
	require.Equal(t, http.StatusForbidden, w.Code)
	var rejected struct {
		Code    string `json:"code"`
		Details struct {
			Reapply *services.LoginResult `json:"reapply"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rejected))
	assert.Equal(t, "application-rejected", rejected.Code)
	require.NotNil(t, rejected.Details.Reapply)

	w = s.do(t, http.MethodPost, "/api/profile/complete", teacherProfile(), rejected.Details.Reapply.AccessToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.login(t, models.RoleTeacher, "asha@example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "application-pending", decode(t, w)["code"])

	w = s.do(t, http.MethodPost, "/api/teacher-approvals/asha@example.com/approve", nil, hodToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.login(t, models.RoleTeacher, "asha@example.com")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/dashboard", loginResult(t, w).RedirectPath)
}

func TestChat_SessionsArePrivateToTheirOwner(t *testing.T) {
	s := newServer(t)
	alice := s.signIn(t, "alice@example.com", models.RoleStudent)
	bob := s.signIn(t, "bob@example.com", models.RoleStudent)

	w := s.do(t, http.MethodPost, "/api/chat/student", gin.H{"message": "my homework"}, alice)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sessionID := decode(t, w)["sessionId"].(string)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/chat/student/history?sessionId="+sessionID, nil, alice).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/chat/student/history?sessionId="+sessionID, nil, bob).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/chat/student/export?sessionId="+sessionID, nil, bob).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/chat/student/clear", gin.H{"sessionId": sessionID}, bob).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/chat/student", gin.H{"message": "hi", "sessionId": sessionID}, bob).Code)

	owner, err := s.repo.Identity().GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/chat/student/history?userId="+owner.ID, nil, bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["sessions"])

	assert.Equal(t, 2, s.repo.MessageCount(sessionID))
}
