package handlers

import (
	"net/http"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

// ClientIDHeader carries the browser's stable id; lockout counts against it
const ClientIDHeader = "X-Client-ID"

type AuthHandler struct {
	BaseHandler
	identities services.IdentityService
	login      services.LoginService
	oauth      services.OAuthService
}

func NewAuthHandler(
	identities services.IdentityService,
	login services.LoginService,
	oauth services.OAuthService,
	logger utils.Logger,
) *AuthHandler {
	return &AuthHandler{
		BaseHandler: NewBaseHandler(logger),
		identities:  identities,
		login:       login,
		oauth:       oauth,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type statusQuery struct {
	ClientID string `form:"client_id"`
	Email    string `form:"email"`
}

func clientIDFrom(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(ClientIDHeader)
}

// Signup registers a password identity and sends the confirmation email
func (h *AuthHandler) Signup(c *gin.Context) {
	var req services.SignupRequest
	if !h.bindJSON(c, &req) {
		return
	}

	h.LogRequest(c, "Signing up", "email", req.Email)
	identity, err := h.identities.Signup(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusCreated, "Check your inbox to confirm your email address", identity)
}

func (h *AuthHandler) ConfirmEmail(c *gin.Context) {
	var req services.ConfirmEmailRequest
	if !h.bindJSON(c, &req) {
		return
	}

	identity, err := h.identities.ConfirmEmail(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Email confirmed", identity)
}

func (h *AuthHandler) ResendConfirmation(c *gin.Context) {
	var req services.EmailRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.identities.ResendConfirmation(c.Request.Context(), &req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "If the account exists, a confirmation email is on its way", nil)
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req services.EmailRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.identities.ForgotPassword(c.Request.Context(), &req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "If the account exists, a reset link is on its way", nil)
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req services.ResetPasswordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.identities.ResetPassword(c.Request.Context(), &req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Password updated", nil)
}

// Login runs the role aware sign-in. Rejections carry the attempt counter,
// lockout countdown and any active security question challenge.
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.ClientID = clientIDFrom(c, req.ClientID)

	h.LogRequest(c, "Login attempt", "role", req.Role)
	result, err := h.login.Login(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Signed in", result)
}

// Status reports the lockout and challenge state for a client
func (h *AuthHandler) Status(c *gin.Context) {
	var q statusQuery
	if !h.bindQuery(c, &q) {
		return
	}
	clientID := clientIDFrom(c, q.ClientID)
	if strings.TrimSpace(clientID) == "" && strings.TrimSpace(q.Email) == "" {
		h.RespondWithError(c, http.StatusBadRequest, "client_id or email is required", nil)
		return
	}

	key := (&services.LoginRequest{ClientID: clientID, Email: q.Email}).ClientKey()
	status, err := h.login.Status(c.Request.Context(), key)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "", status)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.login.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Token refreshed", result)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.login.Logout(c.Request.Context(), c.GetString(ctxSessionID)); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Signed out", nil)
}

func (h *AuthHandler) OAuthStart(c *gin.Context) {
	var req services.OAuthStartRequest
	if !h.bindQuery(c, &req) {
		return
	}

	result, err := h.oauth.Start(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "", result)
}

// OAuthCallback accepts the provider redirect as a query (GET) or, when a
// security challenge has to be answered, as a JSON body (POST)
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	var req services.OAuthCallbackRequest
	if c.Request.Method == http.MethodGet {
		if !h.bindQuery(c, &req) {
			return
		}
	} else if !h.bindJSON(c, &req) {
		return
	}
	req.ClientID = clientIDFrom(c, req.ClientID)

	result, err := h.oauth.Callback(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, string(result.Outcome), result)
}

func (h *AuthHandler) SecurityQuestions(c *gin.Context) {
	questions, err := h.login.SecurityQuestions(models.UserRole(c.Param("role")))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "", questions)
}

// EnrollSecurityAnswers stores hashed answers for the signed-in identity
func (h *AuthHandler) EnrollSecurityAnswers(c *gin.Context) {
	var req services.EnrollSecurityAnswersRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.identities.EnrollSecurityAnswers(c.Request.Context(), c.GetString(ctxIdentityID), &req); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Security answers saved", nil)
}
