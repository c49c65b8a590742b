package handlers

import (
	"errors"
	"net/http"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps the payload of a successful request
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ===== BASE HANDLER STRUCT =====

// BaseHandler gives every handler request scoped logging and the shared
// error mapping
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) log(c *gin.Context) utils.Logger {
	return utils.GetLoggerFromContext(c, h.logger)
}

// LogRequest logs an incoming request with the caller's identity
func (h *BaseHandler) LogRequest(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := []interface{}{
		"remote_addr", c.ClientIP(),
		"identity_id", c.GetString(ctxIdentityID),
	}
	fields = append(fields, additionalFields...)
	h.log(c).Info(message, fields...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, message string, additionalFields ...interface{}) {
	fields := []interface{}{"identity_id", c.GetString(ctxIdentityID)}
	fields = append(fields, additionalFields...)
	h.log(c).LogError(err, message, fields...)
}

// RespondWithError sends an ErrorResponse and logs it
func (h *BaseHandler) RespondWithError(c *gin.Context, statusCode int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
		if statusCode >= http.StatusInternalServerError {
			h.LogError(c, err, message, "status_code", statusCode)
		}
	}
	c.JSON(statusCode, resp)
}

func (h *BaseHandler) RespondWithSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// bindJSON binds the body and answers 400 on malformed input
func (h *BaseHandler) bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err)
		return false
	}
	return true
}

func (h *BaseHandler) bindQuery(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindQuery(dest); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters", err)
		return false
	}
	return true
}

// loginStatusCode maps a login policy failure to an HTTP status
func loginStatusCode(code services.LoginErrorCode) int {
	switch code {
	case services.LoginLockedOut:
		return http.StatusLocked
	case services.LoginUnconfirmedEmail,
		services.LoginNoTeacherApplication,
		services.LoginApplicationRejected,
		services.LoginApplicationPending,
		services.LoginInvalidApplicationStatus:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// handleServiceError maps service errors to HTTP responses
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	if le, ok := services.AsLoginError(err); ok {
		c.JSON(loginStatusCode(le.Code), ErrorResponse{
			Message: le.Message,
			Error:   string(le.Code),
			Code:    string(le.Code),
			Details: le,
		})
		return
	}

	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Error:   validationErrors.Error(),
			Details: validationErrors,
		})
		return
	}

	var validationError *services.ValidationError
	if errors.As(err, &validationError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: validationError.Message,
			Error:   validationError.Error(),
			Details: validationError,
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Error:   permissionError.Reason,
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
			},
		})
		return
	}

	var chatError *services.ChatProcessingError
	if errors.As(err, &chatError) {
		h.LogError(c, err, "Chat turn failed", "session_id", chatError.SessionID)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: chatError.Message,
			Error:   chatError.Error(),
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrOAuthNotConfigured):
		h.RespondWithError(c, http.StatusServiceUnavailable, "Sign-in with the identity provider is not available", err)
	case errors.Is(err, services.ErrImageTooLarge):
		h.RespondWithError(c, http.StatusRequestEntityTooLarge, "Image is too large", err)
	case services.IsValidation(err):
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request", err)
	case services.IsNotFound(err):
		h.RespondWithError(c, http.StatusNotFound, "Resource not found", err)
	case services.IsConflict(err):
		h.RespondWithError(c, http.StatusConflict, "Request conflicts with the current state", err)
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrOAuthStateInvalid):
		h.RespondWithError(c, http.StatusUnauthorized, "Authentication failed", err)
	case errors.Is(err, services.ErrInvalidSecurityPIN):
		h.RespondWithError(c, http.StatusForbidden, "Invalid security PIN", err)
	case services.IsUnauthorized(err):
		h.RespondWithError(c, http.StatusUnauthorized, "Not authenticated", err)
	default:
		h.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err)
	}
}

// actor builds the caller from the values the auth middleware stored
func actor(c *gin.Context) services.Actor {
	return services.Actor{
		IdentityID: c.GetString(ctxIdentityID),
		Email:      c.GetString(ctxEmail),
		Role:       models.UserRole(c.GetString(ctxRole)),
	}
}
