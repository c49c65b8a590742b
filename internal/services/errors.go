package services

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/errors"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound         = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrForbidden        = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("resource conflict")

	// Identity specific errors
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAlreadyConfirmed   = errors.New("email already confirmed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionRevoked     = errors.New("session has been signed out")
	ErrOAuthNotConfigured = errors.New("oauth sign-in is not configured")
	ErrOAuthStateInvalid  = errors.New("oauth state is invalid or expired")

	// Profile specific errors
	ErrProfileExists        = errors.New("profile already exists for this role")
	ErrInvalidSecurityPIN   = errors.New("invalid security PIN")
	ErrInvalidRole          = errors.New("invalid user role")
	ErrUnknownQuestion      = errors.New("unknown security question")
	ErrSecurityAnswersEmpty = errors.New("at least one security answer is required")

	// Teacher approval errors
	ErrApprovalNotFound       = errors.New("teacher application not found")
	ErrApprovalAlreadyDecided = errors.New("teacher application already decided")
	ErrRejectionReasonNeeded  = errors.New("a rejection reason is required")

	// Chat specific errors
	ErrChatSessionNotFound = errors.New("chat session not found")
	ErrImageNotAllowed     = errors.New("image attachments are only supported in student chat")
	ErrInvalidImage        = errors.New("attachment is not a supported image")
	ErrImageTooLarge       = errors.New("image exceeds the upload size limit")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

type PermissionError struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

func (pe *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s (%s) cannot %s %s - %s",
		pe.UserID, pe.Role, pe.Action, pe.Resource, pe.Reason)
}

// LoginErrorCode names a recoverable login failure
type LoginErrorCode string

const (
	LoginInvalidCredentials          LoginErrorCode = "invalid-credentials"
	LoginUnconfirmedEmail            LoginErrorCode = "unconfirmed-email"
	LoginLockedOut                   LoginErrorCode = "locked-out"
	LoginNoTeacherApplication        LoginErrorCode = "no-teacher-application"
	LoginApplicationRejected         LoginErrorCode = "application-rejected"
	LoginApplicationPending          LoginErrorCode = "application-pending"
	LoginInvalidApplicationStatus    LoginErrorCode = "invalid-application-status"
	LoginSecurityQuestionsIncomplete LoginErrorCode = "security-questions-incomplete"
)

// LoginError is returned for every rejected login attempt. The tracker fields
// describe the state after the attempt was counted; Notice is only set on the
// failure that activated the security question challenge.
type LoginError struct {
	Code      LoginErrorCode `json:"code"`
	Message   string         `json:"message"`
	Attempts  int            `json:"attempts"`
	RetryIn   int            `json:"retry_in,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	Challenge *Challenge     `json:"challenge,omitempty"`
	Notice    string         `json:"notice,omitempty"`
	// Reapply is a profile completion session handed to rejected applicants
	Reapply   *LoginResult   `json:"reapply,omitempty"`
}

func (le *LoginError) Error() string {
	return fmt.Sprintf("login failed (%s): %s", le.Code, le.Message)
}

// ChatProcessingError wraps any store or model failure during a chat turn
type ChatProcessingError struct {
	Message   string
	SessionID string
	Err       error
}

func (ce *ChatProcessingError) Error() string {
	if ce.Err == nil {
		return ce.Message
	}
	return fmt.Sprintf("%s: %v", ce.Message, ce.Err)
}

func (ce *ChatProcessingError) Unwrap() error {
	return ce.Err
}

// ===== ERROR HELPERS =====

// NewValidationError creates a new validation error using the shared type
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewPermissionError(userID string, role models.UserRole, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:   userID,
		Role:     string(role),
		Resource: resource,
		Action:   action,
		Reason:   reason,
	}
}

func newChatProcessingError(sessionID string, err error) *ChatProcessingError {
	return &ChatProcessingError{
		Message:   "Error processing request",
		SessionID: sessionID,
		Err:       err,
	}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIdentityNotFound) ||
		errors.Is(err, ErrApprovalNotFound) ||
		errors.Is(err, ErrChatSessionNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsUnauthorized checks if error represents an "unauthorized" condition
func IsUnauthorized(err error) bool {
	var pe *PermissionError
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrInvalidSecurityPIN) ||
		errors.As(err, &pe)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrUnknownQuestion) ||
		errors.Is(err, ErrSecurityAnswersEmpty) ||
		errors.Is(err, ErrRejectionReasonNeeded) ||
		errors.Is(err, ErrImageNotAllowed) ||
		errors.Is(err, ErrInvalidImage) ||
		errors.Is(err, ErrImageTooLarge) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsConflict checks if error represents a resource conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrEmailTaken) ||
		errors.Is(err, ErrProfileExists) ||
		errors.Is(err, ErrAlreadyConfirmed) ||
		errors.Is(err, ErrApprovalAlreadyDecided)
}

// AsLoginError extracts a login policy failure
func AsLoginError(err error) (*LoginError, bool) {
	var le *LoginError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
