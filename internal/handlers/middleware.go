package handlers

import (
	"net/http"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/auth"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	ctxIdentityID = "identity_id"
	ctxEmail      = "email"
	ctxRole       = "user_role"
	ctxSessionID  = "session_id"

	accessTokenCookie = "access_token"
)

// bearerToken reads the access token from the Authorization header, then the cookie
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	if token, err := c.Cookie(accessTokenCookie); err == nil {
		return token
	}
	return ""
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ctxIdentityID, claims.IdentityID)
	c.Set(ctxEmail, claims.Email)
	c.Set(ctxRole, string(claims.Role))
	c.Set(ctxSessionID, claims.SessionID)
}

// AuthRequired rejects requests without an access token for an open session
func (hm *HandlerManager) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "User not authenticated",
				Error:   "missing access token",
			})
			return
		}

		claims, err := hm.services.Login().Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "User not authenticated",
				Error:   err.Error(),
			})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth fills the caller when a valid token is present and never rejects
func (hm *HandlerManager) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if claims, err := hm.services.Login().Authenticate(c.Request.Context(), token); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// RequireRoles admits only callers signed in under one of roles. It must run
// after AuthRequired.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actor(c).HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Access denied",
				Error:   "role " + c.GetString(ctxRole) + " may not use this endpoint",
			})
			return
		}
		c.Next()
	}
}
