package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// ParseStringIDParam reads a required path parameter, unescaping it so that
// emails survive the round trip. It answers 400 and returns "" when missing.
func ParseStringIDParam(c *gin.Context, param string) string {
	raw := strings.TrimSpace(c.Param(param))
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Error:   param + " cannot be empty",
		})
		return ""
	}
	return raw
}
