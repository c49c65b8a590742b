package handlers

import (
	"net/http"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

// RouteHandler lets the front end ask whether the caller may open a page
type RouteHandler struct {
	BaseHandler
	guard *services.RouteGuard
}

func NewRouteHandler(guard *services.RouteGuard, logger utils.Logger) *RouteHandler {
	return &RouteHandler{
		BaseHandler: NewBaseHandler(logger),
		guard:       guard,
	}
}

func (h *RouteHandler) Check(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		h.RespondWithError(c, http.StatusBadRequest, "path is required", nil)
		return
	}

	identityID := c.GetString(ctxIdentityID)
	decision := h.guard.Check(path, identityID != "", models.UserRole(c.GetString(ctxRole)))
	h.RespondWithSuccess(c, http.StatusOK, string(decision.Reason), decision)
}

func (h *RouteHandler) List(c *gin.Context) {
	h.RespondWithSuccess(c, http.StatusOK, "", h.guard.Routes())
}

// HealthCheck reports liveness
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "school-portal",
	})
}
