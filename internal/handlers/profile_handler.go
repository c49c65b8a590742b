package handlers

import (
	"net/http"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

type ProfileHandler struct {
	BaseHandler
	profiles services.ProfileService
}

func NewProfileHandler(profiles services.ProfileService, logger utils.Logger) *ProfileHandler {
	return &ProfileHandler{
		BaseHandler: NewBaseHandler(logger),
		profiles:    profiles,
	}
}

// Complete creates the caller's profile for the chosen role. Teachers are
// told to wait for approval.
func (h *ProfileHandler) Complete(c *gin.Context) {
	var req services.CompleteProfileRequest
	if !h.bindJSON(c, &req) {
		return
	}

	caller := actor(c)
	h.LogRequest(c, "Completing profile", "role", req.Role)
	resp, err := h.profiles.Complete(c.Request.Context(), caller.IdentityID, caller.Email, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	message := "Profile completed"
	if resp.PendingApproval {
		message = "Your application was submitted. You can sign in once it has been approved."
	}
	h.RespondWithSuccess(c, http.StatusCreated, message, resp)
}

func (h *ProfileHandler) Me(c *gin.Context) {
	me, err := h.profiles.Me(c.Request.Context(), c.GetString(ctxIdentityID))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "", me)
}
