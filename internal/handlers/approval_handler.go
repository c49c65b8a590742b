package handlers

import (
	"fmt"
	"net/http"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ApprovalHandler struct {
	BaseHandler
	approvals services.ApprovalService
	exports   services.ExportService
}

func NewApprovalHandler(approvals services.ApprovalService, exports services.ExportService, logger utils.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		BaseHandler: NewBaseHandler(logger),
		approvals:   approvals,
		exports:     exports,
	}
}

func (h *ApprovalHandler) List(c *gin.Context) {
	var req services.ListApprovalsRequest
	if !h.bindQuery(c, &req) {
		return
	}

	resp, err := h.approvals.List(c.Request.Context(), actor(c), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "", resp)
}

func (h *ApprovalHandler) Approve(c *gin.Context) {
	email := ParseStringIDParam(c, "email")
	if email == "" {
		return
	}

	h.LogRequest(c, "Approving teacher application", "teacher_email", email)
	approval, err := h.approvals.Approve(c.Request.Context(), actor(c), email)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Application approved", approval)
}

func (h *ApprovalHandler) Reject(c *gin.Context) {
	email := ParseStringIDParam(c, "email")
	if email == "" {
		return
	}
	var req services.RejectApplicationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	h.LogRequest(c, "Rejecting teacher application", "teacher_email", email)
	approval, err := h.approvals.Reject(c.Request.Context(), actor(c), email, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Application rejected", approval)
}

// Export downloads the applications, optionally filtered by ?status=
func (h *ApprovalHandler) Export(c *gin.Context) {
	var status *models.ApprovalStatus
	if raw := c.Query("status"); raw != "" {
		s := models.ApprovalStatus(raw)
		status = &s
	}

	data, err := h.exports.TeacherApprovalsToExcel(c.Request.Context(), actor(c), status)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "teacher-applications.xlsx"))
	c.Data(http.StatusOK, xlsxContentType, data)
}
