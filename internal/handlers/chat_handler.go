package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/services"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

// maxImageRead bounds how much of an attachment is read before the upload
// service applies its own limit
const maxImageRead = 20 << 20

type ChatHandler struct {
	BaseHandler
	chats   services.ChatService
	exports services.ExportService
}

func NewChatHandler(chats services.ChatService, exports services.ExportService, logger utils.Logger) *ChatHandler {
	return &ChatHandler{
		BaseHandler: NewBaseHandler(logger),
		chats:       chats,
		exports:     exports,
	}
}

// chatReply is the body of a successful chat turn
type chatReply struct {
	Success   bool                            `json:"success"`
	Reply     string                          `json:"reply"`
	History   []*services.ChatMessageResponse `json:"history"`
	Timestamp time.Time                       `json:"timestamp"`
	SessionID string                          `json:"sessionId"`
}

type historyReply struct {
	Success  bool                            `json:"success"`
	History  []*services.ChatMessageResponse `json:"history,omitempty"`
	Sessions []*models.ChatSession           `json:"sessions,omitempty"`
	Message  string                          `json:"message"`
}

type sessionQuery struct {
	SessionID string `form:"sessionId" json:"sessionId"`
	UserID    string `form:"userId" json:"userId"`
}

// bindChatRequest accepts JSON or multipart form data; multipart may carry an
// "image" file
func (h *ChatHandler) bindChatRequest(c *gin.Context) (*services.ChatRequest, bool) {
	var req services.ChatRequest
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return &req, h.bindJSON(c, &req)
	}

	if err := c.ShouldBind(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid form data", err)
		return nil, false
	}
	fileHeader, err := c.FormFile("image")
	if err == http.ErrMissingFile {
		return &req, true
	}
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid image upload", err)
		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid image upload", err)
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageRead))
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid image upload", err)
		return nil, false
	}
	req.Image = &services.ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}
	return &req, true
}

// authorizeSession answers 403 when the signed-in caller does not own the session
func (h *ChatHandler) authorizeSession(c *gin.Context, sessionID string) bool {
	if err := h.chats.AuthorizeSession(c.Request.Context(), sessionID, c.GetString(ctxIdentityID)); err != nil {
		h.handleServiceError(c, err)
		return false
	}
	return true
}

// Send runs one chat turn for the persona
func (h *ChatHandler) Send(persona models.ChatPersona) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := h.bindChatRequest(c)
		if !ok {
			return
		}
		// signed-in callers always chat as themselves
		if id := c.GetString(ctxIdentityID); id != "" {
			req.UserID = id
		}

		h.LogRequest(c, "Chat message received", "persona", persona, "session_id", req.SessionID, "has_image", req.Image != nil)
		resp, err := h.chats.SendMessage(c.Request.Context(), persona, req)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, chatReply{
			Success:   true,
			Reply:     resp.Reply,
			History:   resp.History,
			Timestamp: resp.Timestamp,
			SessionID: resp.SessionID,
		})
	}
}

// History returns a session's messages, or the user's sessions when only a
// userId is given
func (h *ChatHandler) History(persona models.ChatPersona) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q sessionQuery
		if !h.bindQuery(c, &q) {
			return
		}
		// signed-in callers only see their own sessions
		if id := c.GetString(ctxIdentityID); id != "" {
			q.UserID = id
		}

		switch {
		case q.SessionID != "":
			if !h.authorizeSession(c, q.SessionID) {
				return
			}
			history, err := h.chats.History(c.Request.Context(), q.SessionID)
			if err != nil {
				h.handleServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, historyReply{
				Success: true,
				History: history,
				Message: fmt.Sprintf("Retrieved %d messages", len(history)),
			})
		case q.UserID != "":
			sessions, err := h.chats.ListSessions(c.Request.Context(), q.UserID, persona)
			if err != nil {
				h.handleServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, historyReply{
				Success:  true,
				Sessions: sessions,
				Message:  fmt.Sprintf("Retrieved %d sessions", len(sessions)),
			})
		default:
			h.RespondWithError(c, http.StatusBadRequest, "sessionId or userId is required", nil)
		}
	}
}

// Clear deletes a session's messages. sessionId may come from the query or
// a JSON body.
func (h *ChatHandler) Clear(c *gin.Context) {
	var q sessionQuery
	if !h.bindQuery(c, &q) {
		return
	}
	if q.SessionID == "" && c.Request.ContentLength > 0 {
		if !h.bindJSON(c, &q) {
			return
		}
	}
	if strings.TrimSpace(q.SessionID) == "" {
		h.RespondWithError(c, http.StatusBadRequest, "sessionId is required", nil)
		return
	}

	if !h.authorizeSession(c, q.SessionID) {
		return
	}

	removed, err := h.chats.ClearHistory(c.Request.Context(), q.SessionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Chat history cleared", gin.H{
		"sessionId": q.SessionID,
		"removed":   removed,
	})
}

// Export downloads a transcript as xlsx (default) or csv
func (h *ChatHandler) Export(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		h.RespondWithError(c, http.StatusBadRequest, "sessionId is required", nil)
		return
	}
	if !h.authorizeSession(c, sessionID) {
		return
	}

	if strings.EqualFold(c.Query("format"), "csv") {
		data, err := h.exports.ChatTranscriptToCSV(c.Request.Context(), sessionID)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "chat-"+sessionID+".csv"))
		c.Data(http.StatusOK, "text/csv", data)
		return
	}

	data, err := h.exports.ChatTranscriptToExcel(c.Request.Context(), sessionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "chat-"+sessionID+".xlsx"))
	c.Data(http.StatusOK, xlsxContentType, data)
}
