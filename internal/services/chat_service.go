package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/llm"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"github.com/google/uuid"
)

var errVisionUnavailable = errors.New("vision model is not configured")

// ChatService runs persisted conversations between a persona and the chat model
type ChatService interface {
	SendMessage(ctx context.Context, persona models.ChatPersona, req *ChatRequest) (*ChatResponse, error)
	History(ctx context.Context, sessionID string) ([]*ChatMessageResponse, error)
	ListSessions(ctx context.Context, userID string, persona models.ChatPersona) ([]*models.ChatSession, error)
	ClearHistory(ctx context.Context, sessionID string) (int64, error)
	Transcript(ctx context.Context, sessionID string) (*models.ChatSession, []*models.ChatMessage, error)
	// AuthorizeSession refuses a signed-in caller a session owned by someone
	// else. Anonymous callers, unowned and unknown sessions pass.
	AuthorizeSession(ctx context.Context, sessionID, identityID string) error
}

type ChatRequest struct {
	Message   string       `json:"message" form:"message" validate:"required,max=8000"`
	SessionID string       `json:"sessionId" form:"sessionId" validate:"omitempty,uuid"`
	UserID    string       `json:"userId" form:"userId" validate:"omitempty,max=64"`
	Image     *ImageUpload `json:"-" form:"-"`
}

type ChatResponse struct {
	Reply     string                 `json:"reply"`
	History   []*ChatMessageResponse `json:"history"`
	SessionID string                 `json:"sessionId"`
	Timestamp time.Time              `json:"timestamp"`
}

type ChatMessageResponse struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	SenderRole    models.SenderRole `json:"sender_role"`
	Content       string            `json:"content"`
	Image         string            `json:"image,omitempty"`
	ImageAnalysis string            `json:"imageAnalysis,omitempty"`
	ResponseTo    *string           `json:"response_to,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

type chatService struct {
	Deps
	chatModel   llm.ChatModel
	visionModel llm.VisionModel
	uploads     UploadService
}

// NewChatService wires the chat model; visionModel and uploads may be nil when
// image attachments are not supported
func NewChatService(deps Deps, chatModel llm.ChatModel, visionModel llm.VisionModel, uploads UploadService) ChatService {
	return &chatService{
		Deps:        deps,
		chatModel:   chatModel,
		visionModel: visionModel,
		uploads:     uploads,
	}
}

func systemPromptFor(persona models.ChatPersona) string {
	if persona == models.PersonaTeacher {
		return llm.TeacherSystemPrompt
	}
	return llm.StudentSystemPrompt
}

func (s *chatService) SendMessage(ctx context.Context, persona models.ChatPersona, req *ChatRequest) (*ChatResponse, error) {
	if !persona.IsValid() {
		return nil, NewValidationError("persona", "persona must be student or teacher", persona)
	}
	if err := s.Validator.Validate(req); err != nil {
		return nil, err
	}
	if req.Image != nil && persona != models.PersonaStudent {
		return nil, ErrImageNotAllowed
	}

	sessionID := req.SessionID
	if sessionID != "" {
		if err := s.checkSession(ctx, sessionID, req.UserID); err != nil {
			return nil, err
		}
	}

	body := models.PlainContent(req.Message)
	if req.Image != nil {
		var err error
		body, err = s.analyzeImage(ctx, req.Message, req.Image)
		if err != nil {
			if IsValidation(err) {
				return nil, err
			}
			return nil, newChatProcessingError(sessionID, err)
		}
	}

	// a new conversation only gets its session once the attachment was accepted
	if sessionID == "" {
		var err error
		if sessionID, err = s.createSession(ctx, persona, req); err != nil {
			return nil, err
		}
	}

	// the user's message is durable before the model is asked anything
	userMessage := models.NewChatMessage(uuid.New().String(), sessionID, models.SenderUser, body, nil, s.now())
	if err := s.Repo.Chat().CreateMessage(ctx, userMessage); err != nil {
		return nil, newChatProcessingError(sessionID, fmt.Errorf("failed to save message: %w", err))
	}

	history, err := s.Repo.Chat().ListMessages(ctx, sessionID)
	if err != nil {
		return nil, newChatProcessingError(sessionID, fmt.Errorf("failed to load history: %w", err))
	}

	reply, err := s.chatModel.Complete(ctx, buildPrompt(persona, history))
	if err != nil {
		s.Logger.ErrorContext(ctx, "Chat model call failed", "session_id", sessionID, "error", err)
		return nil, newChatProcessingError(sessionID, err)
	}

	replyTo := userMessage.ID
	assistantMessage := models.NewChatMessage(uuid.New().String(), sessionID, models.SenderAssistant, models.PlainContent(reply), &replyTo, s.now())
	if err := s.Repo.Chat().CreateMessage(ctx, assistantMessage); err != nil {
		return nil, newChatProcessingError(sessionID, fmt.Errorf("failed to save reply: %w", err))
	}

	history, err = s.Repo.Chat().ListMessages(ctx, sessionID)
	if err != nil {
		return nil, newChatProcessingError(sessionID, fmt.Errorf("failed to load history: %w", err))
	}

	if persona == models.PersonaStudent && req.UserID != "" {
		if err := s.Repo.Profile().IncrementMessageCount(ctx, req.UserID); err != nil {
			s.Logger.WarnContext(ctx, "Failed to update student message count", "user_id", req.UserID, "error", err)
		}
	}

	s.publish(ctx, events.NewEvent(events.EventChatTurnCompleted, events.ChatTurnEvent{
		SessionID:   sessionID,
		UserID:      req.UserID,
		Persona:     string(persona),
		HasImage:    req.Image != nil,
		HistorySize: len(history),
	}))

	return &ChatResponse{
		Reply:     reply,
		History:   toMessageResponses(history),
		SessionID: sessionID,
		Timestamp: s.now(),
	}, nil
}

// checkSession verifies the session exists and, when the caller is known,
// that it belongs to them
func (s *chatService) checkSession(ctx context.Context, sessionID, userID string) error {
	session, err := s.Repo.Chat().GetSession(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrChatSessionNotFound
		}
		return newChatProcessingError(sessionID, fmt.Errorf("failed to load session: %w", err))
	}
	if userID != "" && session.UserID != nil && *session.UserID != userID {
		return NewPermissionError(userID, "", "chat_session", "write", "the session belongs to another user")
	}
	return nil
}

// createSession starts a session titled after the first message
func (s *chatService) createSession(ctx context.Context, persona models.ChatPersona, req *ChatRequest) (string, error) {
	session := &models.ChatSession{
		ID:           uuid.New().String(),
		Persona:      persona,
		SessionTitle: models.SessionTitleFrom(req.Message),
		CreatedAt:    s.now(),
	}
	if req.UserID != "" {
		userID := req.UserID
		session.UserID = &userID
	}
	if err := s.Repo.Chat().CreateSession(ctx, session); err != nil {
		return "", newChatProcessingError("", fmt.Errorf("failed to create session: %w", err))
	}

	s.Logger.InfoContext(ctx, "Chat session created", "session_id", session.ID, "persona", persona)
	return session.ID, nil
}

func (s *chatService) analyzeImage(ctx context.Context, text string, image *ImageUpload) (models.MessageContent, error) {
	if s.visionModel == nil || s.uploads == nil {
		return models.MessageContent{}, errVisionUnavailable
	}

	stored, err := s.uploads.Save(ctx, image)
	if err != nil {
		return models.MessageContent{}, err
	}

	analysis, err := s.visionModel.DescribeImage(ctx, llm.Image{
		URL:      stored.URL,
		Data:     image.Data,
		MimeType: stored.ContentType,
	}, llm.ImageAnalysisPrompt)
	if err != nil {
		s.Logger.ErrorContext(ctx, "Vision model call failed", "upload", stored.Name, "error", err)
		return models.MessageContent{}, err
	}

	return models.ImageContent(text, stored.URL, strings.TrimSpace(analysis)), nil
}

// buildPrompt prepends the persona prompt to the session history in order
func buildPrompt(persona models.ChatPersona, history []*models.ChatMessage) []llm.Message {
	prompt := make([]llm.Message, 0, len(history)+1)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: systemPromptFor(persona)})
	for _, m := range history {
		role := llm.RoleUser
		if m.SenderRole == models.SenderAssistant {
			role = llm.RoleAssistant
		}
		prompt = append(prompt, llm.Message{Role: role, Content: m.Body.ModelText()})
	}
	return prompt
}

func (s *chatService) History(ctx context.Context, sessionID string) ([]*ChatMessageResponse, error) {
	messages, err := s.Repo.Chat().ListMessages(ctx, sessionID)
	if err != nil {
		return nil, newChatProcessingError(sessionID, fmt.Errorf("failed to load history: %w", err))
	}
	return toMessageResponses(messages), nil
}

func (s *chatService) ListSessions(ctx context.Context, userID string, persona models.ChatPersona) ([]*models.ChatSession, error) {
	sessions, err := s.Repo.Chat().ListSessions(ctx, userID, persona)
	if err != nil {
		return nil, newChatProcessingError("", fmt.Errorf("failed to list sessions: %w", err))
	}
	return sessions, nil
}

// ClearHistory deletes the session's messages and keeps the session itself
func (s *chatService) ClearHistory(ctx context.Context, sessionID string) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, NewValidationError("sessionId", "sessionId is required", nil)
	}
	removed, err := s.Repo.Chat().DeleteMessages(ctx, sessionID)
	if err != nil {
		return 0, newChatProcessingError(sessionID, fmt.Errorf("failed to clear history: %w", err))
	}
	s.Logger.InfoContext(ctx, "Chat history cleared", "session_id", sessionID, "removed", removed)
	return removed, nil
}

func (s *chatService) AuthorizeSession(ctx context.Context, sessionID, identityID string) error {
	if identityID == "" || strings.TrimSpace(sessionID) == "" {
		return nil
	}
	session, err := s.Repo.Chat().GetSession(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserID != nil && *session.UserID != identityID {
		return NewPermissionError(identityID, "", "chat_session", "read", "the session belongs to another user")
	}
	return nil
}

func (s *chatService) Transcript(ctx context.Context, sessionID string) (*models.ChatSession, []*models.ChatMessage, error) {
	session, err := s.Repo.Chat().GetSession(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrChatSessionNotFound
		}
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	messages, err := s.Repo.Chat().ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}
	return session, messages, nil
}

func toMessageResponses(messages []*models.ChatMessage) []*ChatMessageResponse {
	out := make([]*ChatMessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, &ChatMessageResponse{
			ID:            m.ID,
			SessionID:     m.SessionID,
			SenderRole:    m.SenderRole,
			Content:       m.Body.Text,
			Image:         m.Body.ImageURL,
			ImageAnalysis: m.Body.Analysis,
			ResponseTo:    m.ResponseTo,
			CreatedAt:     m.CreatedAt,
		})
	}
	return out
}
