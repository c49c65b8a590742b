package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the kinds of domain events the portal emits
type EventType string

const (
	// Auth events
	EventLoginSucceeded     EventType = "auth.login_succeeded"
	EventLoginLockedOut     EventType = "auth.locked_out"
	EventChallengeIssued    EventType = "auth.challenge_issued"
	EventIdentityRegistered EventType = "auth.identity_registered"

	// Teacher application events
	EventApplicationSubmitted EventType = "teacher_application.submitted"
	EventApplicationDecided   EventType = "teacher_application.decided"

	// Profile events
	EventProfileCompleted EventType = "profile.completed"

	// Chat events
	EventChatTurnCompleted EventType = "chat.turn_completed"
)

const (
	eventSource  = "school-portal"
	eventVersion = "1.0"
)

// PortalEvent is the envelope for every event published by the portal
type PortalEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type LoginEvent struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	ClientID string `json:"client_id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

type TeacherApplicationEvent struct {
	TeacherEmail    string     `json:"teacher_email"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecidedBy       *string    `json:"decided_by,omitempty"`
}

type ProfileCompletedEvent struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Status     string `json:"status"`
}

type ChatTurnEvent struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id,omitempty"`
	Persona     string `json:"persona"`
	HasImage    bool   `json:"has_image"`
	HistorySize int    `json:"history_size"`
}

// NewEvent wraps a payload in a PortalEvent envelope
func NewEvent(eventType EventType, data interface{}) *PortalEvent {
	return &PortalEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    eventSource,
		Version:   eventVersion,
		Data:      data,
	}
}

func NewLoginEvent(eventType EventType, email, role, clientID string, attempts int) *PortalEvent {
	return NewEvent(eventType, LoginEvent{
		Email:    email,
		Role:     role,
		ClientID: clientID,
		Attempts: attempts,
	})
}

func NewTeacherApplicationEvent(eventType EventType, email, status string, reason *string, decidedAt *time.Time, decidedBy *string) *PortalEvent {
	return NewEvent(eventType, TeacherApplicationEvent{
		TeacherEmail:    email,
		Status:          status,
		RejectionReason: reason,
		DecidedAt:       decidedAt,
		DecidedBy:       decidedBy,
	})
}

// GenerateEventID returns a unique event identifier
func GenerateEventID() string {
	return uuid.NewString()
}
