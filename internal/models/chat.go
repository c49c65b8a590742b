package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

type ChatPersona string

const (
	PersonaStudent ChatPersona = "student"
	PersonaTeacher ChatPersona = "teacher"
)

func (p ChatPersona) IsValid() bool {
	return p == PersonaStudent || p == PersonaTeacher
}

type SenderRole string

const (
	SenderUser      SenderRole = "user"
	SenderAssistant SenderRole = "assistant"
)

// SessionTitleLength is the number of characters of the first message used as title
const SessionTitleLength = 50

type ChatSession struct {
	ID           string      `json:"id" gorm:"primaryKey;size:36"`
	UserID       *string     `json:"user_id" gorm:"size:36;index"`
	Persona      ChatPersona `json:"persona" gorm:"size:20;index;not null"`
	SessionTitle string      `json:"session_title" gorm:"size:100"`
	CreatedAt    time.Time   `json:"created_at" gorm:"index"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// SessionTitleFrom derives a session title from the first message of a conversation
func SessionTitleFrom(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) > SessionTitleLength {
		return string(runes[:SessionTitleLength])
	}
	return message
}

type ContentKind string

const (
	ContentPlain ContentKind = "plain"
	ContentImage ContentKind = "image"
)

// MessageContent is the decoded form of a stored message body: plain text, or
// text with an attached image and the vision model's description of it.
type MessageContent struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text"`
	ImageURL string      `json:"image,omitempty"`
	Analysis string      `json:"imageAnalysis,omitempty"`
}

// imageRecord is the stored JSON shape of an image message
type imageRecord struct {
	Text          string `json:"text"`
	Image         string `json:"image"`
	ImageAnalysis string `json:"imageAnalysis"`
}

func PlainContent(text string) MessageContent {
	return MessageContent{Kind: ContentPlain, Text: text}
}

func ImageContent(text, imageURL, analysis string) MessageContent {
	return MessageContent{Kind: ContentImage, Text: text, ImageURL: imageURL, Analysis: analysis}
}

// Encode returns the string stored in the content column
func (c MessageContent) Encode() string {
	if c.Kind != ContentImage {
		return c.Text
	}
	raw, err := json.Marshal(imageRecord{Text: c.Text, Image: c.ImageURL, ImageAnalysis: c.Analysis})
	if err != nil {
		return c.Text
	}
	return string(raw)
}

// DecodeContent parses a stored content column. Anything that is not a
// composite image record is treated as plain text.
func DecodeContent(raw string) MessageContent {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return PlainContent(raw)
	}
	var rec imageRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil || rec.Image == "" {
		return PlainContent(raw)
	}
	return ImageContent(rec.Text, rec.Image, rec.ImageAnalysis)
}

// ModelText flattens the content into the text handed to the chat model
func (c MessageContent) ModelText() string {
	if c.Kind == ContentImage {
		return c.Text + "\n[Image Analysis: " + c.Analysis + "]"
	}
	return c.Text
}

type ChatMessage struct {
	ID         string         `json:"id" gorm:"primaryKey;size:36"`
	SessionID  string         `json:"session_id" gorm:"size:36;index;not null"`
	SenderRole SenderRole     `json:"sender_role" gorm:"size:20;not null"`
	Content    string         `json:"content" gorm:"type:text;not null"`
	Body       MessageContent `json:"body" gorm:"-"`
	ResponseTo *string        `json:"response_to" gorm:"size:36"`
	Seq        int64          `json:"-" gorm:"type:bigserial;->"`
	CreatedAt  time.Time      `json:"created_at" gorm:"index"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.Body.Kind != "" {
		m.Content = m.Body.Encode()
	}
	return nil
}

func (m *ChatMessage) AfterFind(tx *gorm.DB) error {
	m.Body = DecodeContent(m.Content)
	return nil
}

// NewChatMessage builds a message whose stored content is derived from body
func NewChatMessage(id, sessionID string, sender SenderRole, body MessageContent, responseTo *string, at time.Time) *ChatMessage {
	return &ChatMessage{
		ID:         id,
		SessionID:  sessionID,
		SenderRole: sender,
		Content:    body.Encode(),
		Body:       body,
		ResponseTo: responseTo,
		CreatedAt:  at,
	}
}
