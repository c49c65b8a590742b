package models

import "time"

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// TeacherApproval gates activation of a teacher profile. One row per teacher email.
type TeacherApproval struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	TeacherEmail    string         `json:"teacher_email" gorm:"uniqueIndex;not null;size:255"`
	Status          ApprovalStatus `json:"status" gorm:"size:20;not null;default:pending"`
	RejectionReason *string        `json:"rejection_reason" gorm:"type:text"`
	DecidedAt       *time.Time     `json:"decided_at"`
	DecidedBy       *string        `json:"decided_by" gorm:"size:255"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (TeacherApproval) TableName() string {
	return "teacher_approvals"
}

// SecurityAnswer is an enrolled, hashed answer to one catalog question
type SecurityAnswer struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	IdentityID  string    `json:"identity_id" gorm:"size:36;uniqueIndex:idx_security_answer"`
	Role        UserRole  `json:"role" gorm:"size:20;uniqueIndex:idx_security_answer"`
	QuestionKey string    `json:"question_key" gorm:"size:50;uniqueIndex:idx_security_answer"`
	AnswerHash  string    `json:"-" gorm:"size:255;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (SecurityAnswer) TableName() string {
	return "security_answers"
}
