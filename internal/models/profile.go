package models

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

type ProfileStatus string

const (
	ProfileActive   ProfileStatus = "active"
	ProfilePending  ProfileStatus = "pending"
	ProfileInactive ProfileStatus = "inactive"
)

// ProfileBase holds the columns shared by every role table
type ProfileBase struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	Email     string         `json:"email" gorm:"uniqueIndex;not null;size:255"`
	FullName  string         `json:"fullname" gorm:"column:fullname;not null;size:100"`
	Phone     string         `json:"phone" gorm:"size:20"`
	Gender    string         `json:"gender" gorm:"size:20"`
	Status    ProfileStatus  `json:"status" gorm:"size:20;not null"`
	Details   datatypes.JSON `json:"details,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Student struct {
	ProfileBase
	Grade        string `json:"grade" gorm:"size:20"`
	School       string `json:"school" gorm:"size:200"`
	MessageCount int    `json:"message_count" gorm:"default:0"`
}

func (Student) TableName() string { return "student" }

type Teacher struct {
	ProfileBase
	Subject         string `json:"subject" gorm:"size:100"`
	Qualification   string `json:"qualification" gorm:"size:200"`
	ExperienceYears int    `json:"experience_years"`
	Department      string `json:"department" gorm:"size:100"`
}

func (Teacher) TableName() string { return "teacher" }

type HOD struct {
	ProfileBase
	Department string `json:"department" gorm:"size:100"`
}

func (HOD) TableName() string { return "hod" }

type Admin struct {
	ProfileBase
	Designation string `json:"designation" gorm:"size:100"`
}

func (Admin) TableName() string { return "admin" }

// RoleProfile is the role-agnostic view of a row in one of the role tables
type RoleProfile struct {
	Role UserRole `json:"role"`
	ProfileBase
	// Role-specific columns keyed by their json name
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// IsActive reports whether the profile may use the portal
func (p *RoleProfile) IsActive() bool {
	return p.Status == ProfileActive
}

// NewProfileRow returns an empty row of the role's table
func NewProfileRow(role UserRole) (interface{}, error) {
	switch role {
	case RoleStudent:
		return &Student{}, nil
	case RoleTeacher:
		return &Teacher{}, nil
	case RoleHOD:
		return &HOD{}, nil
	case RoleAdmin:
		return &Admin{}, nil
	}
	return nil, fmt.Errorf("unknown role %q", role)
}

// ToRow converts the profile into a row of its role table
func (p *RoleProfile) ToRow() (interface{}, error) {
	switch p.Role {
	case RoleStudent:
		return &Student{
			ProfileBase:  p.ProfileBase,
			Grade:        stringField(p.Fields, "grade"),
			School:       stringField(p.Fields, "school"),
			MessageCount: intField(p.Fields, "message_count"),
		}, nil
	case RoleTeacher:
		return &Teacher{
			ProfileBase:     p.ProfileBase,
			Subject:         stringField(p.Fields, "subject"),
			Qualification:   stringField(p.Fields, "qualification"),
			ExperienceYears: intField(p.Fields, "experience_years"),
			Department:      stringField(p.Fields, "department"),
		}, nil
	case RoleHOD:
		return &HOD{ProfileBase: p.ProfileBase, Department: stringField(p.Fields, "department")}, nil
	case RoleAdmin:
		return &Admin{ProfileBase: p.ProfileBase, Designation: stringField(p.Fields, "designation")}, nil
	}
	return nil, fmt.Errorf("unknown role %q", p.Role)
}

// ProfileFromRow builds the role-agnostic view of a role table row
func ProfileFromRow(row interface{}) (*RoleProfile, error) {
	switch r := row.(type) {
	case *Student:
		return &RoleProfile{Role: RoleStudent, ProfileBase: r.ProfileBase, Fields: map[string]interface{}{
			"grade":         r.Grade,
			"school":        r.School,
			"message_count": r.MessageCount,
		}}, nil
	case *Teacher:
		return &RoleProfile{Role: RoleTeacher, ProfileBase: r.ProfileBase, Fields: map[string]interface{}{
			"subject":          r.Subject,
			"qualification":    r.Qualification,
			"experience_years": r.ExperienceYears,
			"department":       r.Department,
		}}, nil
	case *HOD:
		return &RoleProfile{Role: RoleHOD, ProfileBase: r.ProfileBase, Fields: map[string]interface{}{
			"department": r.Department,
		}}, nil
	case *Admin:
		return &RoleProfile{Role: RoleAdmin, ProfileBase: r.ProfileBase, Fields: map[string]interface{}{
			"designation": r.Designation,
		}}, nil
	}
	return nil, fmt.Errorf("unsupported profile row %T", row)
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intField accepts the numeric shapes a field may arrive in after JSON decoding
func intField(fields map[string]interface{}, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
