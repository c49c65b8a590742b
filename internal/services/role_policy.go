package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
)

const (
	PathProfile         = "/profile"
	PathDashboard       = "/dashboard"
	PathCompleteProfile = "/complete-profile"
	PathLogin           = "/login"
	PathNotFound        = "/not-found"

	// RejectionDateLayout formats the decision date shown to rejected applicants
	RejectionDateLayout = "January 2, 2006"
)

// PostLoginGate runs role specific checks after the credentials were accepted.
// A *LoginError result rejects the attempt. OnFile reports whether the gate has
// a record to judge for an identity that has no profile in the role yet.
type PostLoginGate interface {
	Check(ctx context.Context, repo repositories.Repository, email string) error
	OnFile(ctx context.Context, repo repositories.Repository, email string) (bool, error)
}

// RolePolicy holds everything the login, oauth and profile flows need to know about a role
type RolePolicy struct {
	Role                  models.UserRole
	RequiredProfileFields []string
	DefaultStatus         models.ProfileStatus
	PINRequired           bool
	LandingPath           string
	Gate                  PostLoginGate
}

var rolePolicies = map[models.UserRole]*RolePolicy{
	models.RoleStudent: {
		Role:                  models.RoleStudent,
		RequiredProfileFields: []string{"grade", "school"},
		DefaultStatus:         models.ProfileActive,
		LandingPath:           PathProfile,
	},
	models.RoleTeacher: {
		Role:                  models.RoleTeacher,
		RequiredProfileFields: []string{"subject", "qualification"},
		DefaultStatus:         models.ProfilePending,
		LandingPath:           PathDashboard,
		Gate:                  teacherApprovalGate{},
	},
	models.RoleHOD: {
		Role:                  models.RoleHOD,
		RequiredProfileFields: []string{"department"},
		DefaultStatus:         models.ProfileActive,
		PINRequired:           true,
		LandingPath:           PathDashboard,
	},
	models.RoleAdmin: {
		Role:                  models.RoleAdmin,
		RequiredProfileFields: []string{"designation"},
		DefaultStatus:         models.ProfileActive,
		PINRequired:           true,
		LandingPath:           PathDashboard,
	},
}

func PolicyFor(role models.UserRole) (*RolePolicy, error) {
	policy, ok := rolePolicies[role]
	if !ok {
		return nil, ErrInvalidRole
	}
	return policy, nil
}

// MissingFields lists the required fields absent from a profile submission
func (p *RolePolicy) MissingFields(fields map[string]interface{}) []string {
	var missing []string
	for _, name := range p.RequiredProfileFields {
		value, ok := fields[name]
		if !ok || value == nil || strings.TrimSpace(fmt.Sprint(value)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// teacherApprovalGate only lets teachers with an approved application through
type teacherApprovalGate struct{}

func (teacherApprovalGate) Check(ctx context.Context, repo repositories.Repository, email string) error {
	approval, err := repo.Approval().GetByEmail(ctx, email)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return &LoginError{
				Code:    LoginNoTeacherApplication,
				Message: "No teacher application found for this email. Please complete your teacher profile first.",
			}
		}
		return fmt.Errorf("failed to load teacher application: %w", err)
	}

	switch approval.Status {
	case models.ApprovalRejected:
		return rejectedApplicationError(approval)
	case models.ApprovalPending:
		return &LoginError{
			Code:    LoginApplicationPending,
			Message: "Your teacher application is still under review. Please wait for approval.",
		}
	case models.ApprovalApproved:
		return activateApprovedTeacher(ctx, repo, email)
	default:
		return &LoginError{
			Code:    LoginInvalidApplicationStatus,
			Message: fmt.Sprintf("Your teacher application has an unknown status %q. Please contact the school.", approval.Status),
		}
	}
}

func (teacherApprovalGate) OnFile(ctx context.Context, repo repositories.Repository, email string) (bool, error) {
	_, err := repo.Approval().GetByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case repositories.IsNotFoundError(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to load teacher application: %w", err)
	}
}

func rejectedApplicationError(approval *models.TeacherApproval) *LoginError {
	reason := "No reason provided"
	if approval.RejectionReason != nil && strings.TrimSpace(*approval.RejectionReason) != "" {
		reason = *approval.RejectionReason
	}

	decided := approval.UpdatedAt
	if approval.DecidedAt != nil {
		decided = *approval.DecidedAt
	}

	return &LoginError{
		Code:      LoginApplicationRejected,
		Message:   fmt.Sprintf("Your teacher application was rejected on %s. Reason: %s", formatDecisionDate(decided), reason),
		Reason:    reason,
		DecidedAt: &decided,
	}
}

func formatDecisionDate(t time.Time) string {
	return t.Format(RejectionDateLayout)
}

// activateApprovedTeacher repairs a teacher row left inactive after approval
func activateApprovedTeacher(ctx context.Context, repo repositories.Repository, email string) error {
	profile, err := repo.Profile().GetByEmail(ctx, models.RoleTeacher, email)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to load teacher profile: %w", err)
	}
	if profile.Status == models.ProfileActive {
		return nil
	}
	if err := repo.Profile().UpdateStatusByEmail(ctx, models.RoleTeacher, email, models.ProfileActive); err != nil {
		return fmt.Errorf("failed to activate teacher profile: %w", err)
	}
	return nil
}
