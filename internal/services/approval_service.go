package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/events"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
)

// ApprovalService lets HODs and admins decide teacher applications
type ApprovalService interface {
	List(ctx context.Context, actor Actor, req *ListApprovalsRequest) (*ApprovalListResponse, error)
	Approve(ctx context.Context, actor Actor, email string) (*models.TeacherApproval, error)
	Reject(ctx context.Context, actor Actor, email string, req *RejectApplicationRequest) (*models.TeacherApproval, error)
}

type ListApprovalsRequest struct {
	Status    string `form:"status" validate:"omitempty,oneof=pending approved rejected"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset    int    `form:"offset" validate:"omitempty,min=0"`
	SortOrder string `form:"sort_order" validate:"omitempty,oneof=asc desc"`
}

type ApprovalListResponse struct {
	Applications []*models.TeacherApproval `json:"applications"`
	Total        int64                     `json:"total"`
	Limit        int                       `json:"limit"`
	Offset       int                       `json:"offset"`
}

type RejectApplicationRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type approvalService struct {
	Deps
}

func NewApprovalService(deps Deps) ApprovalService {
	return &approvalService{Deps: deps}
}

func (s *approvalService) authorize(actor Actor, action string) error {
	if !actor.HasRole(models.RoleHOD, models.RoleAdmin) {
		return NewPermissionError(actor.IdentityID, actor.Role, "teacher_application", action, "only HODs and admins decide teacher applications")
	}
	return nil
}

func (s *approvalService) List(ctx context.Context, actor Actor, req *ListApprovalsRequest) (*ApprovalListResponse, error) {
	if err := s.authorize(actor, "list"); err != nil {
		return nil, err
	}
	if err := s.Validator.Validate(req); err != nil {
		return nil, err
	}

	filters := repositories.ApprovalFilters{
		Limit:     req.Limit,
		Offset:    req.Offset,
		SortOrder: req.SortOrder,
	}
	if filters.Limit == 0 {
		filters.Limit = 50
	}
	if req.Status != "" {
		status := models.ApprovalStatus(req.Status)
		filters.Status = &status
	}

	applications, total, err := s.Repo.Approval().List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list teacher applications: %w", err)
	}

	return &ApprovalListResponse{
		Applications: applications,
		Total:        total,
		Limit:        filters.Limit,
		Offset:       filters.Offset,
	}, nil
}

func (s *approvalService) Approve(ctx context.Context, actor Actor, email string) (*models.TeacherApproval, error) {
	if err := s.authorize(actor, "approve"); err != nil {
		return nil, err
	}
	return s.decide(ctx, actor, email, models.ApprovalApproved, nil)
}

func (s *approvalService) Reject(ctx context.Context, actor Actor, email string, req *RejectApplicationRequest) (*models.TeacherApproval, error) {
	if err := s.authorize(actor, "reject"); err != nil {
		return nil, err
	}
	if req == nil || strings.TrimSpace(req.Reason) == "" {
		return nil, ErrRejectionReasonNeeded
	}
	if err := s.Validator.Validate(req); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	return s.decide(ctx, actor, email, models.ApprovalRejected, &reason)
}

// decide moves a pending application to a terminal state. Approval also
// activates the teacher's profile in the same transaction.
func (s *approvalService) decide(ctx context.Context, actor Actor, email string, status models.ApprovalStatus, reason *string) (*models.TeacherApproval, error) {
	email = normalizeEmail(email)
	s.Logger.InfoContext(ctx, "Deciding teacher application", "teacher_email", email, "status", status, "decided_by", actor.Email)

	var decided *models.TeacherApproval
	err := s.Repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		approval, err := tx.Approval().GetByEmail(ctx, email)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrApprovalNotFound
			}
			return fmt.Errorf("failed to load teacher application: %w", err)
		}
		if approval.Status != models.ApprovalPending {
			return ErrApprovalAlreadyDecided
		}

		now := s.now()
		decidedBy := actor.Email
		approval.Status = status
		approval.RejectionReason = reason
		approval.DecidedAt = &now
		approval.DecidedBy = &decidedBy
		if err := tx.Approval().Update(ctx, approval); err != nil {
			return fmt.Errorf("failed to update teacher application: %w", err)
		}

		if status == models.ApprovalApproved {
			err := tx.Profile().UpdateStatusByEmail(ctx, models.RoleTeacher, email, models.ProfileActive)
			if err != nil && !repositories.IsNotFoundError(err) {
				return fmt.Errorf("failed to activate teacher profile: %w", err)
			}
		}

		decided = approval
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewTeacherApplicationEvent(
		events.EventApplicationDecided,
		decided.TeacherEmail,
		string(decided.Status),
		decided.RejectionReason,
		decided.DecidedAt,
		decided.DecidedBy,
	))
	return decided, nil
}
