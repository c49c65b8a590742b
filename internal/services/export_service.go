package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/repositories"
	"github.com/xuri/excelize/v2"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// ExportService renders chat transcripts and teacher applications as spreadsheets
type ExportService interface {
	ChatTranscriptToExcel(ctx context.Context, sessionID string) ([]byte, error)
	ChatTranscriptToCSV(ctx context.Context, sessionID string) ([]byte, error)
	TeacherApprovalsToExcel(ctx context.Context, actor Actor, status *models.ApprovalStatus) ([]byte, error)
}

type exportService struct {
	Deps
	chats ChatService
}

func NewExportService(deps Deps, chats ChatService) ExportService {
	return &exportService{Deps: deps, chats: chats}
}

var transcriptHeaders = []string{"Sent At", "Sender", "Message", "Image", "Image Analysis", "Reply To"}

func transcriptRow(m *models.ChatMessage) []string {
	replyTo := ""
	if m.ResponseTo != nil {
		replyTo = *m.ResponseTo
	}
	return []string{
		m.CreatedAt.Format(exportTimeLayout),
		string(m.SenderRole),
		m.Body.Text,
		m.Body.ImageURL,
		m.Body.Analysis,
		replyTo,
	}
}

func (s *exportService) ChatTranscriptToExcel(ctx context.Context, sessionID string) ([]byte, error) {
	session, messages, err := s.chats.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Transcript"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	f.SetCellValue(sheetName, "A1", "Session")
	f.SetCellValue(sheetName, "B1", session.SessionTitle)
	f.SetCellValue(sheetName, "A2", "Persona")
	f.SetCellValue(sheetName, "B2", string(session.Persona))
	f.SetCellValue(sheetName, "A3", "Started")
	f.SetCellValue(sheetName, "B3", session.CreatedAt.Format(exportTimeLayout))

	const headerRow = 5
	for i, header := range transcriptHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(sheetName, cell, header)
	}
	for rowIndex, m := range messages {
		for colIndex, value := range transcriptRow(m) {
			cell, _ := excelize.CoordinatesToCellName(colIndex+1, headerRow+1+rowIndex)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.Logger.InfoContext(ctx, "Chat transcript exported", "session_id", sessionID, "messages", len(messages), "format", "xlsx")
	return buf.Bytes(), nil
}

func (s *exportService) ChatTranscriptToCSV(ctx context.Context, sessionID string) ([]byte, error) {
	_, messages, err := s.chats.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder
	writer := csv.NewWriter(&buf)

	if err := writer.Write(transcriptHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, m := range messages {
		if err := writer.Write(transcriptRow(m)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	s.Logger.InfoContext(ctx, "Chat transcript exported", "session_id", sessionID, "messages", len(messages), "format", "csv")
	return []byte(buf.String()), nil
}

func (s *exportService) TeacherApprovalsToExcel(ctx context.Context, actor Actor, status *models.ApprovalStatus) ([]byte, error) {
	if !actor.HasRole(models.RoleHOD, models.RoleAdmin) {
		return nil, NewPermissionError(actor.IdentityID, actor.Role, "teacher_approvals", "export", "only HOD or admin can export applications")
	}

	approvals, _, err := s.Repo.Approval().List(ctx, repositories.ApprovalFilters{Status: status, SortOrder: "asc"})
	if err != nil {
		return nil, fmt.Errorf("failed to list teacher applications: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Applications"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	headers := []string{"Teacher Email", "Status", "Rejection Reason", "Submitted At", "Decided At", "Decided By"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	for rowIndex, a := range approvals {
		row := []interface{}{
			a.TeacherEmail,
			string(a.Status),
			derefString(a.RejectionReason),
			a.CreatedAt.Format(exportTimeLayout),
		}
		if a.DecidedAt != nil {
			row = append(row, a.DecidedAt.Format(exportTimeLayout))
		} else {
			row = append(row, "")
		}
		row = append(row, derefString(a.DecidedBy))

		for colIndex, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+colIndex, rowIndex+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.Logger.InfoContext(ctx, "Teacher applications exported", "actor", actor.IdentityID, "rows", len(approvals))
	return buf.Bytes(), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
