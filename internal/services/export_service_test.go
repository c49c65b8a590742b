package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seedTranscript(t *testing.T, f *chatFixture) string {
	t.Helper()
	f.model.On("Complete", mock.Anything, mock.Anything).Return("Mitochondria make ATP.", nil).Once()
	resp, err := f.chat.SendMessage(context.Background(), models.PersonaStudent, &ChatRequest{Message: "What do mitochondria do?"})
	require.NoError(t, err)
	return resp.SessionID
}

func TestExport_TranscriptToExcel(t *testing.T) {
	f := newChatFixture(t)
	sessionID := seedTranscript(t, f)
	svc := NewExportService(f.env.deps, f.chat)

	data, err := svc.ChatTranscriptToExcel(context.Background(), sessionID)
	require.NoError(t, err)

	book, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer book.Close()

	assert.Equal(t, []string{"Transcript"}, book.GetSheetList())
	title, err := book.GetCellValue("Transcript", "B1")
	require.NoError(t, err)
	assert.Equal(t, "What do mitochondria do?", title)

	rows, err := book.GetRows("Transcript")
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, transcriptHeaders, rows[4])
	assert.Equal(t, "user", rows[5][1])
	assert.Equal(t, "What do mitochondria do?", rows[5][2])
	assert.Equal(t, "assistant", rows[6][1])
	assert.Equal(t, "Mitochondria make ATP.", rows[6][2])
}

func TestExport_TranscriptToCSV(t *testing.T) {
	f := newChatFixture(t)
	sessionID := seedTranscript(t, f)
	svc := NewExportService(f.env.deps, f.chat)

	data, err := svc.ChatTranscriptToCSV(context.Background(), sessionID)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, transcriptHeaders, records[0])
	assert.Equal(t, "user", records[1][1])
	assert.Empty(t, records[1][5])
	assert.NotEmpty(t, records[2][5], "assistant row should reference the user message")

	_, err = svc.ChatTranscriptToCSV(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrChatSessionNotFound)
}

func TestExport_TeacherApprovals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createApproval(t, "a@example.com", models.ApprovalPending, nil, nil)
	env.createApproval(t, "b@example.com", models.ApprovalRejected, strPtr("missing certificate"), nil)
	svc := NewExportService(env.deps, nil)

	_, err := svc.TeacherApprovalsToExcel(ctx, teacherActor, nil)
	assert.True(t, IsUnauthorized(err))

	rejected := models.ApprovalRejected
	data, err := svc.TeacherApprovalsToExcel(ctx, hodActor, &rejected)
	require.NoError(t, err)

	book, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("Applications")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Teacher Email", rows[0][0])
	assert.Equal(t, "b@example.com", rows[1][0])
	assert.Equal(t, "rejected", rows[1][1])
	assert.Equal(t, "missing certificate", rows[1][2])
}
