package mailer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToLogMailer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := New(Config{AppURL: "http://localhost:5173"}, logger)
	logMailer, ok := m.(*LogMailer)
	require.True(t, ok)

	require.NoError(t, logMailer.SendConfirmation(context.Background(), "s@example.com", "tok-1"))
	require.NoError(t, logMailer.SendPasswordReset(context.Background(), "s@example.com", "tok-2"))
	assert.Equal(t, []string{"confirm:s@example.com:tok-1", "reset:s@example.com:tok-2"}, logMailer.Sent())

	_, ok = New(Config{Host: "smtp.example.com"}, logger).(*SMTPMailer)
	assert.True(t, ok)
}

func TestMessageLinks(t *testing.T) {
	msg := confirmationMessage("http://localhost:5173/", "s@example.com", "abc")
	assert.Contains(t, msg.body, "http://localhost:5173/confirm-email?token=abc")
	assert.Equal(t, "s@example.com", msg.to)

	msg = resetMessage("https://portal.example.com", "t@example.com", "xyz")
	assert.Contains(t, msg.body, "https://portal.example.com/reset-password?token=xyz")
}
