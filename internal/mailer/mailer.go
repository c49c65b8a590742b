// Package mailer delivers account confirmation and password reset emails.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	// AppURL is the front end base URL links in emails point to
	AppURL string
}

// Mailer sends the account emails the identity flows need
type Mailer interface {
	SendConfirmation(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// New returns an SMTP mailer, or a log-only mailer when no host is configured
func New(cfg Config, logger *slog.Logger) Mailer {
	if cfg.Host == "" {
		return NewLogMailer(cfg.AppURL, logger)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{config: cfg, logger: logger}
}

type message struct {
	to      string
	subject string
	body    string
}

func confirmationMessage(appURL, email, token string) message {
	link := strings.TrimRight(appURL, "/") + "/confirm-email?token=" + token
	return message{
		to:      email,
		subject: "Confirm your DeepNex account",
		body:    "Welcome to DeepNex!\r\n\r\nPlease confirm your email address by opening the link below:\r\n" + link + "\r\n",
	}
}

func resetMessage(appURL, email, token string) message {
	link := strings.TrimRight(appURL, "/") + "/reset-password?token=" + token
	return message{
		to:      email,
		subject: "Reset your DeepNex password",
		body:    "We received a request to reset your password.\r\n\r\nOpen the link below to choose a new one. It expires in one hour.\r\n" + link + "\r\n",
	}
}

type SMTPMailer struct {
	config Config
	logger *slog.Logger
}

func (m *SMTPMailer) SendConfirmation(ctx context.Context, email, token string) error {
	return m.send(confirmationMessage(m.config.AppURL, email, token))
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	return m.send(resetMessage(m.config.AppURL, email, token))
}

func (m *SMTPMailer) send(msg message) error {
	headers := []string{
		"From: " + m.config.From,
		"To: " + msg.to,
		"Subject: " + msg.subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	payload := []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.body)

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if !m.config.UseTLS {
		if err := smtp.SendMail(addr, auth, m.config.From, []string{msg.to}, payload); err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.config.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := client.Mail(m.config.From); err != nil {
		return err
	}
	if err := client.Rcpt(msg.to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// LogMailer writes the links to the log instead of sending mail
type LogMailer struct {
	appURL string
	logger *slog.Logger
	mu     sync.Mutex
	sent   []string
}

func NewLogMailer(appURL string, logger *slog.Logger) *LogMailer {
	return &LogMailer{appURL: appURL, logger: logger}
}

func (m *LogMailer) SendConfirmation(ctx context.Context, email, token string) error {
	msg := confirmationMessage(m.appURL, email, token)
	m.logger.InfoContext(ctx, "Confirmation email", "to", email, "body", msg.body)
	m.record("confirm:" + email + ":" + token)
	return nil
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	msg := resetMessage(m.appURL, email, token)
	m.logger.InfoContext(ctx, "Password reset email", "to", email, "body", msg.body)
	m.record("reset:" + email + ":" + token)
	return nil
}

func (m *LogMailer) record(entry string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, entry)
}

// Sent lists the emails recorded so far as kind:email:token
func (m *LogMailer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
