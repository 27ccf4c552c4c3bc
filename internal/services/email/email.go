package email

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/pkg/logger"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no SMTP host is set
var ErrNotConfigured = errors.New("email service not configured")

// sendFunc matches smtp.SendMail; swapped out in tests
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService handles sending emails
type EmailService struct {
	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string

	send sendFunc
}

// NewEmailService creates a new email service
func NewEmailService(cfg config.SMTPConfig) *EmailService {
	return &EmailService{
		smtpHost:     cfg.Host,
		smtpPort:     cfg.Port,
		smtpUsername: cfg.Username,
		smtpPassword: cfg.Password,
		fromEmail:    cfg.From,
		send:         smtp.SendMail,
	}
}

// SendLoginCode sends a one-time login code
func (s *EmailService) SendLoginCode(toEmail, code string, ttl time.Duration) error {
	subject := "Your GemxHub login code"

	body := fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<body style="font-family: Arial, sans-serif; line-height: 1.6;">
		<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
			<h2>Your login code</h2>
			<p style="font-size: 28px; letter-spacing: 6px;"><strong>%s</strong></p>
			<p>The code expires in %d minutes. If you did not try to sign in, you can ignore this email.</p>
		</div>
	</body>
	</html>
	`, code, int(ttl.Minutes()))

	return s.sendEmail(toEmail, subject, body)
}

// sendEmail sends an email with HTML content
func (s *EmailService) sendEmail(toEmail, subject, htmlBody string) error {
	if s.smtpHost == "" || s.smtpPort == "" {
		logger.Log.Warn("email service not configured, dropping message", zap.String("subject", subject))
		return ErrNotConfigured
	}
	if strings.ContainsAny(toEmail, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}

	headers := []string{
		fmt.Sprintf("From: GemxHub <%s>", s.fromEmail),
		fmt.Sprintf("To: %s", toEmail),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-version: 1.0;",
		`Content-Type: text/html; charset="UTF-8";`,
	}
	message := []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody)

	var auth smtp.Auth
	if s.smtpUsername != "" {
		auth = smtp.PlainAuth("", s.smtpUsername, s.smtpPassword, s.smtpHost)
	}
	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)

	if err := s.send(addr, auth, s.fromEmail, []string{toEmail}, message); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	return nil
}
