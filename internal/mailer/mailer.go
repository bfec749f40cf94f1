package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/config"
)

// ErrDelivery marks an SMTP failure. Callers keep the notification un-sent
// and retry on a later cycle.
var ErrDelivery = errors.New("email delivery failed")

// EncryptionMode defines the TLS strategy for the SMTP connection.
type EncryptionMode string

const (
	EncryptionPreferred EncryptionMode = "preferred" // Try STARTTLS, fall back to plain
	EncryptionAlways    EncryptionMode = "always"    // Require TLS (port 465 or STARTTLS)
	EncryptionNever     EncryptionMode = "never"     // No encryption
)

// Sender is the outbound email interface workers depend on.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Mailer sends email over SMTP.
type Mailer struct {
	settings config.SMTPConfig
	mode     EncryptionMode
	logger   zerolog.Logger
}

// New creates a Mailer from SMTP configuration.
func New(settings config.SMTPConfig, logger zerolog.Logger) *Mailer {
	if settings.Port == 0 {
		settings.Port = 587
	}
	mode := EncryptionMode(settings.Encryption)
	if mode == "" {
		mode = EncryptionPreferred
	}
	return &Mailer{
		settings: settings,
		mode:     mode,
		logger:   logger.With().Str("component", "mailer").Logger(),
	}
}

// Send delivers one email to the given recipients. Failures wrap
// ErrDelivery so callers can distinguish delivery errors from their own.
func (m *Mailer) Send(ctx context.Context, to []string, subject, body string) error {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrDelivery)
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", m.settings.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(toHTML(body))

	addr := fmt.Sprintf("%s:%d", m.settings.Host, m.settings.Port)

	var auth smtp.Auth
	if m.settings.Username != "" && m.settings.Password != "" {
		auth = smtp.PlainAuth("", m.settings.Username, m.settings.Password, m.settings.Host)
	}

	var err error
	if m.mode == EncryptionAlways && m.settings.Port == 465 {
		err = m.sendImplicitTLS(ctx, addr, auth, recipients, msg.String())
	} else {
		// smtp.SendMail negotiates STARTTLS when the server offers it.
		err = smtp.SendMail(addr, auth, m.settings.From, recipients, []byte(msg.String()))
	}
	if err != nil {
		m.logger.Error().Err(err).Str("subject", subject).Int("recipients", len(recipients)).Msg("send failed")
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	m.logger.Debug().Str("subject", subject).Int("recipients", len(recipients)).Msg("email sent")
	return nil
}

// Test sends a probe email to a single address.
func (m *Mailer) Test(ctx context.Context, to string) error {
	return m.Send(ctx, []string{to}, "NotifyArr Test", "This is a test email from NotifyArr.")
}

func (m *Mailer) sendImplicitTLS(ctx context.Context, addr string, auth smtp.Auth, recipients []string, message string) error {
	tlsConfig := &tls.Config{
		ServerName: m.settings.Host,
		MinVersion: tls.VersionTLS12,
	}
	dialer := &tls.Dialer{Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	client, err := smtp.NewClient(conn, m.settings.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	if err := client.Mail(m.settings.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := w.Write([]byte(message)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

func toHTML(plainText string) string {
	escaped := strings.ReplaceAll(plainText, "&", "&amp;")
	escaped = strings.ReplaceAll(escaped, "<", "&lt;")
	escaped = strings.ReplaceAll(escaped, ">", "&gt;")
	escaped = strings.ReplaceAll(escaped, "\n\n", "</p><p>")
	escaped = strings.ReplaceAll(escaped, "\n", "<br>")
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background: linear-gradient(135deg, #2b5876 0%%, #4e4376 100%%); color: white; padding: 20px; border-radius: 8px 8px 0 0; }
.header h1 { margin: 0; font-size: 24px; }
.content { background: #f9f9f9; padding: 20px; border: 1px solid #ddd; border-top: none; border-radius: 0 0 8px 8px; }
.footer { text-align: center; margin-top: 20px; color: #666; font-size: 12px; }
p { margin: 0 0 10px 0; }
</style>
</head>
<body>
<div class="header"><h1>NotifyArr</h1></div>
<div class="content"><p>%s</p></div>
<div class="footer">Sent by NotifyArr</div>
</body>
</html>`, escaped)
}
