package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"wzslicense/internal/config"
	"wzslicense/internal/license"
)

// Message is a rendered plain text email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends one message
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// RenderLicenseEmail builds the message a buyer receives after payment
func RenderLicenseEmail(email LicenseEmail) Message {
	product := email.ProductName
	if product == "" {
		product = email.ProductID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for purchasing %s.\r\n\r\n", product)
	fmt.Fprintf(&b, "License key: %s\r\n", email.LicenseKey)
	fmt.Fprintf(&b, "Order number: %s\r\n", email.OrderNo)
	fmt.Fprintf(&b, "Devices allowed: %d\r\n\r\n", email.MaxDevices)
	b.WriteString("Enter the license key in the application to activate it on this device.\r\n")
	b.WriteString("Keep this email: you will need the key to manage your devices.\r\n")

	return Message{
		To:      email.To,
		Subject: fmt.Sprintf("Your %s license key", product),
		Body:    b.String(),
	}
}

// SMTPMailer sends through an SMTP relay with PLAIN auth
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer from mail config
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from: cfg.From,
		auth: auth,
		send: smtp.SendMail,
	}
}

// Send delivers msg. net/smtp has no context support, so ctx is only
// checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("invalid header value for %q", msg.To)
	}

	raw := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", m.from, msg.To, msg.Subject, msg.Body))

	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.addr, err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. It is used
// when mail is disabled.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a log-only mailer
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With(slog.String("component", "log_mailer"))}
}

// Send logs the envelope. The body holds the license key and is not logged.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email not sent, mail disabled",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)))
	return nil
}

var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*LogMailer)(nil)
)

// maskedKey is used in dispatcher logs
func maskedKey(email LicenseEmail) string {
	return license.MaskLicenseKey(email.LicenseKey)
}
