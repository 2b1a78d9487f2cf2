// mailer.go implements SMTP delivery for outbox messages. Plain SMTP, STARTTLS
// (port 587), and implicit TLS (port 465) are all supported; UseTLS=true always
// means the connection ends up encrypted.
package services

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"

	"github.com/memberbase/memberbase/internal/config"
)

// Sender delivers one email. Implemented by SMTPMailer in production and by
// fakes in tests.
type Sender interface {
	Send(recipient, subject, body string) error
}

// SMTPMailer sends mail through a configured SMTP server.
type SMTPMailer struct {
	cfg *config.SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg *config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send composes and delivers a plain-text email.
func (m *SMTPMailer) Send(recipient, subject, body string) error {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		m.cfg.From, recipient, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.UseTLS {
		return m.sendTLS(addr, auth, recipient, msg)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, []string{recipient}, msg)
}

// sendTLS connects via implicit TLS (SMTPS). When the server does not speak
// TLS on connect (port 587), it falls back to smtp.SendMail, which upgrades
// via STARTTLS.
func (m *SMTPMailer) sendTLS(addr string, auth smtp.Auth, recipient string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, m.cfg.From, []string{recipient}, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(recipient); err != nil {
		return fmt.Errorf("smtp RCPT TO %s: %w", recipient, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
