// Package mail delivers transactional email such as password reset links.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"file-service/internal/apperr"
	"file-service/internal/config"
)

// Message is a single HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages. Failures are wrapped in apperr.ErrMailUnavailable.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender returns an SMTP sender, or a sender that only logs when mail is disabled.
func NewSender(cfg config.MailConfig, logger *slog.Logger) Sender {
	if !cfg.Enabled {
		logger.Info("mail delivery disabled, messages will only be logged")
		return &LogSender{logger: logger}
	}
	return NewSMTPSender(cfg, logger)
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email (disabled)", "to", msg.To, "subject", msg.Subject)
	return nil
}

type SMTPSender struct {
	host     string
	port     string
	user     string
	password string
	from     string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSMTPSender(cfg config.MailConfig, logger *slog.Logger) *SMTPSender {
	from := cfg.FromEmail
	if from == "" {
		from = cfg.SMTPUser
	}
	port := cfg.SMTPPort
	if port == "" {
		port = "587"
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     port,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     from,
		timeout:  timeout,
		logger:   logger,
	}
}

// Send delivers msg, bounded by the configured timeout.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.host == "" {
		return fmt.Errorf("%w: smtp host not configured", apperr.ErrMailUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "email delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return fmt.Errorf("%w: %v", apperr.ErrMailUnavailable, err)
	}

	s.logger.InfoContext(ctx, "email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (s *SMTPSender) send(ctx context.Context, msg Message) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.host, s.port))
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.user != "" {
		if err := c.Auth(smtp.PlainAuth("", s.user, s.password, s.host)); err != nil {
			return err
		}
	}
	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(s.compose(msg)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s *SMTPSender) compose(msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", sanitizeHeader(msg.To))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return b.Bytes()
}

// sanitizeHeader strips line breaks so values cannot inject extra headers.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
