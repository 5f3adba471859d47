package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"logpull/internal/logging"
)

// Mailer accumulates an operator notification and sends it once.
type Mailer interface {
	AddToMessage(text string)
	Send(ctx context.Context) error
}

// buffer is the message body shared by the mailers.
type buffer struct {
	mu    sync.Mutex
	parts []string
}

func (b *buffer) AddToMessage(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parts = append(b.parts, text)
}

// take returns the accumulated body and resets it.
func (b *buffer) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	body := strings.Join(b.parts, "\n")
	b.parts = nil
	return body
}

// LogMailer writes notifications to the logger at ERROR level.
type LogMailer struct {
	buffer
	logger *slog.Logger
}

// NewLogMailer returns a Mailer that logs instead of sending mail.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logging.Default(logger).With("component", "notify")}
}

// Send logs the accumulated message. An empty message is not logged.
func (m *LogMailer) Send(context.Context) error {
	if body := m.take(); body != "" {
		m.logger.Error("operator notification", "message", body)
	}
	return nil
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	To       []string
	Subject  string
	Username string
	Password string //nolint:gosec // config field
}

// SMTPMailer sends the accumulated message as one plain-text email.
type SMTPMailer struct {
	buffer
	cfg SMTPConfig
	now func() time.Time
	// send is smtp.SendMail; tests replace it.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, now: time.Now, send: smtp.SendMail}
}

// Send delivers the accumulated message. An empty message sends nothing.
func (m *SMTPMailer) Send(ctx context.Context) error {
	body := m.take()
	if body == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host, _, err := net.SplitHostPort(m.cfg.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr %q: %w", m.cfg.Addr, err)
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	msg := m.compose(body)
	done := make(chan error, 1)
	go func() { done <- m.send(m.cfg.Addr, auth, m.cfg.From, m.cfg.To, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SMTPMailer) compose(body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.cfg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
