// Package mailer composes and sends logsentry's alert emails over SMTP.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"logsentry/pkg/logx"
)

const (
	alertSubject = "Bot: ERROR Occurred!!"
	defaultPort  = "587"

	bodyTimeFormat = "2006-01-02 15:04:05 -07:00"
)

type Config struct {
	Username string
	Password string
	// Host is the SMTP endpoint, "host" or "host:port".
	Host   string
	Target string
	LogID  string
}

// sendFunc matches smtp.SendMail; injectable for tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends a single message per call. No retries, no queue: the
// monitor's best-effort policy lives here as exactly one send attempt.
type Mailer struct {
	cfg  Config
	log  logx.Logger
	now  func() time.Time
	send sendFunc
}

func New(cfg Config, log logx.Logger) *Mailer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mailer{cfg: cfg, log: log, now: time.Now, send: smtp.SendMail}
}

// Dispatch sends the threshold alert for the configured log.
func (m *Mailer) Dispatch(ctx context.Context) error {
	body := fmt.Sprintf("Multiple error occurred on %s at %s",
		m.cfg.LogID, m.now().Local().Format(bodyTimeFormat))
	return m.Send(ctx, alertSubject, body)
}

// Send composes a message with the given subject and body and attempts
// exactly one SMTP delivery.
func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := m.addr()
	msg := m.compose(subject, body)

	var auth smtp.Auth
	if m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, hostOnly(addr))
	}

	m.log.Debug("sending mail",
		logx.String("to", m.cfg.Target),
		logx.String("subject", subject),
		logx.String("smtp", addr),
	)
	if err := m.send(addr, auth, m.cfg.Username, []string{m.cfg.Target}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return nil
}

// compose builds an RFC 822 message. Header order is fixed so the output
// is stable.
func (m *Mailer) compose(subject, body string) []byte {
	now := m.now()
	host := hostOnly(m.addr())

	headers := []struct{ k, v string }{
		{"From", m.cfg.Username},
		{"To", m.cfg.Target},
		{"Subject", subject},
		{"Date", now.Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), host)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="UTF-8"`},
	}

	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h.k)
		b.WriteString(": ")
		b.WriteString(h.v)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func (m *Mailer) addr() string {
	host := strings.TrimSpace(m.cfg.Host)
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	// Bare host, including bare IPv6 literals ("::1" -> "[::1]:587").
	return net.JoinHostPort(host, defaultPort)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
