// Package digest periodically emails a summary of recent alert activity.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"logsentry/internal/eventbus"
	"logsentry/internal/storage"
	"logsentry/pkg/logx"
)

const defaultWindow = 24 * time.Hour

type Config struct {
	// Schedule is a cron expression ("0 8 * * *", "@daily") or a Go
	// duration string ("6h").
	Schedule string
	// Window bounds how far back the summary looks. Zero means 24h.
	Window time.Duration
	LogID  string
}

// Sender delivers the composed digest. Satisfied by mailer.Mailer.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// History provides recent alert records. Satisfied by storage.Store.
type History interface {
	RecentAlerts(ctx context.Context, since time.Time) ([]storage.AlertRecord, error)
}

type Service struct {
	cfg   Config
	sched cron.Schedule
	hist  History
	send  Sender
	log   logx.Logger
	bus   eventbus.Bus

	now func() time.Time
}

func New(cfg Config, hist History, send Sender, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, sched: sched, hist: hist, send: send, log: log, bus: bus, now: time.Now}, nil
}

// ParseSchedule accepts either a standard cron expression or a Go
// duration string and normalizes both to a cron.Schedule.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("digest schedule required")
	}
	// Whitespace or a leading '@' means cron ("@daily", "@every 6h", ...).
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return nil, fmt.Errorf("invalid digest schedule %q: %w", raw, err)
		}
		return sched, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q (use cron like '0 8 * * *' or duration like '6h'): %w", raw, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("digest schedule interval must be > 0 (got %s)", d)
	}
	return cron.Every(d), nil
}

func (s *Service) Run(ctx context.Context) error {
	s.log.Info("digest started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("window", s.cfg.Window),
	)
	for {
		next := s.sched.Next(s.now())
		t := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		s.emit(ctx)
	}
}

// emit reads recent history and sends one summary mail. Failures are
// logged and swallowed; the digest is best-effort like the alerts.
func (s *Service) emit(ctx context.Context) {
	since := s.now().Add(-s.cfg.Window)
	recs, err := s.hist.RecentAlerts(ctx, since)
	if err != nil {
		s.log.Warn("digest history read failed", logx.Err(err))
		return
	}
	if len(recs) == 0 {
		s.log.Debug("digest skipped; no alerts in window")
		return
	}

	subject, body := Summarize(s.cfg.LogID, recs, since, s.now())
	if err := s.send.Send(ctx, subject, body); err != nil {
		s.log.Warn("digest send failed", logx.Err(err))
		return
	}
	s.log.Info("digest sent", logx.Int("alerts", len(recs)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDigestSent, Time: s.now(), Data: len(recs)})
	}
}

// Summarize renders the digest subject and plain-text body.
func Summarize(logID string, recs []storage.AlertRecord, since, now time.Time) (subject, body string) {
	failed := 0
	events := 0
	var last time.Time
	for _, r := range recs {
		if !r.OK {
			failed++
		}
		events += r.EventCount
		if r.At.After(last) {
			last = r.At
		}
	}

	subject = fmt.Sprintf("Bot: Alert digest for %s", logID)

	var b strings.Builder
	fmt.Fprintf(&b, "Alert digest for %s\r\n", logID)
	fmt.Fprintf(&b, "Window: %s to %s\r\n", since.Local().Format(time.RFC1123Z), now.Local().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Alerts: %d (%d failed sends)\r\n", len(recs), failed)
	fmt.Fprintf(&b, "Change events covered: %d\r\n", events)
	if !last.IsZero() {
		fmt.Fprintf(&b, "Last alert: %s\r\n", last.Local().Format(time.RFC1123Z))
	}
	return subject, b.String()
}
