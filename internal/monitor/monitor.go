// Package monitor implements the alerting state machine: it consumes
// batches of classified change events, maintains the event counter, and
// dispatches an email alert when the fire condition holds.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"logsentry/internal/eventbus"
	"logsentry/internal/watcher"
	"logsentry/pkg/logx"
)

// deleteGraceDelay is how long the monitor waits after a deletion before
// re-arming the watch. Log rotation tools commonly delete and recreate;
// the delay gives the new file time to appear. Not configurable.
const deleteGraceDelay = 1000 * time.Millisecond

// Source yields batches of change events for the watched path.
type Source interface {
	NextBatch(ctx context.Context) ([]watcher.Event, error)
}

// Watch re-establishes the registration after attribute changes and
// deletions, since the underlying inode identity may have changed.
type Watch interface {
	Rearm() error
}

// Dispatcher sends one alert message. Exactly one attempt; the monitor
// never retries a failed send.
type Dispatcher interface {
	Dispatch(ctx context.Context) error
}

type Config struct {
	LogID          string
	Path           string
	CountThreshold int
	// TimeThreshold is the minimum interval between alerts.
	// Zero means no minimum.
	TimeThreshold time.Duration
}

// State is the monitor's only mutable state. It is owned exclusively by
// Run for the lifetime of the process and never persisted.
type State struct {
	Count     int
	LastAlert time.Time
}

// AlertEvent is the bus payload published on every dispatch attempt.
type AlertEvent struct {
	At         time.Time `json:"at"`
	LogID      string    `json:"log_id"`
	EventCount int       `json:"event_count"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

type Monitor struct {
	cfg   Config
	src   Source
	watch Watch
	disp  Dispatcher
	log   logx.Logger
	bus   eventbus.Bus

	// evLimiter bounds per-event log lines. A hot log file can emit
	// thousands of write events per second; sinks must not drown.
	evLimiter *rate.Limiter

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func New(cfg Config, src Source, watch Watch, disp Dispatcher, log logx.Logger, bus eventbus.Bus) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		cfg:       cfg,
		src:       src,
		watch:     watch,
		disp:      disp,
		log:       log,
		bus:       bus,
		evLimiter: rate.NewLimiter(rate.Limit(20), 40),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Run is the blocking monitor loop. It initializes the state once at
// entry and loops until the context is canceled or a fatal error occurs
// (event read failure, re-arm failure). Alert dispatch failures are the
// only recovered errors.
func (m *Monitor) Run(ctx context.Context) error {
	st := State{LastAlert: m.now()}
	m.log.Info("monitor started",
		logx.String("log_id", m.cfg.LogID),
		logx.String("path", m.cfg.Path),
		logx.Int("count_threshold", m.cfg.CountThreshold),
		logx.Duration("time_threshold", m.cfg.TimeThreshold),
	)

	for {
		batch, err := m.src.NextBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("read event batch: %w", err)
		}
		if err := m.processBatch(ctx, &st, batch); err != nil {
			return err
		}
	}
}

// processBatch classifies every event in the batch, then evaluates the
// fire condition once for the whole batch. A batch large enough to cross
// the threshold several times over still produces a single alert; that
// matches the per-buffer check the event source semantics imply, and is
// kept deliberately.
func (m *Monitor) processBatch(ctx context.Context, st *State, batch []watcher.Event) error {
	for _, ev := range batch {
		switch ev.Kind {
		case watcher.Modified:
			st.Count++
			m.logEvent("file modified", ev, st.Count)
		case watcher.AttributeChanged:
			st.Count++
			m.logEvent("file attributes changed", ev, st.Count)
			if err := m.watch.Rearm(); err != nil {
				return fmt.Errorf("rearm after attribute change: %w", err)
			}
		case watcher.Deleted:
			// Deletions never count toward the threshold.
			m.log.Info("file deleted; waiting before rearm",
				logx.String("name", ev.Name),
				logx.Duration("grace", deleteGraceDelay),
			)
			m.sleep(ctx, deleteGraceDelay)
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.watch.Rearm(); err != nil {
				return fmt.Errorf("rearm after delete: %w", err)
			}
		}
		m.publishClassified(ev, st.Count)
	}

	if st.Count >= m.cfg.CountThreshold && m.now().Sub(st.LastAlert) >= m.cfg.TimeThreshold {
		m.dispatch(ctx, st)
	}
	return nil
}

// dispatch attempts the alert once and resets the counter and the alert
// window regardless of the outcome. A failed send must never stop
// monitoring.
func (m *Monitor) dispatch(ctx context.Context, st *State) {
	at := m.now()
	err := m.disp.Dispatch(ctx)
	ev := AlertEvent{At: at, LogID: m.cfg.LogID, EventCount: st.Count, OK: err == nil}
	if err != nil {
		ev.Error = err.Error()
		m.log.Error("alert send failed", logx.Err(err), logx.Int("events", st.Count))
		m.publishAlert(eventbus.TypeAlertFailed, ev)
	} else {
		m.log.Info("alert sent",
			logx.String("log_id", m.cfg.LogID),
			logx.Int("events", st.Count),
		)
		m.publishAlert(eventbus.TypeAlertSent, ev)
	}
	st.Count = 0
	st.LastAlert = m.now()
}

func (m *Monitor) logEvent(msg string, ev watcher.Event, count int) {
	if !m.evLimiter.Allow() {
		return
	}
	m.log.Info(msg, logx.String("name", ev.Name), logx.Int("count", count))
}

func (m *Monitor) publishClassified(ev watcher.Event, count int) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type: eventbus.TypeEventClassified,
		Time: m.now(),
		Data: struct {
			Kind  string `json:"kind"`
			Name  string `json:"name"`
			Count int    `json:"count"`
		}{Kind: ev.Kind.String(), Name: ev.Name, Count: count},
	})
}

func (m *Monitor) publishAlert(typ string, ev AlertEvent) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
