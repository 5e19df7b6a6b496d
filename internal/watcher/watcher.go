// Package watcher maintains the single filesystem watch logsentry runs on
// and turns raw fsnotify events into classified change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"logsentry/internal/eventbus"
	"logsentry/pkg/logx"
)

// ErrEventStreamClosed is returned by NextBatch when the underlying
// notification channels are gone. There is no reconnect logic; the
// caller treats this as fatal.
var ErrEventStreamClosed = errors.New("watcher: event stream closed")

// Manager owns exactly one live watch registration at a time.
//
// It is not safe for concurrent use: Arm/Rearm/NextBatch are all called
// from the single monitor goroutine, which is the whole concurrency
// model of this daemon.
type Manager struct {
	log logx.Logger
	bus eventbus.Bus

	w    *fsnotify.Watcher
	path string
}

func NewManager(log logx.Logger, bus eventbus.Bus) (*Manager, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("init notification source: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{log: log, bus: bus, w: w}, nil
}

// Arm registers interest in changes on path. Registration failure at
// startup is unrecoverable for the process.
func (m *Manager) Arm(path string) error {
	if err := m.w.Add(path); err != nil {
		return fmt.Errorf("arm watch on %s: %w", path, err)
	}
	m.path = path
	m.log.Info("watch armed", logx.String("path", path))
	m.publish(eventbus.TypeWatchArmed)
	return nil
}

// Rearm releases the current registration and arms path again. The old
// registration may already be invalid (the kernel drops the watch when
// the inode disappears); releasing it then is not an error.
func (m *Manager) Rearm() error {
	if m.path == "" {
		return errors.New("rearm: watch was never armed")
	}
	if err := m.w.Remove(m.path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		m.log.Debug("release stale watch", logx.String("path", m.path), logx.Err(err))
	}
	if err := m.w.Add(m.path); err != nil {
		return fmt.Errorf("rearm watch on %s: %w", m.path, err)
	}
	m.log.Info("watch rearmed", logx.String("path", m.path))
	m.publish(eventbus.TypeWatchRearmed)
	return nil
}

// NextBatch blocks until at least one trackable event arrives, then
// drains every event that is already queued and returns them as one
// batch. This mirrors inotify's read-a-buffer semantics: events that
// arrive together are classified together, and the caller evaluates its
// thresholds once per batch, not once per event.
func (m *Manager) NextBatch(ctx context.Context) ([]Event, error) {
	var batch []Event
	for {
		// Block for the first event of the batch.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-m.w.Events:
			if !ok {
				return nil, ErrEventStreamClosed
			}
			if e, trackable := classify(ev); trackable {
				batch = append(batch, e)
			}
		case err, ok := <-m.w.Errors:
			if !ok {
				return nil, ErrEventStreamClosed
			}
			return nil, fmt.Errorf("read events: %w", err)
		}

		// Drain whatever arrived together with it.
	drain:
		for {
			select {
			case ev, ok := <-m.w.Events:
				if !ok {
					if len(batch) > 0 {
						return batch, nil
					}
					return nil, ErrEventStreamClosed
				}
				if e, trackable := classify(ev); trackable {
					batch = append(batch, e)
				}
			case err, ok := <-m.w.Errors:
				if !ok {
					if len(batch) > 0 {
						return batch, nil
					}
					return nil, ErrEventStreamClosed
				}
				return nil, fmt.Errorf("read events: %w", err)
			default:
				break drain
			}
		}

		// Everything in the queue was an op we don't track; go back to
		// blocking.
		if len(batch) > 0 {
			return batch, nil
		}
	}
}

func (m *Manager) Close() error {
	return m.w.Close()
}

func (m *Manager) publish(typ string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: m.path})
}
