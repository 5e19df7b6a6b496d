package storage

import (
	"context"
	"time"

	"logsentry/internal/eventbus"
	"logsentry/internal/monitor"
	"logsentry/pkg/logx"
)

// Recorder appends alert events from the bus to the store. It runs as
// its own goroutine so a slow disk never backs up the monitor loop (the
// bus drops on slow subscribers by contract).
//
// The subscription is taken in NewRecorder, not in Run: alerts
// published between construction and the goroutine actually starting
// buffer in the subscription channel instead of being dropped.
type Recorder struct {
	store     Store
	log       logx.Logger
	recipient string

	ch    <-chan eventbus.Event
	unsub func()
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger, recipient string) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{store: store, log: log, recipient: recipient}
	if store != nil && bus != nil {
		r.ch, r.unsub = bus.Subscribe(32)
	}
	return r
}

func (r *Recorder) Run(ctx context.Context) error {
	if r.ch == nil {
		<-ctx.Done()
		return nil
	}
	defer r.unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeAlertSent && ev.Type != eventbus.TypeAlertFailed {
				continue
			}
			ae, ok := ev.Data.(monitor.AlertEvent)
			if !ok {
				continue
			}
			rec := AlertRecord{
				At:         ae.At,
				LogID:      ae.LogID,
				Recipient:  r.recipient,
				OK:         ae.OK,
				Error:      ae.Error,
				EventCount: ae.EventCount,
			}
			wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.store.AppendAlert(wctx, rec); err != nil {
				r.log.Warn("append alert record failed", logx.Err(err))
			}
			cancel()
		}
	}
}
