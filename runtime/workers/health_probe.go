package workers

import (
	"context"
	"log/slog"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type StatusSetter interface {
	SetServing(serving bool)
}

// HealthProbe pings the message store and flips the serving status when
// it stops, or starts again, answering.
type HealthProbe struct {
	log      *slog.Logger
	store    Pinger
	status   StatusSetter
	interval time.Duration
	timeout  time.Duration
}

func NewHealthProbe(log *slog.Logger, store Pinger, status StatusSetter, interval time.Duration) *HealthProbe {
	return &HealthProbe{log: log, store: store, status: status, interval: interval, timeout: interval / 2}
}

func (w *HealthProbe) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	serving := w.probe(ctx)
	w.status.SetServing(serving)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next := w.probe(ctx)
			if next == serving {
				continue
			}
			serving = next
			w.status.SetServing(serving)
			if serving {
				w.log.Info("Message store is reachable again")
			} else {
				w.log.Warn("Message store is unreachable, reporting not serving")
			}
		}
	}
}

func (w *HealthProbe) probe(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.store.Ping(pingCtx); err != nil {
		w.log.Debug("Message store ping failed", "error", err)
		return false
	}
	return true
}
