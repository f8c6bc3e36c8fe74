package workers

import (
	"context"
	"log/slog"
	"os"
	goruntime "runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// RoomStats is what the stats reporter needs from the registry.
type RoomStats interface {
	Stats() (rooms int, connections int)
}

// StatsReporter logs the room and connection counts together with the
// resource usage of the process.
type StatsReporter struct {
	log            *slog.Logger
	rooms          RoomStats
	metricInterval time.Duration
}

func NewStatsReporter(log *slog.Logger, rooms RoomStats, metricInterval time.Duration) *StatsReporter {
	return &StatsReporter{log: log, rooms: rooms, metricInterval: metricInterval}
}

func (w *StatsReporter) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats reporter")
			return nil
		case <-ticker.C:
			rooms, connections := w.rooms.Stats()
			attrs := []any{
				"rooms", rooms,
				"connections", connections,
				"goroutines", goruntime.NumGoroutine(),
			}
			if mem, err := p.MemoryInfo(); err == nil {
				attrs = append(attrs, "rss_mb", mem.RSS/1024/1024)
			}
			if cpu, err := p.CPUPercent(); err == nil {
				attrs = append(attrs, "cpu_percent", cpu)
			}
			w.log.Info("Chat stats", attrs...)
		}
	}
}
