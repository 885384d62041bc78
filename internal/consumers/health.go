package consumers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/metrics"
)

// Health reports events-per-second, per-subscriber queue depths, total
// drops, and host CPU/memory utilization on a fixed interval.
type Health struct {
	log      zerolog.Logger
	bus      *bus.Bus
	interval time.Duration

	received  int64
	lastDrops int64
}

// NewHealth builds a Health consumer. interval<=0 defaults to 15s, matching
// the default metrics flush cadence.
func NewHealth(b *bus.Bus, interval time.Duration, log zerolog.Logger) *Health {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Health{log: log, bus: b, interval: interval}
}

// Run consumes from sub to count throughput and separately ticks every
// interval to emit the health summary, until ctx is done.
func (h *Health) Run(ctx context.Context, sub *bus.Subscription) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	events := make(chan struct{})
	go func() {
		defer close(events)
		for {
			_, err := sub.Receive(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrUnsubscribed) {
					h.log.Warn().Err(err).Msg("health subscription ended")
				}
				return
			}
			h.received++
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-ticker.C:
			h.report()
		}
	}
}

func (h *Health) report() {
	eventsPerSec := float64(h.received) / h.interval.Seconds()
	h.received = 0
	metrics.EventsPerSecond.Set(eventsPerSec)

	subEvent := h.log.Info().Float64("events_per_sec", eventsPerSec)
	for _, sub := range h.bus.Subscriptions() {
		metrics.QueueDepth.WithLabelValues(sub.Name()).Set(float64(sub.Depth()))
	}

	dropsTotal := h.bus.DropsTotal()
	subEvent = subEvent.Int64("drops_total", dropsTotal)
	metrics.DropsTotal.Add(float64(dropsTotal - h.lastDrops))
	h.lastDrops = dropsTotal

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		subEvent = subEvent.Float64("cpu_percent", pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		subEvent = subEvent.Float64("mem_used_percent", vm.UsedPercent)
	}
	subEvent.Msg("health")
}
