package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reloader periodically re-reads the store so edits made outside the dialogue
// (operator hand edits, another writer on a shared backend) reach routing
// without waiting for the next dialogue mutation.
type Reloader struct {
	cron     *cron.Cron
	registry *Registry
	interval time.Duration
}

// NewReloader schedules a reload every interval.
func NewReloader(registry *Registry, interval time.Duration) (*Reloader, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reload interval must be positive, got %s", interval)
	}

	r := &Reloader{
		cron:     cron.New(),
		registry: registry,
		interval: interval,
	}

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), r.reload); err != nil {
		return nil, fmt.Errorf("schedule reload: %w", err)
	}
	return r, nil
}

// Start starts the schedule in its own goroutine.
func (r *Reloader) Start() {
	slog.Info("starting subscription reloader", "interval", r.interval)
	r.cron.Start()
}

// Stop stops the schedule and waits for a running reload to finish.
func (r *Reloader) Stop() {
	<-r.cron.Stop().Done()
	slog.Info("subscription reloader stopped")
}

func (r *Reloader) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if err := r.registry.Reload(ctx); err != nil {
		slog.Error("scheduled subscription reload failed", "error", err)
	}
}
