package enginemanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher reloads a Manager from its store on a cron schedule, so replicas
// converge on changes made through other instances.
type Refresher struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	mu       sync.Mutex
	running  bool
}

// NewRefresher validates the schedule. Standard five-field expressions and
// descriptors such as "@every 30s" are accepted.
func NewRefresher(manager *Manager, schedule string, logger *slog.Logger) (*Refresher, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		manager:  manager,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "enginemanager.refresher"),
	}, nil
}

// Start schedules the refresh job. It stops when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, r.refresh); err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("decision set refresh scheduled", "schedule", r.schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

func (r *Refresher) refresh() {
	start := time.Now()
	if err := r.manager.Refresh(); err != nil {
		// previous engines keep serving
		r.logger.Error("scheduled refresh failed", "error", err)
		return
	}
	r.logger.Debug("scheduled refresh completed", "served", len(r.manager.List()), "elapsed", time.Since(start))
}

// Stop waits for a running refresh to finish
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	r.logger.Info("decision set refresh stopped")
}

// NextRun returns the next scheduled refresh, or nil when not running
func (r *Refresher) NextRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
