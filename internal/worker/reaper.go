// Package worker runs background maintenance for the live session registry.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/snake-arena/internal/config"
)

// SessionReaper ends live sessions that went quiet
type SessionReaper interface {
	EndIdleSessions(ctx context.Context, idle time.Duration) (int64, error)
}

// Reaper periodically ends playing sessions whose owner stopped sending
// updates
type Reaper struct {
	sessions SessionReaper
	config   *config.LiveConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewReaper creates a new idle session reaper
func NewReaper(sessions SessionReaper, cfg *config.LiveConfig, logger *slog.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background reap loop. It does nothing when the idle
// timeout is zero.
func (w *Reaper) Start(ctx context.Context) {
	if w.config.IdleTimeout <= 0 {
		w.logger.Info("idle session reaper disabled")
		return
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("idle session reaper started",
		"interval", w.config.ReapInterval,
		"idle_timeout", w.config.IdleTimeout,
	)

	go w.run(ctx)
}

// Stop stops the background reap loop and waits for it to exit
func (w *Reaper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("idle session reaper stopped")
}

// run is the main worker loop
func (w *Reaper) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single reap cycle
func (w *Reaper) RunOnce(ctx context.Context) {
	ended, err := w.sessions.EndIdleSessions(ctx, w.config.IdleTimeout)
	if err != nil {
		w.logger.Error("failed to end idle sessions", "error", err)
		return
	}
	if ended > 0 {
		w.logger.Info("ended idle sessions", "count", ended)
	}
}
