// Package presence keeps the account marked online while the event loop runs.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often the online mark is refreshed. The server-side
// mark holds for several minutes, so five is comfortably inside the window.
const DefaultInterval = 5 * time.Minute

// Marker refreshes the online mark once.
type Marker interface {
	SetOnline(ctx context.Context) error
}

// Keeper periodically refreshes the online mark in the background. Failures
// are logged and skipped; the next tick tries again.
type Keeper struct {
	marker   Marker
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewKeeper creates a keeper. A zero interval selects DefaultInterval.
func NewKeeper(marker Marker, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		marker:   marker,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the refresh loop. The mark is set once immediately, then on
// every interval tick. Calling Start on a running keeper is a no-op.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return
	}
	k.running = true
	k.stopCh = make(chan struct{})
	k.mu.Unlock()

	go k.run(ctx)
}

// Stop halts the refresh loop.
func (k *Keeper) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return
	}
	close(k.stopCh)
	k.running = false
}

// RunOnce refreshes the mark immediately, outside the loop schedule.
func (k *Keeper) RunOnce(ctx context.Context) {
	if err := k.marker.SetOnline(ctx); err != nil {
		k.logger.Warn("online mark refresh failed", slog.Any("error", err))
	}
}

func (k *Keeper) run(ctx context.Context) {
	k.RunOnce(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.RunOnce(ctx)
		case <-k.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
