// Package dispatch delivers generated replies: it simulates typing for a
// duration proportional to the reply length, then sends with bounded retry.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/limmweb/vk-messager/internal/backoff"
)

const (
	// typingCharsPerSecond converts reply length to a typing duration.
	typingCharsPerSecond = 3

	// typingRefresh is how often the typing indicator is re-armed while the
	// simulated typing window is open. The indicator itself fades after
	// roughly ten seconds server-side.
	typingRefresh = 5 * time.Second

	// maxSendAttempts bounds delivery retries for one reply.
	maxSendAttempts = 3
)

// Transport is the messenger surface the dispatcher needs.
type Transport interface {
	Send(ctx context.Context, peerID int64, text string, randomID int64) error
	SetTyping(ctx context.Context, peerID int64) error
}

// Config configures a Dispatcher.
type Config struct {
	Transport Transport
	Backoff   backoff.Policy
	Sleeper   backoff.Sleeper
	Logger    *slog.Logger

	// now supplies send idempotency keys. Overridable in tests.
	now func() time.Time
}

// Validate applies defaults and checks required fields.
func (c *Config) Validate() error {
	if c.Transport == nil {
		return fmt.Errorf("dispatch: transport is required")
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.DefaultPolicy()
	}
	if c.Sleeper == nil {
		c.Sleeper = backoff.RealSleeper()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return nil
}

// Dispatcher sends replies to peers.
type Dispatcher struct {
	cfg Config
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Deliver sanitizes the reply, holds the typing indicator for a
// length-derived duration, then sends it. Typing failures are logged and
// ignored; only the send itself is retried, and its error is returned.
func (d *Dispatcher) Deliver(ctx context.Context, peerID int64, reply string) error {
	text := Sanitize(reply)
	if text == "" {
		return fmt.Errorf("dispatch: empty reply for peer %d", peerID)
	}

	if err := d.simulateTyping(ctx, peerID, text); err != nil {
		return err
	}

	randomID := d.cfg.now().UnixMilli()
	_, err := backoff.Retry(ctx, d.cfg.Backoff, maxSendAttempts, d.cfg.Sleeper,
		func(attempt int) (struct{}, error) {
			err := d.cfg.Transport.Send(ctx, peerID, text, randomID)
			if err != nil {
				d.cfg.Logger.Warn("send failed",
					slog.Int64("peer", peerID),
					slog.Int("attempt", attempt),
					slog.Any("error", err))
			}
			return struct{}{}, err
		})
	return err
}

// simulateTyping keeps the typing indicator lit for len(text)/3 seconds,
// re-arming it every few seconds. Returns early only on context cancellation.
func (d *Dispatcher) simulateTyping(ctx context.Context, peerID int64, text string) error {
	remaining := time.Duration(len([]rune(text))/typingCharsPerSecond) * time.Second
	for remaining > 0 {
		if err := d.cfg.Transport.SetTyping(ctx, peerID); err != nil {
			d.cfg.Logger.Warn("typing indicator failed",
				slog.Int64("peer", peerID),
				slog.Any("error", err))
		}
		step := typingRefresh
		if remaining < step {
			step = remaining
		}
		if err := d.cfg.Sleeper.Sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return nil
}

// Sanitize strips markdown bold markers the completion model tends to emit
// despite instructions, and trims surrounding whitespace.
func Sanitize(reply string) string {
	return strings.TrimSpace(strings.ReplaceAll(reply, "**", ""))
}
