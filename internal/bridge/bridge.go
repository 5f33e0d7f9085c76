// Package bridge runs the event loop that ties the messenger to the
// completion gateway: it polls for events, screens them, produces a reply per
// admitted conversation, and settles the usage ledgers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/limmweb/vk-messager/internal/accounting"
	"github.com/limmweb/vk-messager/internal/backoff"
	"github.com/limmweb/vk-messager/internal/dossier"
	"github.com/limmweb/vk-messager/internal/prompt"
	"github.com/limmweb/vk-messager/internal/vk"
	"github.com/limmweb/vk-messager/pkg/models"
)

// Transport is the messenger surface the bridge drives.
type Transport interface {
	AcquireCursor(ctx context.Context) (vk.Cursor, error)
	FetchBatch(ctx context.Context, cursor vk.Cursor) (vk.Batch, vk.Cursor, error)
	History(ctx context.Context, peerID int64, count int) ([]vk.HistoryMessage, error)
	ChatMembers(ctx context.Context, peerID int64) ([]int64, error)
	Profile(ctx context.Context, userID int64) (*vk.Profile, error)
}

// Completer produces one reply for an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, turns []models.Turn) (string, models.Usage, error)
}

// Deliverer sends one reply to a peer.
type Deliverer interface {
	Deliver(ctx context.Context, peerID int64, reply string) error
}

// DossierSync persists a freshly fetched partner profile.
type DossierSync interface {
	Sync(profile *vk.Profile) (*dossier.Record, error)
}

// Recorder settles one reply's usage across the ledgers.
type Recorder interface {
	Record(entry accounting.Entry) error
}

// Config wires a Bridge.
type Config struct {
	Transport  Transport
	Self       vk.Identity
	Assembler  *prompt.Assembler
	Completer  Completer
	Dispatcher Deliverer
	Dossiers   DossierSync
	Accounting Recorder
	Metrics    *Metrics
	Backoff    backoff.Policy
	Sleeper    backoff.Sleeper
	Logger     *slog.Logger

	now func() time.Time
}

// Validate applies defaults and checks required fields.
func (c *Config) Validate() error {
	if c.Transport == nil {
		return fmt.Errorf("bridge: transport is required")
	}
	if c.Self.ID == 0 {
		return fmt.Errorf("bridge: account identity is required")
	}
	if c.Assembler == nil {
		return fmt.Errorf("bridge: prompt assembler is required")
	}
	if c.Completer == nil {
		return fmt.Errorf("bridge: completer is required")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("bridge: dispatcher is required")
	}
	if c.Dossiers == nil {
		return fmt.Errorf("bridge: dossier store is required")
	}
	if c.Accounting == nil {
		return fmt.Errorf("bridge: accounting sink is required")
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
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

// Bridge is the long-poll event loop.
type Bridge struct {
	cfg    Config
	filter *EventFilter
	guard  *Guard
}

// New creates a Bridge.
func New(cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bridge{
		cfg:    cfg,
		filter: NewEventFilter(cfg.Transport, cfg.Self),
		guard:  NewGuard(),
	}, nil
}

// Run drives the loop until the context is cancelled. Every mid-stream
// failure is cured the same way: log it and re-acquire the cursor with
// backoff. An error page from the long-poll server must not end a long-lived
// daemon; only cancellation does.
func (b *Bridge) Run(ctx context.Context) error {
	refresh := backoff.NewState(b.cfg.Backoff)
	for {
		cursor, err := b.acquireCursor(ctx, refresh)
		if err != nil {
			return err
		}
		refresh.Reset()

		err = b.poll(ctx, cursor)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, vk.ErrCursorExpired):
			b.cfg.Metrics.CursorRefreshes.Inc()
			b.cfg.Logger.Info("long poll cursor expired, re-acquiring")
		default:
			b.cfg.Metrics.CursorRefreshes.Inc()
			b.cfg.Logger.Warn("long poll stream failed, re-acquiring", slog.Any("error", err))
		}
	}
}

// acquireCursor retries cursor acquisition until it succeeds. Every failure
// mode here (connectivity, temporary API errors, malformed answers) is cured
// the same way: wait and ask for a fresh cursor.
func (b *Bridge) acquireCursor(ctx context.Context, state *backoff.State) (vk.Cursor, error) {
	for {
		if err := ctx.Err(); err != nil {
			return vk.Cursor{}, err
		}
		cursor, err := b.cfg.Transport.AcquireCursor(ctx)
		if err == nil {
			return cursor, nil
		}
		delay := state.Next()
		b.cfg.Logger.Warn("cursor acquisition failed",
			slog.Any("error", err),
			slog.Duration("retry_in", delay))
		if err := b.cfg.Sleeper.Sleep(ctx, delay); err != nil {
			return vk.Cursor{}, err
		}
	}
}

func (b *Bridge) poll(ctx context.Context, cursor vk.Cursor) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, next, err := b.cfg.Transport.FetchBatch(ctx, cursor)
		if err != nil {
			return err
		}
		cursor = next
		for _, update := range batch.Updates {
			b.handleEvent(ctx, update)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, update vk.Update) {
	if !update.IsMessage() {
		b.cfg.Metrics.EventsReceived.WithLabelValues("other").Inc()
		b.cfg.Metrics.EventsDropped.WithLabelValues(DropNonMessage).Inc()
		return
	}
	b.cfg.Metrics.EventsReceived.WithLabelValues("message").Inc()

	logger := b.cfg.Logger.With(
		slog.String("trace", uuid.NewString()),
		slog.Int64("peer", update.PeerID))

	verdict, err := b.filter.Screen(ctx, update)
	if err != nil {
		logger.Error("event screening failed", slog.Any("error", err))
		b.cfg.Metrics.EventsDropped.WithLabelValues("error").Inc()
		return
	}
	if !verdict.Accepted() {
		logger.Debug("event dropped", slog.String("reason", verdict.DropReason))
		b.cfg.Metrics.EventsDropped.WithLabelValues(verdict.DropReason).Inc()
		return
	}

	if !b.guard.TryAdmit(update.PeerID) {
		logger.Info("event dropped", slog.String("reason", DropBusy))
		b.cfg.Metrics.EventsDropped.WithLabelValues(DropBusy).Inc()
		return
	}

	// Events are processed one at a time: the poll loop does not fetch the
	// next batch until this reply (typing simulation included) has settled.
	// A peer's follow-up message therefore lands in a later batch and gets
	// its own reply; the guard only trips if admission paths ever overlap.
	b.cfg.Metrics.InFlight.Inc()
	defer b.cfg.Metrics.InFlight.Dec()
	defer b.guard.Release(update.PeerID)
	b.produceReply(ctx, logger, update.PeerID, verdict.Originator)
}

// produceReply runs the full per-conversation pipeline: profile sync, context
// assembly, completion, delivery, accounting. Failures are logged; the
// conversation simply goes unanswered this round.
func (b *Bridge) produceReply(ctx context.Context, logger *slog.Logger, peerID, originator int64) {
	profile, err := b.cfg.Transport.Profile(ctx, originator)
	if err != nil {
		logger.Error("partner profile fetch failed", slog.Any("error", err))
		b.cfg.Metrics.EventsDropped.WithLabelValues("error").Inc()
		return
	}
	if _, err := b.cfg.Dossiers.Sync(profile); err != nil {
		logger.Error("dossier sync failed", slog.Any("error", err))
	}

	recipient := models.Party{ID: profile.ID, Name: profile.DisplayName()}
	if profile.Unavailable() {
		logger.Info("partner unavailable, reply skipped")
		b.cfg.Metrics.EventsDropped.WithLabelValues(DropUnavailable).Inc()
		b.settle(logger, recipient, "partner unavailable, reply skipped", models.Usage{})
		return
	}

	history, err := b.cfg.Transport.History(ctx, peerID, b.cfg.Assembler.HistoryLimit())
	if err != nil {
		logger.Error("history fetch failed", slog.Any("error", err))
		b.cfg.Metrics.EventsDropped.WithLabelValues("error").Inc()
		return
	}
	if len(history) == 0 {
		logger.Info("history empty, reply skipped")
		b.cfg.Metrics.EventsDropped.WithLabelValues(DropEmptyHistory).Inc()
		return
	}

	turns := b.cfg.Assembler.Assemble(history, profile.Snippet())
	reply, usage, err := b.cfg.Completer.Complete(ctx, turns)
	if err != nil {
		logger.Error("completion failed", slog.Any("error", err))
		b.cfg.Metrics.EventsDropped.WithLabelValues("error").Inc()
		return
	}

	if err := b.cfg.Dispatcher.Deliver(ctx, peerID, reply); err != nil {
		logger.Error("reply delivery failed", slog.Any("error", err))
		b.cfg.Metrics.EventsDropped.WithLabelValues("error").Inc()
		return
	}

	b.cfg.Metrics.RepliesSent.Inc()
	b.cfg.Metrics.TokensUsed.WithLabelValues("input").Add(float64(usage.InputTokens))
	b.cfg.Metrics.TokensUsed.WithLabelValues("output").Add(float64(usage.OutputTokens))
	logger.Info("reply delivered",
		slog.Int64("tokens", usage.TotalTokens),
		slog.Float64("cost", usage.Cost))

	b.settle(logger, recipient, reply, usage)
}

func (b *Bridge) settle(logger *slog.Logger, recipient models.Party, message string, usage models.Usage) {
	entry := accounting.Entry{
		Timestamp:  b.cfg.now(),
		Account:    models.Party{ID: b.cfg.Self.ID, Name: b.cfg.Self.Name},
		Recipient:  recipient,
		EntityType: b.cfg.Self.EntityType(),
		Message:    message,
		Usage:      usage,
	}
	if err := b.cfg.Accounting.Record(entry); err != nil {
		logger.Error("accounting failed", slog.Any("error", err))
	}
}
