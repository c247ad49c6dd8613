package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sglre6355/notion-notify/internal/domain"
)

// Notifier delivers a single item through one channel.
type Notifier interface {
	Notify(ctx context.Context, item domain.Item) error
}

// Channel pairs a notifier with the name used in logs and errors.
type Channel struct {
	Name     string
	Notifier Notifier
}

// Dispatcher fans each new item out to the configured channels in order.
type Dispatcher struct {
	channels []Channel
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

// DispatcherOption configures optional dispatcher behaviour.
type DispatcherOption func(*Dispatcher)

// WithRateLimit paces dispatch to at most perSecond items per second. A
// non-positive value disables pacing.
func WithRateLimit(perSecond float64) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithChannelTimeout bounds each channel delivery.
func WithChannelTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDispatcherLogger overrides the logger used for delivery events.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher builds a dispatcher over channels. Channels are attempted in
// the given order.
func NewDispatcher(channels []Channel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels: channels,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		timeout:  30 * time.Second,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Channels returns the names of the configured channels in delivery order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name)
	}
	return names
}

// Dispatch delivers item to every channel. The first failing channel aborts
// the remaining channels for this item and is returned as a *domain.ChannelError.
func (d *Dispatcher) Dispatch(ctx context.Context, item domain.Item) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for dispatch slot: %w", err)
	}

	for _, ch := range d.channels {
		if err := d.deliver(ctx, ch, item); err != nil {
			return &domain.ChannelError{Channel: ch.Name, ItemID: item.ID, Err: err}
		}

		d.logger.DebugContext(
			ctx,
			"item delivered",
			slog.String("channel", ch.Name),
			slog.String("item", item.ID),
		)
	}

	return nil
}

// DispatchAll dispatches items in order and stops at the first failure. It
// returns how many items were fully delivered.
func (d *Dispatcher) DispatchAll(ctx context.Context, items domain.ResultSet) (int, error) {
	for i, item := range items {
		if err := d.Dispatch(ctx, item); err != nil {
			return i, err
		}
	}
	return len(items), nil
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, item domain.Item) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return ch.Notifier.Notify(ctx, item)
}
