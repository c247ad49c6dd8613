package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sony/gobreaker"

	"github.com/sglre6355/notion-notify/internal/domain"
)

// Source returns the current contents of the polled database.
type Source interface {
	Fetch(ctx context.Context) (domain.ResultSet, error)
}

// ItemDispatcher delivers a batch of new items, returning how many were fully delivered.
type ItemDispatcher interface {
	DispatchAll(ctx context.Context, items domain.ResultSet) (int, error)
}

// CycleErrorStage indicates which step of a poll cycle failed.
type CycleErrorStage string

const (
	// CycleErrorStageFetch marks failures while querying the source.
	CycleErrorStageFetch CycleErrorStage = "fetch"
	// CycleErrorStageDispatch marks failures while delivering new items.
	CycleErrorStageDispatch CycleErrorStage = "dispatch"
)

// CycleErrorHandler is invoked whenever a poll cycle fails, before the
// failure budget decides whether polling continues. It is not invoked for
// failures caused by cancellation of the poller's context.
type CycleErrorHandler func(CycleErrorStage, error)

// PollState is the last known result set, carried from one cycle to the next.
type PollState struct {
	Items     domain.ResultSet
	FetchedAt time.Time
}

// CycleReport summarises a completed poll cycle.
type CycleReport struct {
	ID        string
	Fetched   int
	New       int
	Delivered int
}

// Poller drives the fetch, diff, dispatch and sleep loop.
type Poller struct {
	source     Source
	dispatcher ItemDispatcher

	nowFn    func() time.Time
	interval time.Duration
	budget   uint32
	onError  CycleErrorHandler
	logger   *slog.Logger
}

// PollerOption configures behavioural aspects of the poller.
type PollerOption func(*Poller)

// WithPollClock overrides the clock used to stamp poll state (useful for testing).
func WithPollClock(nowFn func() time.Time) PollerOption {
	return func(p *Poller) {
		if nowFn != nil {
			p.nowFn = nowFn
		}
	}
}

// WithPollInterval defines the pause between the end of one cycle and the start of the next.
func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithFailureBudget sets how many consecutive failed cycles are tolerated
// before Run gives up. The default of one makes every failure fatal.
func WithFailureBudget(failures uint32) PollerOption {
	return func(p *Poller) {
		if failures > 0 {
			p.budget = failures
		}
	}
}

// WithCycleErrorHandler registers the callback used when a cycle fails.
func WithCycleErrorHandler(handler CycleErrorHandler) PollerOption {
	return func(p *Poller) {
		if handler != nil {
			p.onError = handler
		}
	}
}

// WithPollerLogger overrides the logger used for cycle events.
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPoller builds a poller that reads from source and hands new items to dispatcher.
func NewPoller(source Source, dispatcher ItemDispatcher, opts ...PollerOption) *Poller {
	poller := &Poller{
		source:     source,
		dispatcher: dispatcher,
		nowFn:      time.Now,
		interval:   time.Minute,
		budget:     1,
		onError:    func(CycleErrorStage, error) {},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(poller)
	}

	return poller
}

// Bootstrap performs the initial fetch that seeds the poll state, so the
// first cycle does not report every existing record as new.
func (p *Poller) Bootstrap(ctx context.Context) (PollState, error) {
	if err := p.validate(); err != nil {
		return PollState{}, err
	}

	items, err := p.source.Fetch(ctx)
	if err != nil {
		return PollState{}, fmt.Errorf("bootstrap fetch: %w", err)
	}

	p.logger.InfoContext(ctx, "poll state seeded", slog.Int("items", len(items)))

	return PollState{Items: items, FetchedAt: p.nowFn()}, nil
}

// Cycle runs one fetch, diff and dispatch pass against prev. On success the
// returned state replaces prev entirely; on failure prev is returned unchanged.
func (p *Poller) Cycle(ctx context.Context, prev PollState) (PollState, CycleReport, error) {
	report := CycleReport{ID: cycleID()}
	logger := p.logger.With(slog.String("cycle", report.ID))

	current, err := p.source.Fetch(ctx)
	if err != nil {
		p.fail(ctx, CycleErrorStageFetch, err)
		return prev, report, fmt.Errorf("fetch: %w", err)
	}
	report.Fetched = len(current)

	fresh := NewItems(prev.Items, current)
	report.New = len(fresh)

	for _, item := range fresh {
		logger.InfoContext(ctx, "new item", slog.String("item", item.ID), slog.String("url", item.URL))
	}

	delivered, err := p.dispatcher.DispatchAll(ctx, fresh)
	report.Delivered = delivered
	if err != nil {
		p.fail(ctx, CycleErrorStageDispatch, err)
		return prev, report, fmt.Errorf("dispatch: %w", err)
	}

	logger.InfoContext(
		ctx,
		"cycle complete",
		slog.Int("fetched", report.Fetched),
		slog.Int("new", report.New),
		slog.Int("delivered", report.Delivered),
	)

	return PollState{Items: current, FetchedAt: p.nowFn()}, report, nil
}

// Run bootstraps the poll state and then cycles until ctx is cancelled or the
// failure budget is exhausted. Cancellation is a clean shutdown and returns nil.
func (p *Poller) Run(ctx context.Context) error {
	state, err := p.Bootstrap(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	breaker := p.newBreaker()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		next, report, err := p.guardedCycle(ctx, breaker, state)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if breaker.State() == gobreaker.StateOpen {
				return fmt.Errorf("cycle %s: %w", report.ID, err)
			}
			// The error itself already went to the cycle error handler.
			p.logger.InfoContext(
				ctx,
				"cycle will be retried after interval",
				slog.String("cycle", report.ID),
				slog.Int("delivered", report.Delivered),
				slog.Uint64("consecutive_failures", uint64(breaker.Counts().ConsecutiveFailures)),
				slog.Uint64("budget", uint64(p.budget)),
			)
		} else {
			state = next
		}

		timer.Reset(p.interval)
	}
}

func (p *Poller) guardedCycle(
	ctx context.Context,
	breaker *gobreaker.CircuitBreaker,
	prev PollState,
) (PollState, CycleReport, error) {
	var report CycleReport
	result, err := breaker.Execute(func() (interface{}, error) {
		next, r, err := p.Cycle(ctx, prev)
		report = r
		return next, err
	})
	if err != nil {
		return prev, report, err
	}

	next, ok := result.(PollState)
	if !ok {
		return prev, report, errors.New("unexpected result type from failure budget")
	}
	return next, report, nil
}

// fail reports err to the cycle error handler unless ctx was cancelled, in
// which case the failure is part of a clean shutdown.
func (p *Poller) fail(ctx context.Context, stage CycleErrorStage, err error) {
	if ctx.Err() != nil {
		return
	}
	p.onError(stage, err)
}

func (p *Poller) newBreaker() *gobreaker.CircuitBreaker {
	budget := p.budget
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "poll-cycle",
		// Once open the poller exits, so the breaker never needs to recover.
		Timeout: 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= budget
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Debug(
				"failure budget state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

func (p *Poller) validate() error {
	if p.source == nil {
		return fmt.Errorf("poller missing source dependency")
	}
	if p.dispatcher == nil {
		return fmt.Errorf("poller missing dispatcher dependency")
	}
	return nil
}

func cycleID() string {
	id, err := gonanoid.New(10)
	if err != nil {
		return "unknown"
	}
	return id
}
