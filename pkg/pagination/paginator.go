package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/lingq-export/pkg/client"
	"github.com/Sternrassler/lingq-export/pkg/lingq"
	"github.com/Sternrassler/lingq-export/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for page walks.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_pages_fetched_total",
		Help: "Total non-empty pages accepted by language",
	}, []string{"language"})

	recordsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_records_fetched_total",
		Help: "Total records accepted by language",
	}, []string{"language"})

	duplicateRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_duplicate_records_total",
		Help: "Total records dropped because their id was already accepted",
	}, []string{"language"})

	throttlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_throttles_total",
		Help: "Total 429 responses by language",
	}, []string{"language"})

	throttleBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lingq_throttle_backoff_seconds",
		Help:    "Backoff slept after a 429",
		Buckets: []float64{30, 60, 90, 120, 150, 180, 240},
	})

	partitionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_partition_outcomes_total",
		Help: "Finished partition walks by terminal state",
	}, []string{"state"})
)

// ErrThrottleBudgetExhausted is the abort cause when too many consecutive
// 429s were received for the same page.
var ErrThrottleBudgetExhausted = errors.New("throttle budget exhausted")

// State is a state of the page walk.
type State string

const (
	StateFetching  State = "fetching"
	StateThrottled State = "throttled"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// Terminal reports whether the walk stops in this state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// PageFetcher is implemented by client.Client.
type PageFetcher interface {
	FetchPage(ctx context.Context, language string, page, pageSize int) (*lingq.Page, error)
}

// ThrottleSignal shares cooldowns with other processes using the same
// account. Implemented by ratelimit.Tracker.
type ThrottleSignal interface {
	RecordThrottle(ctx context.Context, language string, wait time.Duration) error
	CooldownRemaining(ctx context.Context) (time.Duration, error)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Progress is reported after every accepted page and before every backoff.
type Progress struct {
	Language string
	Page     int
	Records  int
	State    State
	Wait     time.Duration
}

// Observer receives progress reports. It must not block for long.
type Observer func(Progress)

// Result is everything retrieved for one language.
type Result struct {
	Language string
	Records  []lingq.Record

	// State is StateDone or StateAborted.
	State State

	// Complete is true when the server ran out of pages.
	Complete bool

	// PagesFetched counts accepted non-empty pages.
	PagesFetched int

	// Requests counts every request issued, including throttled ones.
	Requests int

	// Throttles counts every 429 received.
	Throttles int

	// Duplicates counts records dropped because their id was already accepted.
	Duplicates int

	// LastPage is the page number the walk stopped on.
	LastPage int

	// Err is the abort cause; nil when Complete.
	Err error

	Duration time.Duration
}

// Paginator fetches all pages of a language, one request at a time.
type Paginator struct {
	fetcher  PageFetcher
	policy   Policy
	sleep    Sleeper
	signal   ThrottleSignal
	observer Observer
	logger   zerolog.Logger
}

// Option configures a Paginator.
type Option func(*Paginator)

// WithSleeper replaces the real-time sleeper.
func WithSleeper(s Sleeper) Option {
	return func(p *Paginator) { p.sleep = s }
}

// WithThrottleSignal shares 429 cooldowns with other processes.
func WithThrottleSignal(s ThrottleSignal) Option {
	return func(p *Paginator) { p.signal = s }
}

// WithObserver registers a progress callback.
func WithObserver(o Observer) Option {
	return func(p *Paginator) { p.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Paginator) { p.logger = l }
}

// New creates a paginator. Zero policy fields fall back to DefaultPolicy.
func New(fetcher PageFetcher, policy Policy, opts ...Option) *Paginator {
	def := DefaultPolicy()
	if policy.PageSize <= 0 {
		policy.PageSize = def.PageSize
	}
	if policy.MaxThrottles <= 0 {
		policy.MaxThrottles = def.MaxThrottles
	}
	if policy.MediumFromPage <= 0 {
		policy.MediumFromPage = def.MediumFromPage
	}
	if policy.SlowFromPage <= 0 {
		policy.SlowFromPage = def.SlowFromPage
	}
	if policy.ThrottleBase <= 0 {
		policy.ThrottleBase = def.ThrottleBase
	}
	if policy.ThrottleStep <= 0 {
		policy.ThrottleStep = def.ThrottleStep
	}
	if policy.DelayFast <= 0 {
		policy.DelayFast = def.DelayFast
	}
	if policy.DelayMedium <= 0 {
		policy.DelayMedium = def.DelayMedium
	}
	if policy.DelaySlow <= 0 {
		policy.DelaySlow = def.DelaySlow
	}

	p := &Paginator{
		fetcher: fetcher,
		policy:  policy,
		sleep:   ContextSleep,
		logger:  logging.NewLogger("paginator"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the effective policy.
func (p *Paginator) Policy() Policy {
	return p.policy
}

// walk is the mutable state of one Fetch call.
type walk struct {
	p      *Paginator
	ctx    context.Context
	result *Result
	logger zerolog.Logger

	page      int
	throttles int
	lastErr   error
	seen      map[int64]struct{}
}

// Fetch walks every page of language and returns what was retrieved. It never
// returns an error: failures end the walk in StateAborted with Result.Err set.
func (p *Paginator) Fetch(ctx context.Context, language string) *Result {
	start := time.Now()

	w := &walk{
		p:      p,
		ctx:    ctx,
		result: &Result{Language: language, Records: []lingq.Record{}},
		logger: p.logger.With().Str("language", language).Logger(),
		page:   1,
		seen:   make(map[int64]struct{}),
	}

	w.logger.Info().Int("page_size", p.policy.PageSize).Msg("Starting page walk")

	state := StateFetching
	for !state.Terminal() {
		switch state {
		case StateFetching:
			state = w.fetching()
		case StateThrottled:
			state = w.throttled()
		default:
			panic(fmt.Sprintf("pagination: unknown state %q", state))
		}
	}

	res := w.result
	res.State = state
	res.Complete = state == StateDone
	res.LastPage = w.page
	res.Duration = time.Since(start)

	partitionOutcomesTotal.WithLabelValues(string(state)).Inc()

	event := w.logger.Info()
	if !res.Complete {
		event = w.logger.Warn().Err(res.Err)
	}
	event.
		Str("state", string(state)).
		Int("records", len(res.Records)).
		Int("pages", res.PagesFetched).
		Int("requests", res.Requests).
		Int("throttles", res.Throttles).
		Dur("duration", res.Duration).
		Msg("Page walk finished")

	return res
}

// fetching requests the current page and decides the next state.
func (w *walk) fetching() State {
	if err := w.awaitCooldown(); err != nil {
		return w.abort(err)
	}

	w.result.Requests++
	page, err := w.p.fetcher.FetchPage(w.ctx, w.result.Language, w.page, w.p.policy.PageSize)
	if err != nil {
		if client.IsRateLimited(err) {
			w.lastErr = err
			return StateThrottled
		}
		w.logger.Error().Err(err).Int("page", w.page).Msg("Page fetch failed")
		return w.abort(fmt.Errorf("fetch page %d: %w", w.page, err))
	}

	w.throttles = 0

	if len(page.Results) == 0 {
		w.logger.Debug().Int("page", w.page).Msg("Empty page, walk complete")
		return StateDone
	}

	w.accept(page.Results)
	w.result.PagesFetched++
	pagesFetchedTotal.WithLabelValues(w.result.Language).Inc()

	w.logger.Info().
		Int("page", w.page).
		Int("records", len(w.result.Records)).
		Int("total", page.Count).
		Msg("Page accepted")
	w.report(StateFetching, 0)

	if !page.HasNext() {
		return StateDone
	}

	w.page++
	if err := w.p.sleep(w.ctx, w.p.policy.InterPageDelay(w.page)); err != nil {
		return w.abort(err)
	}
	return StateFetching
}

// throttled applies the backoff for the same page or gives up.
func (w *walk) throttled() State {
	w.throttles++
	w.result.Throttles++
	throttlesTotal.WithLabelValues(w.result.Language).Inc()

	if w.p.policy.Exhausted(w.throttles) {
		w.logger.Error().
			Int("page", w.page).
			Int("throttles", w.throttles).
			Msg("Too many rate limit errors, stopping")
		return w.abort(fmt.Errorf("%w: %d consecutive 429 responses on page %d: %v",
			ErrThrottleBudgetExhausted, w.throttles, w.page, w.lastErr))
	}

	wait := w.p.policy.Backoff(w.throttles)
	throttleBackoffSeconds.Observe(wait.Seconds())

	event := w.logger.Warn().
		Int("page", w.page).
		Int("throttles", w.throttles).
		Dur("wait", wait)
	var apiErr *client.APIError
	if errors.As(w.lastErr, &apiErr) && apiErr.RetryAfter > 0 {
		event = event.Dur("retry_after", apiErr.RetryAfter)
	}
	event.Msg("Rate limited, backing off")

	if w.p.signal != nil {
		if err := w.p.signal.RecordThrottle(w.ctx, w.result.Language, wait); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to announce throttle cooldown")
		}
	}

	w.report(StateThrottled, wait)

	if err := w.p.sleep(w.ctx, wait); err != nil {
		return w.abort(err)
	}
	return StateFetching
}

// awaitCooldown honours a cooldown announced by another process.
func (w *walk) awaitCooldown() error {
	if w.p.signal == nil {
		return nil
	}

	remaining, err := w.p.signal.CooldownRemaining(w.ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Shared cooldown unavailable, continuing")
		return nil
	}
	if remaining <= 0 {
		return nil
	}

	w.logger.Info().Dur("wait", remaining).Int("page", w.page).Msg("Waiting for shared cooldown")
	return w.p.sleep(w.ctx, remaining)
}

// accept appends records, dropping ids that were already accepted.
func (w *walk) accept(records []lingq.Record) {
	for _, rec := range records {
		if _, dup := w.seen[rec.ID]; dup {
			w.result.Duplicates++
			duplicateRecordsTotal.WithLabelValues(w.result.Language).Inc()
			continue
		}
		w.seen[rec.ID] = struct{}{}
		w.result.Records = append(w.result.Records, rec)
		recordsFetchedTotal.WithLabelValues(w.result.Language).Inc()
	}
}

func (w *walk) abort(err error) State {
	w.result.Err = err
	return StateAborted
}

func (w *walk) report(state State, wait time.Duration) {
	if w.p.observer == nil {
		return
	}
	w.p.observer(Progress{
		Language: w.result.Language,
		Page:     w.page,
		Records:  len(w.result.Records),
		State:    state,
		Wait:     wait,
	})
}
