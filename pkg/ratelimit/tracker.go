package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for shared throttle tracking.
var (
	cooldownRemainingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lingq_cooldown_remaining_seconds",
		Help: "Remaining shared cooldown observed before the last request",
	})

	throttleAnnouncementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lingq_throttle_announcements_total",
		Help: "Total number of 429 cooldowns announced to other processes",
	})
)

// stateTTL bounds how long a throttle state survives without new 429s.
const stateTTL = 24 * time.Hour

// burstWindow ends a throttle burst: a 429 arriving after this much quiet
// starts counting from one again.
const burstWindow = time.Hour

// Tracker reads and writes the shared throttle state of one account.
type Tracker struct {
	redis   *redis.Client
	account string
	logger  zerolog.Logger
}

// NewTracker creates a tracker for the account identified by account
// (typically cache.AccountFingerprint of the API key).
func NewTracker(redisClient *redis.Client, account string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:   redisClient,
		account: account,
		logger:  logger,
	}
}

// GetState retrieves the current throttle state from Redis.
// Returns an empty (not cooling down) state if none exists.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	if t.redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	data, err := t.redis.Get(ctx, StateKey(t.account)).Bytes()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No throttle state in Redis")
		return &ThrottleState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get throttle state: %w", err)
	}

	var state ThrottleState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse throttle state: %w", err)
	}
	return &state, nil
}

// RecordThrottle announces that language was throttled and that requests
// should pause for wait.
func (t *Tracker) RecordThrottle(ctx context.Context, language string, wait time.Duration) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	if state.Throttles > 0 && state.IsStale(burstWindow) {
		t.logger.Debug().Int64("previous_throttles", state.Throttles).Msg("Starting new throttle burst")
		state.Throttles = 0
	}
	state.Extend(time.Now(), wait, language)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal throttle state: %w", err)
	}

	if err := t.redis.Set(ctx, StateKey(t.account), data, stateTTL).Err(); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	throttleAnnouncementsTotal.Inc()
	t.logger.Info().
		Str("language", language).
		Dur("wait", wait).
		Time("cooldown_until", state.CooldownUntil).
		Int64("throttles", state.Throttles).
		Msg("Throttle cooldown announced")

	return nil
}

// CooldownRemaining returns how long the caller should wait before its next
// request because another process was throttled.
func (t *Tracker) CooldownRemaining(ctx context.Context) (time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return 0, err
	}

	remaining := state.Remaining()
	cooldownRemainingSeconds.Set(remaining.Seconds())

	if state.IsCoolingDown() {
		t.logger.Warn().
			Dur("remaining", remaining).
			Str("last_language", state.LastLanguage).
			Msg("Shared cooldown active")
	}
	return remaining, nil
}
