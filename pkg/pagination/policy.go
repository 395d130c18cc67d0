package pagination

import (
	"fmt"
	"time"
)

// Policy holds the paging and backoff parameters.
type Policy struct {
	// PageSize is sent as page_size on every request.
	PageSize int

	// ThrottleBase is the wait after the first 429 in a row.
	ThrottleBase time.Duration

	// ThrottleStep is added for every further consecutive 429.
	ThrottleStep time.Duration

	// MaxThrottles is the number of consecutive 429s on one page that aborts
	// the partition.
	MaxThrottles int

	// Inter-page delays, chosen by the number of the next page.
	DelayFast      time.Duration
	DelayMedium    time.Duration
	DelaySlow      time.Duration
	MediumFromPage int
	SlowFromPage   int
}

// DefaultPolicy returns the policy tuned for the public LingQ API.
func DefaultPolicy() Policy {
	return Policy{
		PageSize:       50,
		ThrottleBase:   60 * time.Second,
		ThrottleStep:   30 * time.Second,
		MaxThrottles:   5,
		DelayFast:      1 * time.Second,
		DelayMedium:    2 * time.Second,
		DelaySlow:      3 * time.Second,
		MediumFromPage: 10,
		SlowFromPage:   50,
	}
}

// Validate checks the policy for values that would stall or spin the walk.
func (p Policy) Validate() error {
	if p.PageSize < 1 {
		return fmt.Errorf("page size must be >= 1 (got %d)", p.PageSize)
	}
	if p.MaxThrottles < 1 {
		return fmt.Errorf("max throttles must be >= 1 (got %d)", p.MaxThrottles)
	}
	if p.ThrottleBase < 0 || p.ThrottleStep < 0 {
		return fmt.Errorf("throttle backoff must not be negative")
	}
	if p.DelayFast < 0 || p.DelayMedium < 0 || p.DelaySlow < 0 {
		return fmt.Errorf("inter-page delays must not be negative")
	}
	if p.MediumFromPage > p.SlowFromPage {
		return fmt.Errorf("medium delay threshold %d is above slow threshold %d", p.MediumFromPage, p.SlowFromPage)
	}
	return nil
}

// Backoff returns the wait after the n-th consecutive 429 (1-indexed):
// ThrottleBase + ThrottleStep*(n-1).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.ThrottleBase + time.Duration(n-1)*p.ThrottleStep
}

// Exhausted reports whether n consecutive 429s use up the throttle budget.
func (p Policy) Exhausted(n int) bool {
	return n >= p.MaxThrottles
}

// InterPageDelay returns the pause before requesting page.
func (p Policy) InterPageDelay(page int) time.Duration {
	switch {
	case page < p.MediumFromPage:
		return p.DelayFast
	case page < p.SlowFromPage:
		return p.DelayMedium
	default:
		return p.DelaySlow
	}
}
