package collector

import (
	"time"

	"github.com/Sternrassler/lingq-export/pkg/pagination"
)

// Summary is the outcome of a collection run.
type Summary struct {
	Method    Method
	Languages []string

	// Results holds one entry per started partition, in resolution order.
	Results []*pagination.Result

	// NotStarted lists partitions skipped because the run was cancelled.
	NotStarted []string

	Started  time.Time
	Finished time.Time
}

// Total returns the number of records across all partitions.
func (s *Summary) Total() int {
	total := 0
	for _, r := range s.Results {
		total += len(r.Records)
	}
	return total
}

// Incomplete returns the partitions that must be retried: aborted ones
// followed by those never started.
func (s *Summary) Incomplete() []string {
	out := []string{}
	for _, r := range s.Results {
		if !r.Complete {
			out = append(out, r.Language)
		}
	}
	return append(out, s.NotStarted...)
}

// Complete reports whether every resolved partition ran to its last page.
func (s *Summary) Complete() bool {
	return len(s.Incomplete()) == 0
}

// Result returns the result for language, or nil.
func (s *Summary) Result(language string) *pagination.Result {
	for _, r := range s.Results {
		if r.Language == language {
			return r
		}
	}
	return nil
}
