// Package collector decides which languages to export and drains each of them
// through the paginator, one after another.
package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/lingq-export/pkg/lingq"
	"github.com/Sternrassler/lingq-export/pkg/logging"
	"github.com/Sternrassler/lingq-export/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for collection runs.
var (
	partitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_partitions_total",
		Help: "Partitions by outcome (complete, incomplete, skipped)",
	}, []string{"outcome"})

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_language_resolutions_total",
		Help: "Language resolutions by method",
	}, []string{"method"})

	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_language_probes_total",
		Help: "Fallback language probes by result (found, empty, error)",
	}, []string{"result"})
)

// CommonLanguages are probed when the account does not list its languages.
var CommonLanguages = []string{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh"}

// Method tells how the partition list was obtained.
type Method string

const (
	MethodExplicit Method = "explicit"
	MethodContexts Method = "contexts"
	MethodFallback Method = "fallback"
	MethodNone     Method = "none"
)

// Source lists what the account has. Implemented by client.Client.
type Source interface {
	Languages(ctx context.Context) ([]lingq.Language, error)
	Contexts(ctx context.Context) ([]lingq.UserContext, error)
	CountCards(ctx context.Context, language string) (int, error)
}

// Fetcher drains one partition. Implemented by pagination.Paginator.
type Fetcher interface {
	Fetch(ctx context.Context, language string) *pagination.Result
}

// Resolution is the ordered, duplicate-free partition list.
type Resolution struct {
	Languages []string
	Method    Method
}

// Collector runs a whole collection.
type Collector struct {
	source   Source
	fetcher  Fetcher
	fallback []string
	logger   zerolog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithFallbackLanguages replaces CommonLanguages as probe candidates.
func WithFallbackLanguages(languages []string) Option {
	return func(c *Collector) { c.fallback = languages }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a collector.
func New(source Source, fetcher Fetcher, opts ...Option) *Collector {
	c := &Collector{
		source:   source,
		fetcher:  fetcher,
		fallback: CommonLanguages,
		logger:   logging.NewLogger("collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve determines the partitions: the explicit list when given, else the
// languages of the user's contexts, else the common languages that hold at
// least one card. Finding nothing is not an error; only a done ctx is.
func (c *Collector) Resolve(ctx context.Context, explicit []string) (Resolution, error) {
	if languages := Normalize(explicit); len(languages) > 0 {
		return c.resolved(Resolution{Languages: languages, Method: MethodExplicit}), nil
	}

	languages, err := c.fromContexts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		c.logger.Warn().Err(err).Msg("Could not list user contexts, probing common languages")
	}
	if len(languages) > 0 {
		return c.resolved(Resolution{Languages: languages, Method: MethodContexts}), nil
	}

	languages, err = c.probe(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if len(languages) > 0 {
		return c.resolved(Resolution{Languages: languages, Method: MethodFallback}), nil
	}

	c.logger.Warn().Msg("No languages found for this account")
	return c.resolved(Resolution{Languages: []string{}, Method: MethodNone}), nil
}

func (c *Collector) resolved(r Resolution) Resolution {
	resolutionsTotal.WithLabelValues(string(r.Method)).Inc()
	c.logger.Info().
		Str("method", string(r.Method)).
		Strs("languages", r.Languages).
		Msg("Languages resolved")
	return r
}

// fromContexts maps the user's contexts to language codes. The languages
// listing is only requested when a context refers to its language by URL.
func (c *Collector) fromContexts(ctx context.Context) ([]string, error) {
	contexts, err := c.source.Contexts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}

	var lookup map[string]string
	for _, uc := range contexts {
		if uc.Language.Kind == lingq.LanguageRefURL {
			languages, err := c.source.Languages(ctx)
			if err != nil {
				c.logger.Warn().Err(err).Msg("Could not list languages, URL references stay unresolved")
				break
			}
			lookup = lingq.LanguageLookup(languages)
			break
		}
	}

	codes := make([]string, 0, len(contexts))
	for _, uc := range contexts {
		code, ok := uc.Language.Resolve(lookup)
		if !ok {
			c.logger.Debug().
				Int64("context", uc.PK).
				Str("kind", uc.Language.Kind.String()).
				Msg("Skipping context without resolvable language")
			continue
		}
		codes = append(codes, code)
	}
	return Normalize(codes), nil
}

// probe asks each fallback language for a single card.
func (c *Collector) probe(ctx context.Context) ([]string, error) {
	c.logger.Info().Strs("candidates", c.fallback).Msg("Probing common languages")

	found := []string{}
	for _, language := range Normalize(c.fallback) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		count, err := c.source.CountCards(ctx, language)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			probesTotal.WithLabelValues("error").Inc()
			c.logger.Debug().Err(err).Str("language", language).Msg("Probe failed")
		case count > 0:
			probesTotal.WithLabelValues("found").Inc()
			c.logger.Info().Str("language", language).Int("count", count).Msg("Found cards")
			found = append(found, language)
		default:
			probesTotal.WithLabelValues("empty").Inc()
		}
	}
	return found, nil
}

// Run resolves the partitions and fetches them strictly in order. It returns
// an error only when resolution was cancelled; partition failures are
// recorded in the summary.
func (c *Collector) Run(ctx context.Context, explicit []string) (*Summary, error) {
	start := time.Now()

	resolution, err := c.Resolve(ctx, explicit)
	if err != nil {
		return nil, fmt.Errorf("resolve languages: %w", err)
	}

	summary := &Summary{
		Method:    resolution.Method,
		Languages: resolution.Languages,
		Results:   make([]*pagination.Result, 0, len(resolution.Languages)),
		Started:   start,
	}

	for i, language := range resolution.Languages {
		if err := ctx.Err(); err != nil {
			summary.NotStarted = append(summary.NotStarted, resolution.Languages[i:]...)
			partitionsTotal.WithLabelValues("skipped").Add(float64(len(resolution.Languages) - i))
			c.logger.Warn().Err(err).Strs("skipped", summary.NotStarted).Msg("Collection interrupted")
			break
		}

		c.logger.Info().
			Str("language", language).
			Int("partition", i+1).
			Int("of", len(resolution.Languages)).
			Msg("Collecting language")

		res := c.fetcher.Fetch(ctx, language)
		summary.Results = append(summary.Results, res)

		if res.Complete {
			partitionsTotal.WithLabelValues("complete").Inc()
		} else {
			partitionsTotal.WithLabelValues("incomplete").Inc()
		}
	}

	summary.Finished = time.Now()
	c.logger.Info().
		Int("languages", len(summary.Results)).
		Int("records", summary.Total()).
		Strs("incomplete", summary.Incomplete()).
		Dur("duration", summary.Finished.Sub(summary.Started)).
		Msg("Collection finished")

	return summary, nil
}

// Normalize lowercases and trims codes, dropping blanks and repeats while
// keeping first-seen order.
func Normalize(languages []string) []string {
	seen := make(map[string]struct{}, len(languages))
	out := make([]string, 0, len(languages))
	for _, l := range languages {
		code := strings.ToLower(strings.TrimSpace(l))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
