package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Sternrassler/lingq-export/pkg/client"
	"github.com/Sternrassler/lingq-export/pkg/collector"
	"github.com/Sternrassler/lingq-export/pkg/config"
	"github.com/Sternrassler/lingq-export/pkg/export"
	"github.com/Sternrassler/lingq-export/pkg/logging"
	"github.com/Sternrassler/lingq-export/pkg/metrics"
	"github.com/Sternrassler/lingq-export/pkg/pagination"
	"github.com/Sternrassler/lingq-export/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// pipeline is everything one run needs, wired from the configuration.
type pipeline struct {
	api       *client.Client
	redis     *redis.Client
	collector *collector.Collector
	exporter  *export.Exporter
}

// run executes one export and returns the process exit code. Errors are
// returned only for fatal conditions (exit 1).
func run(ctx context.Context, cfg config.Config, out io.Writer) (int, error) {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})
	logger := logging.NewLogger("cli")

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr, logging.NewLogger("metrics"))
		if err != nil {
			return exitFatal, err
		}
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	p, err := wire(ctx, cfg, out)
	if err != nil {
		return exitFatal, err
	}
	defer p.close()

	fmt.Fprintln(out, "Testing connection to LingQ...")
	if err := p.api.Ping(ctx); err != nil {
		return exitFatal, fmt.Errorf("cannot reach LingQ, check your API key: %w", err)
	}
	fmt.Fprintln(out, "Connected. Large collections are slow to respect the API's rate limits.")

	summary, err := p.collector.Run(ctx, cfg.Languages)
	if err != nil {
		return exitFatal, err
	}

	// Exporting what was gathered must survive an interrupt.
	artifacts, exportErr := p.exporter.Export(context.WithoutCancel(ctx), summary.Results)

	printReport(out, summary, artifacts)

	if exportErr != nil {
		return exitFatal, fmt.Errorf("export: %w", exportErr)
	}
	if !summary.Complete() {
		return exitIncomplete, nil
	}
	return exitOK, nil
}

// wire builds the client, optional Redis, paginator, collector and exporter.
func wire(ctx context.Context, cfg config.Config, out io.Writer) (*pipeline, error) {
	logger := logging.NewLogger("cli")
	p := &pipeline{}

	if cfg.Redis.URL != "" {
		rdb, err := connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without cache and shared cooldown")
		} else {
			p.redis = rdb
		}
	}

	clientCfg := client.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.Timeout = cfg.Timeout
	clientCfg.Redis = p.redis
	clientCfg.ListingTTL = cfg.Redis.ListingTTL

	api, err := client.New(clientCfg)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("create client: %w", err)
	}
	p.api = api

	policy := pagination.DefaultPolicy()
	policy.PageSize = cfg.PageSize
	if err := policy.Validate(); err != nil {
		p.close()
		return nil, err
	}

	paginatorOpts := []pagination.Option{
		pagination.WithObserver(progressPrinter(out)),
	}
	if p.redis != nil {
		tracker := ratelimit.NewTracker(p.redis, api.Account(), logging.NewLogger("ratelimit"))
		paginatorOpts = append(paginatorOpts, pagination.WithThrottleSignal(tracker))
	}
	paginator := pagination.New(api, policy, paginatorOpts...)

	p.collector = collector.New(api, paginator)

	format, err := export.ParseFormat(cfg.Format)
	if err != nil {
		p.close()
		return nil, err
	}

	exportOpts := []export.Option{
		export.WithTimestamp(time.Now()),
		export.WithSQLite(cfg.SQLite),
	}
	if cfg.S3.Bucket != "" {
		mirror, err := export.NewS3Mirror(ctx, export.S3Config{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Profile:      cfg.S3.Profile,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			p.close()
			return nil, fmt.Errorf("s3 mirror: %w", err)
		}
		exportOpts = append(exportOpts, export.WithMirror(mirror))
	}

	p.exporter, err = export.New(cfg.OutputDir, format, exportOpts...)
	if err != nil {
		p.close()
		return nil, err
	}

	return p, nil
}

func (p *pipeline) close() {
	if p.api != nil {
		p.api.Close()
	}
	if p.redis != nil {
		p.redis.Close()
	}
}

// connectRedis accepts redis:// URLs as well as bare host:port addresses.
func connectRedis(ctx context.Context, raw string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(raw, "://") {
		parsed, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: raw}
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// progressPrinter reports page progress on the user's terminal.
func progressPrinter(out io.Writer) pagination.Observer {
	return func(p pagination.Progress) {
		switch p.State {
		case pagination.StateThrottled:
			fmt.Fprintf(out, "  [%s] rate limited on page %d, waiting %s\n", p.Language, p.Page, p.Wait)
		default:
			fmt.Fprintf(out, "  [%s] page %d: %d records so far\n", p.Language, p.Page, p.Records)
		}
	}
}
