package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/lingq-export/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flags holds command-line values. Only flags that were set override the
// configuration file and environment.
type flags struct {
	configPath string
	envFile    string

	apiKey    string
	baseURL   string
	languages []string
	format    string
	outputDir string
	pageSize  int
	timeout   time.Duration
	sqlite    bool

	redisURL    string
	s3Bucket    string
	s3Prefix    string
	s3Region    string
	s3Endpoint  string
	metricsAddr string

	logLevel string
	logJSON  bool
	verbose  bool
}

func newRootCmd(code *int) *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "lingq-export [languages...]",
		Short: "Download your LingQ vocabulary to JSON and CSV",
		Long: `lingq-export retrieves every card of your LingQ account, one language at a
time, respecting the API's rate limits, and exports them to JSON and/or CSV.

Languages are taken from --languages (or positional arguments); when none are
given they are read from your account, falling back to probing common
languages. Large collections can take hours: the API throttles aggressively
and the exporter backs off for minutes at a time.

Exit status is 0 when every language completed, 2 when some did not (the
retry command is printed) and 1 on fatal errors.`,
		Example: `  lingq-export --api-key KEY
  lingq-export --api-key KEY --languages de,ja --format both
  LINGQ_API_KEY=KEY lingq-export es fr --sqlite --output-dir ./exports`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(f.envFile); err != nil {
				return err
			}

			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd.Flags(), &cfg)
			if len(args) > 0 {
				if cmd.Flags().Changed("languages") {
					cfg.Languages = append(cfg.Languages, args...)
				} else {
					cfg.Languages = args
				}
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := run(ctx, cfg, cmd.OutOrStdout())
			*code = c
			return err
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file to load (ignored when missing)")

	fs.StringVar(&f.apiKey, "api-key", "", "LingQ API key (env LINGQ_API_KEY)")
	fs.StringVar(&f.baseURL, "base-url", "", "API root (default https://www.lingq.com/api/v2)")
	fs.StringSliceVarP(&f.languages, "languages", "l", nil, "language codes to download, e.g. de,ja")
	fs.StringVarP(&f.format, "format", "f", "", "export format: json, csv or both (default csv)")
	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "directory for exported files (default .)")
	fs.IntVar(&f.pageSize, "page-size", 0, "records per page (default 50)")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-request timeout (default 30s)")
	fs.BoolVar(&f.sqlite, "sqlite", false, "also write a SQLite archive of all languages")

	fs.StringVar(&f.redisURL, "redis-url", "", "Redis for listing cache and shared throttle cooldown (env REDIS_URL)")
	fs.StringVar(&f.s3Bucket, "s3-bucket", "", "mirror every exported file to this S3 bucket")
	fs.StringVar(&f.s3Prefix, "s3-prefix", "", "key prefix inside the S3 bucket")
	fs.StringVar(&f.s3Region, "s3-region", "", "AWS region of the S3 bucket")
	fs.StringVar(&f.s3Endpoint, "s3-endpoint", "", "custom S3 endpoint (S3-compatible stores)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (default info)")
	fs.BoolVar(&f.logJSON, "log-json", false, "log JSON instead of console output")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "shorthand for --log-level debug")

	return cmd
}

// apply copies every flag the user set onto cfg.
func (f *flags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}

	set("api-key", func() { cfg.APIKey = f.apiKey })
	set("base-url", func() { cfg.BaseURL = f.baseURL })
	set("languages", func() { cfg.Languages = f.languages })
	set("format", func() { cfg.Format = f.format })
	set("output-dir", func() { cfg.OutputDir = f.outputDir })
	set("page-size", func() { cfg.PageSize = f.pageSize })
	set("timeout", func() { cfg.Timeout = f.timeout })
	set("sqlite", func() { cfg.SQLite = f.sqlite })
	set("redis-url", func() { cfg.Redis.URL = f.redisURL })
	set("s3-bucket", func() { cfg.S3.Bucket = f.s3Bucket })
	set("s3-prefix", func() { cfg.S3.Prefix = f.s3Prefix })
	set("s3-region", func() { cfg.S3.Region = f.s3Region })
	set("s3-endpoint", func() { cfg.S3.Endpoint = f.s3Endpoint })
	set("metrics-addr", func() { cfg.MetricsAddr = f.metricsAddr })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-json", func() { cfg.Log.Pretty = !f.logJSON })
	set("verbose", func() {
		if f.verbose {
			cfg.Log.Level = "debug"
		}
	})
}
