// Command edusentry drives the incident pipeline: ingest sources, enrich
// incidents, deduplicate enriched institutions, and export CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/edusentry/edusentry/datastore"
	"github.com/edusentry/edusentry/datastore/sqlite"
	"github.com/edusentry/edusentry/enricher/llm"
	"github.com/edusentry/edusentry/export"
	"github.com/edusentry/edusentry/fetcher"
	"github.com/edusentry/edusentry/libenrich"
	"github.com/edusentry/edusentry/libingest"
	"github.com/edusentry/edusentry/ratelimit"
	"github.com/edusentry/edusentry/sources"
)

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()
	ctx, done := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer done()

	fs := flag.NewFlagSet("edusentry", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nSubcommands\n\n")
		fmt.Fprintln(out, "migrate\n\tcreate or upgrade the database schema")
		fmt.Fprintln(out, "ingest\n\trun every enabled source adapter once")
		fmt.Fprintln(out, "enrich\n\tfetch articles and extract intelligence for unenriched incidents")
		fmt.Fprintln(out, "dedupe\n\trun the institutional dedup pass over enriched incidents")
		fmt.Fprintln(out, "export [file]\n\twrite enriched incidents as CSV, to stdout by default")
		fmt.Fprintln(out)
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exit = 99
		return
	}
	setupLogging(*logLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to load configuration")
		exit = 1
		return
	}

	var cmd func(context.Context, *Config, []string) error
	switch n := fs.Arg(0); n {
	case "migrate":
		cmd = cmdMigrate
	case "ingest":
		cmd = cmdIngest
	case "enrich":
		cmd = cmdEnrich
	case "dedupe":
		cmd = cmdDedupe
	case "export":
		cmd = cmdExport
	case "":
		fs.Usage()
		exit = 99
		return
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		exit = 99
		return
	}
	if err := cmd(ctx, cfg, fs.Args()[1:]); err != nil {
		zlog.Error(ctx).Err(err).Str("subcommand", fs.Arg(0)).Msg("run failed")
		exit = 2
	}
}

func setupLogging(level string) {
	l := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		l = zerolog.DebugLevel
	case "info":
	case "warn":
		l = zerolog.WarnLevel
	case "error":
		l = zerolog.ErrorLevel
	}
	log := zerolog.New(&zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(l).
		With().
		Timestamp().
		Logger()
	zlog.Set(&log)
}

func openStore(ctx context.Context, cfg *Config) (*sqlite.Store, error) {
	return sqlite.Open(ctx, cfg.Database.Path)
}

func cmdMigrate(ctx context.Context, cfg *Config, _ []string) error {
	// Opening a writer handle runs the migrations.
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	ok, err := s.Initialized(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("schema missing after migration")
	}
	zlog.Info(ctx).Str("path", cfg.Database.Path).Msg("schema up to date")
	return nil
}

func cmdIngest(ctx context.Context, cfg *Config, _ []string) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := []libingest.Option{
		libingest.WithClient(http.DefaultClient),
		libingest.WithConfigs(cfg.adapterConfigs()),
		libingest.WithAdapterOptions(cfg.adapterOptions()),
	}
	for g, names := range cfg.groupFilter() {
		opts = append(opts, libingest.WithEnabled(g, names))
	}
	ing, err := libingest.New(ctx, s, sources.Registries(), opts...)
	if err != nil {
		return err
	}
	stats, err := ing.Run(ctx)
	if err != nil {
		return err
	}
	if stats.AdapterErrors != 0 {
		return fmt.Errorf("%d adapter(s) errored; partial results persisted", stats.AdapterErrors)
	}
	return nil
}

func cmdEnrich(ctx context.Context, cfg *Config, _ []string) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	open := func(ctx context.Context) (datastore.Store, error) {
		h, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	extractor, err := llm.New(ctx, llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		TokenBudget: cfg.LLM.TokenBudget,
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if err != nil {
		return err
	}
	limiter := ratelimit.New(
		ratelimit.WithDelays(
			time.Duration(cfg.Enrich.FetchMinDelaySeconds)*time.Second,
			time.Duration(cfg.Enrich.FetchMaxDelaySeconds)*time.Second,
		),
		ratelimit.WithHourlyCap(cfg.Enrich.FetchesPerHourCap),
	)
	p, err := libenrich.New(s, open, fetcher.New(nil), limiter, extractor,
		libenrich.WithQueueDepth(cfg.Enrich.QueueDepth),
		libenrich.WithRateLimitDelay(time.Duration(cfg.Enrich.RateLimitDelaySeconds)*time.Second),
		libenrich.WithSkipNonEducation(cfg.Enrich.SkipNonEducation),
		libenrich.WithPurgeNonPrimary(cfg.Enrich.PurgeNonPrimary),
		libenrich.WithDedupWindow(cfg.dedupWindow()),
		libenrich.WithExcludedDomains(cfg.Enrich.ExcludeDomains),
	)
	if err != nil {
		return err
	}
	sum, err := p.Run(ctx, cfg.Enrich.Limit)
	if err != nil {
		return err
	}
	if sum.Halted {
		return fmt.Errorf("run halted by extraction rate limit; %d task(s) not attempted", sum.NotAttempted)
	}
	return nil
}

func cmdDedupe(ctx context.Context, cfg *Config, _ []string) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	deleted, err := libenrich.DedupEnriched(ctx, s, cfg.dedupWindow())
	if err != nil {
		return err
	}
	zlog.Info(ctx).Int("deleted", deleted).Msg("dedup pass complete")
	return nil
}

func cmdExport(ctx context.Context, cfg *Config, args []string) error {
	s, err := sqlite.Open(ctx, cfg.Database.Path, sqlite.ReadOnly())
	if err != nil {
		return err
	}
	defer s.Close()

	var w io.Writer = os.Stdout
	if len(args) != 0 && args[0] != "-" {
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err = export.Incidents(ctx, s.DB(), w)
	return err
}
