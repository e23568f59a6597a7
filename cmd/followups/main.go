// Command followups runs one follow-up pass and prints the report as JSON.
// It is meant for cron or for checking what a pass would do with -dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/ai"
	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/config"
	"github.com/jkindrix/plumbot/internal/database"
	"github.com/jkindrix/plumbot/internal/followup"
	"github.com/jkindrix/plumbot/internal/generator"
	"github.com/jkindrix/plumbot/internal/logging"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/ratelimit"
	"github.com/jkindrix/plumbot/internal/repository"
	"github.com/jkindrix/plumbot/internal/retry"
	"github.com/jkindrix/plumbot/internal/whatsapp"
)

// errMemoryDriver is returned when the lead store only lives inside the server.
var errMemoryDriver = errors.New("the memory lead store is per process, run follow-ups inside the server instead")

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "followups: %v\n", err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "followups: load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "followups: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags maps the command line onto run options.
func parseFlags(args []string) (followup.Options, error) {
	fs := flag.NewFlagSet("followups", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "select and generate messages without sending or saving")
	force := fs.Bool("force", false, "ignore the once-per-day limit")
	limit := fs.Int("limit", 0, "maximum leads to process (0 uses FOLLOWUP_BATCH_LIMIT)")
	if err := fs.Parse(args); err != nil {
		return followup.Options{}, err
	}
	if *limit < 0 {
		return followup.Options{}, fmt.Errorf("-limit must not be negative, got %d", *limit)
	}
	return followup.Options{DryRun: *dryRun, Force: *force, Limit: *limit}, nil
}

func run(cfg *config.Config, opts followup.Options, out io.Writer) error {
	if cfg.Database.Driver == "memory" {
		return errMemoryDriver
	}

	// Logs go to stderr so stdout carries only the report.
	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	logger := log.Zap()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	clk := clock.New()
	events := metrics.NewBusinessEventLogger(logger)
	claude := ai.NewClaudeClient(&cfg.Anthropic, logger,
		ai.WithLimiter(ratelimit.NewModelLimiter(ratelimit.ModelLimiterConfig{
			MaxCallsPerMinute: cfg.Anthropic.MaxCallsPerMinute,
			MaxCallsPerHour:   cfg.Anthropic.MaxCallsPerHour,
			MaxCallsPerDay:    cfg.Anthropic.MaxCallsPerDay,
			MaxConcurrent:     cfg.Anthropic.MaxConcurrent,
		}, clk, logger)),
	)
	var completer ai.Completer
	if claude.Configured() {
		completer = claude
	}

	engine := followup.NewEngine(followup.Deps{
		Leads:     repository.NewLeadRepository(db.Pool, clk),
		Generator: generator.New(completer, cfg.Business, logger, nil),
		Messenger: whatsapp.New(&cfg.WhatsApp, logger,
			whatsapp.WithRetrier(retry.New(retry.Config{MaxAttempts: cfg.Delivery.SendAttempts}, logger)),
		),
		Clock:  clk,
		Logger: logger,
		Events: events,
	}, followup.Config{
		BatchLimit:  cfg.Followup.BatchLimit,
		Concurrency: cfg.Followup.Concurrency,
		Location:    cfg.Followup.Location(),
	})

	report, err := engine.Run(ctx, opts)
	if err != nil {
		return err
	}
	logger.Info("follow-up pass finished",
		zap.Bool("dry_run", report.DryRun),
		zap.Int("candidates", report.Candidates),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)

	return writeReport(out, report)
}

func writeReport(out io.Writer, report *followup.Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
