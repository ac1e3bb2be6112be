package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tubestitch/tubestitch/internal/assemble"
	"github.com/tubestitch/tubestitch/internal/catalog"
	"github.com/tubestitch/tubestitch/internal/config"
	"github.com/tubestitch/tubestitch/internal/fetch"
	"github.com/tubestitch/tubestitch/internal/ingest"
	"github.com/tubestitch/tubestitch/internal/logging"
	"github.com/tubestitch/tubestitch/internal/pipeline"
	"github.com/tubestitch/tubestitch/internal/platform"
	"github.com/tubestitch/tubestitch/internal/selector"
)

// Exit codes for the run surface
const (
	ExitSuccess = 0
	ExitFailure = 1

	// ExitNoEligibleItems distinguishes an empty-but-valid selection
	// from a hard failure
	ExitNoEligibleItems = 2
)

var (
	configPath   string
	topic        string
	count        int
	maxHours     int
	cooldownDays int
	concurrency  int
	retries      int
)

var rootCmd = &cobra.Command{
	Use:   "tubestitch",
	Short: "Builds themed video compilations from a catalog of indexed media",
	Long: `tubestitch selects eligible items for a topic under a cooldown
constraint, downloads them concurrently, concatenates them into a single
compilation, and records usage so future runs rotate through the catalog.`,
	SilenceUsage: true,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Select, fetch, and assemble a compilation for a topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if !cfg.KnownTopic(topic) {
			return fmt.Errorf("unknown topic %q (configured: %s)",
				topic, strings.Join(cfg.TopicNames(), ", "))
		}

		store, err := catalog.Open(cfg.DBPath, logger.Named("catalog"))
		if err != nil {
			return err
		}

		if n, countErr := store.CountByTopic(cmd.Context(), topic); countErr == nil && n == 0 {
			fmt.Printf("Topic %q has no catalog entries; run 'tubestitch sync' first\n", topic)
			os.Exit(ExitNoEligibleItems)
		}

		// Flags override config; unset flags fall back to configured
		// values.
		if cooldownDays < 0 {
			cooldownDays = cfg.CooldownWindowDays()
		}
		if concurrency <= 0 {
			concurrency = cfg.MaxConcurrency
		}
		if retries < 0 {
			retries = cfg.RetryAttempts
		}

		fetcher := platform.NewYTDLPFetcher(cfg.DownloadDir, logger.Named("fetch"))
		coordinator := fetch.NewCoordinator(fetcher, fetch.Config{
			MaxParallel:    concurrency,
			RetryAttempts:  retries,
			PerItemTimeout: cfg.ItemTimeout(),
			Format:         cfg.Format,
			FallbackFormat: cfg.FallbackFormat,
		}, logger.Named("fetch"))

		ffmpeg := platform.NewFFmpegConcat(logger.Named("ffmpeg"))
		assembler := assemble.New(ffmpeg, cfg.OutputDir, logger.Named("assemble"))
		recorder := pipeline.NewRecorder(store, logger.Named("recorder"))

		runner := pipeline.NewRunner(
			selector.New(store, logger.Named("selector")),
			coordinator,
			assembler,
			recorder,
			logger.Named("pipeline"),
		)
		runner.SetProber(ffmpeg)
		runner.SetDownloadDir(cfg.DownloadDir)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := runner.Run(ctx, pipeline.Params{
			Topic:              topic,
			Count:              count,
			MaxDurationSeconds: maxHours * 3600,
			CooldownDays:       cooldownDays,
			MaxConcurrency:     concurrency,
			RetryAttempts:      retries,
		})

		printReport(report)

		if err != nil {
			return err
		}
		if report.Empty {
			os.Exit(ExitNoEligibleItems)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the catalog from the configured playlist sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if len(cfg.Sources) == 0 {
			return fmt.Errorf("no sources configured; add playlists under 'sources' in the config")
		}

		store, err := catalog.Open(cfg.DBPath, logger.Named("catalog"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		scanner := ingest.NewScanner(store, logger.Named("ingest"))
		total, err := scanner.Sync(ctx, cfg.Sources, cfg.Topics)
		if err != nil {
			return err
		}

		fmt.Printf("Catalog refreshed: %d items\n", total)
		return nil
	},
}

func printReport(report *pipeline.Report) {
	if report == nil {
		return
	}

	fmt.Printf("Run %s topic=%s\n", report.RunID, report.Topic)
	fmt.Printf("  requested=%d selected=%d fetched=%d assembled=%d backfill_rounds=%d\n",
		report.Requested, report.Selected, report.Fetched, report.Assembled, report.BackfillRounds)

	for _, failure := range report.Failures {
		fmt.Printf("  failed %s (%s after %d attempts): %s\n",
			failure.ExternalID, failure.Kind, failure.Attempts, failure.Reason)
	}

	switch {
	case report.Empty:
		fmt.Println("  no eligible items for this topic (all on cooldown or catalog empty)")
	case report.OutputPath != "":
		fmt.Printf("  output: %s (%.0fs)\n", report.OutputPath, report.DurationSeconds)
		if report.BookkeepingFailed {
			fmt.Println("  warning: usage records were not written; cooldowns will not see this run")
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (or TUBESTITCH_CONFIG)")

	buildCmd.Flags().StringVar(&topic, "topic", "", "Topic to compile (or 'general' for any)")
	buildCmd.Flags().IntVar(&count, "count", 10, "Desired number of items")
	buildCmd.Flags().IntVar(&maxHours, "max-hours", 0, "Fill a total-duration budget in hours instead of taking --count items")
	buildCmd.Flags().IntVar(&cooldownDays, "cooldown-days", -1, "Cooldown window in days (default from config)")
	buildCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Max parallel downloads (default from config)")
	buildCmd.Flags().IntVar(&retries, "retries", -1, "Retry attempts per item (default from config)")
	buildCmd.MarkFlagRequired("topic")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(syncCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitFailure)
	}
}
