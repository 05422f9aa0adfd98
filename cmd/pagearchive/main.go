package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/engine"
	"github.com/IshaanNene/pagearchive/internal/observability"
	"github.com/IshaanNene/pagearchive/internal/sites"
	"github.com/IshaanNene/pagearchive/internal/storage"
)

var (
	cfgFile    string
	verbose    bool
	dataDir    string
	noAssets   bool
	jsonReport bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pagearchive",
		Short: "Archive paginated community content into a local store",
		Long: `pagearchive walks the paginated feeds of a target (a Steam app, a Twitch VOD
or a Twitter user), stores every record idempotently and downloads the
binary assets the records reference. Re-running a target only adds what
is new.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "root directory for archived targets")

	for _, site := range sites.Names() {
		rootCmd.AddCommand(siteCmd(site))
	}
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var siteArgs = map[string]string{
	"steam":   "app-id",
	"twitch":  "vod-id",
	"twitter": "username",
}

// siteCmd creates the archive subcommand of one site.
func siteCmd(site string) *cobra.Command {
	arg := siteArgs[site]
	if arg == "" {
		arg = "id"
	}
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <%s>...", site, arg),
		Short: fmt.Sprintf("Archive one or more %s targets", site),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd.Context(), site, args)
		},
	}
	cmd.Flags().BoolVar(&noAssets, "no-assets", false, "store records only, skip asset downloads")
	cmd.Flags().BoolVar(&jsonReport, "json", false, "print run reports as JSON")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if noAssets {
		cfg.Assets.Enabled = false
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runArchive builds every target first so a typo fails before any network
// traffic, then runs them one after another.
func runArchive(ctx context.Context, site string, ids []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	targets := make([]engine.Target, 0, len(ids))
	for _, id := range ids {
		target, err := sites.Build(cfg, site, id, logger)
		if err != nil {
			return err
		}
		targets = append(targets, target)
	}
	records, err := sites.RecordMiddleware(cfg, site)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(shutdownCtx)
		}()
	}

	eng := engine.New(cfg, logger, engine.WithMetrics(metrics), engine.WithRecordMiddleware(records...))

	failed := 0
	for _, target := range targets {
		if ctx.Err() != nil {
			logger.Info("interrupted, remaining targets not started")
			break
		}
		report := eng.Run(ctx, target)
		if !report.OK() {
			failed++
		}
		if err := printReport(report); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d targets did not complete", failed, len(targets))
	}
	return nil
}

func printReport(report *engine.TargetReport) error {
	if jsonReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	status := "complete"
	if !report.OK() {
		status = "incomplete"
	}
	fmt.Printf("\n%s %s in %s (run %s)\n", report.Target, status, report.Duration.Round(time.Millisecond), report.RunID)
	if report.Err != "" {
		fmt.Printf("   Error:     %s\n", report.Err)
	}
	if report.Home != engine.HomeNone {
		fmt.Printf("   Home:      %s\n", report.Home)
	}
	for _, f := range report.Feeds {
		fmt.Printf("   %-12s %4d pages, %5d new, %5d known, %3d skipped, %4d assets  [%s]\n",
			f.Feed, f.PagesFetched, f.RecordsNew, f.RecordsKnown, f.PagesSkipped, f.AssetsDownloaded, f.Termination)
	}
	return nil
}

var (
	exportFormat string
	exportType   string
	exportOutput string
)

// exportCmd creates the "export" subcommand.
func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <site> <id>",
		Short: "Export stored records of a target as JSONL or CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&exportFormat, "format", "f", "jsonl", "output format: jsonl, csv")
	cmd.Flags().StringVarP(&exportType, "type", "t", "", "record type to export (default: all)")
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output directory (default: <target dir>/export)")
	return cmd
}

func runExport(ctx context.Context, site, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	target, err := sites.Build(cfg, site, id, logger)
	if err != nil {
		return err
	}

	recordTypes := target.Schema.RecordTypes
	if exportType != "" {
		recordTypes = []string{exportType}
	}
	out := exportOutput
	if out == "" {
		out = filepath.Join(target.Dir, "export")
	}

	store, err := storage.Open(ctx, cfg.Storage, target.Key(), target.Dir, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx, target.Schema); err != nil {
		return err
	}

	format := strings.ToLower(exportFormat)
	for _, recordType := range recordTypes {
		path := filepath.Join(out, recordType+"."+format)
		exporter, err := storage.NewFileExporter(format, path, logger)
		if err != nil {
			return err
		}
		n, err := storage.Export(ctx, store, recordType, exporter)
		if cerr := exporter.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", recordType, err)
		}
		fmt.Printf("%-20s %6d records -> %s\n", recordType, n, path)
	}
	return nil
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pagearchive %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Fetcher:\n")
			fmt.Printf("  Max Attempts:       %d\n", cfg.Fetcher.MaxAttempts)
			fmt.Printf("  Rate Limit Cooldown: %s\n", cfg.Fetcher.RateLimitCooldown)
			fmt.Printf("  Backoff:            %s + %s per attempt\n", cfg.Fetcher.BackoffInitial, cfg.Fetcher.BackoffStep)
			fmt.Printf("  Request Timeout:    %s\n", cfg.Fetcher.RequestTimeout)
			fmt.Printf("\nCrawl:\n")
			fmt.Printf("  Cursor Stall Limit: %d\n", cfg.Crawl.CursorStallLimit)
			fmt.Printf("  Max Follow Depth:   %d\n", cfg.Crawl.MaxFollowDepth)
			fmt.Printf("  Max Payload:        %d bytes\n", cfg.Crawl.MaxPayloadBytes)
			fmt.Printf("  Default Ceiling:    %d pages\n", cfg.Crawl.DefaultCeiling)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:               %s\n", cfg.Storage.Type)
			fmt.Printf("  Data Dir:           %s\n", cfg.Storage.DataDir)
			fmt.Printf("\nAssets:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Assets.Enabled)
			fmt.Printf("  Max Size:           %d MB\n", cfg.Assets.MaxSizeMB)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:               %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

// setupLogger creates a structured logger.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
