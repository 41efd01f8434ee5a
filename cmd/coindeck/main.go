package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coindeck/coindeck/internal/app"
	"github.com/coindeck/coindeck/internal/config"
	"github.com/coindeck/coindeck/internal/exchange"
	"github.com/coindeck/coindeck/internal/metrics"
	"github.com/coindeck/coindeck/internal/store"
	"github.com/coindeck/coindeck/internal/ui"
	"github.com/coindeck/coindeck/internal/web"
)

const (
	appName = "coindeck"
	version = "v1.0.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Terminal cryptocurrency price dashboard",
		Version: version,
		Long: `coindeck is a terminal dashboard for live cryptocurrency prices:
filterable and sortable price tables, candle charts, price alerts and an
embedded web view, backed by a local SQLite history.

Run it in a terminal for the TUI; in a pipe it prints the current
snapshot instead.`,
		RunE: runDefault,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the JSON config file")

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal dashboard",
		RunE:  runTUI,
	}

	webCmd := &cobra.Command{
		Use:   "web",
		Short: "Run the web dashboard and JSON API without the TUI",
		RunE:  runWeb,
	}
	webCmd.Flags().String("listen", "", "Listen address (overrides config)")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one snapshot, store it, and print it as JSON",
		RunE:  runFetch,
	}

	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain the local database",
	}
	dbCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print row counts and stored time range",
		RunE:  runDBStats,
	})
	dbCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete price rows older than 30 days and candles older than 90 days",
		RunE:  runDBCleanup,
	})

	rootCmd.AddCommand(tuiCmd, webCmd, fetchCmd, dbCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// runDefault opens the TUI on a terminal and falls back to a one-shot
// snapshot when stdout is piped.
func runDefault(cmd *cobra.Command, args []string) error {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return runTUI(cmd, args)
	}
	return runFetch(cmd, args)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	state := app.New(cfg.Symbols, cfg.RefreshInterval(), app.WithNotifier(ui.BellNotifier{}))
	client := exchange.NewClient()

	// Seed the table from stored history so the dashboard is not empty
	// before the first fetch.
	seedFromStore(state, db, cfg.Symbols)

	// The web view runs alongside the TUI and shares the same state.
	srv := web.NewServer(cfg.WebListenAddr, state, db, client)
	go func() {
		if err := srv.Start(); err != nil {
			log.Warn().Err(err).Msg("web server stopped")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	// Logs would corrupt the alternate screen.
	log.Logger = zerolog.Nop()

	return ui.Run(state, client, db)
}

func runWeb(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.WebListenAddr = listen
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	state := app.New(cfg.Symbols, cfg.RefreshInterval())
	client := exchange.NewClient()
	seedFromStore(state, db, cfg.Symbols)

	srv := web.NewServer(cfg.WebListenAddr, state, db, client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go refreshLoop(ctx, state, client, db, srv)
	go streamLoop(ctx, cfg.Symbols, state, srv)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// refreshLoop polls the exchange on the configured interval, feeding the
// shared state, the database and the websocket clients.
func refreshLoop(ctx context.Context, state *app.App, client *exchange.Client, db *store.Store, srv *web.Server) {
	ticker := time.NewTicker(state.RefreshInterval())
	defer ticker.Stop()

	refresh := func() {
		if state.Paused() || state.Offline() {
			return
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		records, err := client.FetchSnapshot(fetchCtx, state.Symbols())
		if err != nil {
			state.RecordFailure()
			state.ReportError(app.ErrNetwork, app.SeverityWarning, err.Error())
			metrics.ConsecutiveFailures.Set(float64(state.Status().ConsecutiveFailures))
			log.Warn().Err(err).Msg("refresh failed")
			return
		}
		state.ReplaceAll(records)
		state.RecordSuccess()
		metrics.ConsecutiveFailures.Set(0)
		srv.Broadcast(state.VisibleRecords())

		if err := db.StorePrices(ctx, records); err != nil {
			state.ReportError(app.ErrDatabase, app.SeverityWarning, err.Error())
		}
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// streamLoop folds live websocket ticks into the snapshot between polls.
func streamLoop(ctx context.Context, symbols []string, state *app.App, srv *web.Server) {
	stream := exchange.NewStream(symbols)
	go stream.Run(ctx)

	for update := range stream.Updates() {
		if state.PatchRecord(update.Record) {
			srv.Broadcast(state.VisibleRecords())
		}
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := exchange.NewClient()
	records, err := client.FetchSnapshot(ctx, cfg.Symbols)
	if err != nil {
		return err
	}

	if db, err := store.Open(cfg.DatabasePath); err == nil {
		if err := db.StorePrices(ctx, records); err != nil {
			log.Warn().Err(err).Msg("failed to store snapshot")
		}
		db.Close()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func runDBStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(context.Background())
	if err != nil {
		return err
	}
	stats.DatabasePath = cfg.DatabasePath

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runDBCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := db.Cleanup(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired rows\n", removed)
	return nil
}

func seedFromStore(state *app.App, db *store.Store, symbols []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, err := db.LatestPrices(ctx, symbols)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load stored prices")
		return
	}
	if len(records) > 0 {
		state.ReplaceAll(records)
		log.Info().Int("rows", len(records)).Msg("seeded dashboard from stored history")
	}
}
