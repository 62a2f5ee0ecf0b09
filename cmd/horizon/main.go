package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/helioquant/horizon/internal/cache"
	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
	"github.com/helioquant/horizon/internal/httpapi"
	"github.com/helioquant/horizon/internal/metrics"
	"github.com/helioquant/horizon/internal/pipeline"
	"github.com/helioquant/horizon/internal/provider"
	"github.com/helioquant/horizon/internal/store"
)

const (
	appName = "horizon"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-day price trajectory forecasting service",
		Version: version,
		Long: `Horizon produces multi-day price trajectory forecasts from an
ensemble of independent models, with calibrated confidence scores,
technical signal confirmation and risk-bounded position plans.`,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().String("data-dir", "data", "Directory of per-symbol series JSON files")

	forecastCmd := &cobra.Command{
		Use:   "forecast <symbol>",
		Short: "Forecast one symbol and print the record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runForecast,
	}
	forecastCmd.Flags().String("as-of", "", "As-of date (YYYY-MM-DD, default today)")
	addAccountFlags(forecastCmd.Flags())

	batchCmd := &cobra.Command{
		Use:   "batch <symbol>[,<symbol>...]",
		Short: "Forecast a list of symbols with a bounded worker pool",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().String("as-of", "", "As-of date (YYYY-MM-DD, default today)")
	batchCmd.Flags().Int("workers", 0, "Worker count (default from config)")
	addAccountFlags(batchCmd.Flags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the forecast HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", "", "Listen address (default from config)")

	rootCmd.AddCommand(forecastCmd, batchCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func addAccountFlags(flags *pflag.FlagSet) {
	flags.Float64("capital", 100_000, "Account capital for position sizing")
	flags.Float64("max-risk", 0, "Max risk per trade as a fraction of capital")
	flags.Float64("max-position", 0, "Max position as a fraction of capital")
	flags.Float64("min-rr", 0, "Minimum acceptable risk/reward ratio")
}

func setup(cmd *cobra.Command) (*config.Config, *pipeline.Runner, *metrics.Registry, error) {
	level, err := zerolog.ParseLevel(mustString(cmd, "log-level"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	cfg := config.Default()
	if path := mustString(cmd, "config"); path != "" {
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	source := provider.NewFile(mustString(cmd, "data-dir"))
	m := metrics.NewRegistry()

	opts := pipeline.Options{Metrics: m}
	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			redisCache, err := cache.NewRedis(cmd.Context(), cfg.Cache.RedisAddr)
			if err != nil {
				return nil, nil, nil, err
			}
			opts.Cache = redisCache
		} else {
			opts.Cache = cache.NewMemory()
		}
	}
	if cfg.Storage.PostgresDSN != "" {
		st, err := store.Open(cmd.Context(), cfg.Storage.PostgresDSN, log.Logger)
		if err != nil {
			return nil, nil, nil, err
		}
		opts.Store = st

		// Retrained quality scores in the store override the config
		// defaults.
		quality, err := st.ModelQuality(cmd.Context())
		if err != nil {
			return nil, nil, nil, err
		}
		for id, q := range quality {
			cfg.Models.Quality[id] = q
		}
	}

	runner := pipeline.NewRunner(cfg, source, opts, log.Logger)
	return cfg, runner, m, nil
}

func runForecast(cmd *cobra.Command, args []string) error {
	_, runner, _, err := setup(cmd)
	if err != nil {
		return err
	}

	asOf, err := parseAsOf(cmd)
	if err != nil {
		return err
	}

	rec, err := runner.Run(cmd.Context(), pipeline.Request{
		Symbol:  strings.ToUpper(args[0]),
		AsOf:    asOf,
		Account: accountFromFlags(cmd),
	})
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, runner, _, err := setup(cmd)
	if err != nil {
		return err
	}

	asOf, err := parseAsOf(cmd)
	if err != nil {
		return err
	}

	workers := mustInt(cmd, "workers")
	if workers <= 0 {
		workers = cfg.Server.BatchWorkers
	}

	symbols := strings.Split(strings.ToUpper(args[0]), ",")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	items := runner.RunBatch(ctx, symbols, asOf, accountFromFlags(cmd),
		workers, cfg.Server.RequestsPerSec)

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
			log.Error().Err(item.Err).Str("symbol", item.Symbol).Msg("forecast failed")
			continue
		}
		if err := printJSON(item.Record); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d symbols failed", failed, len(items))
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, runner, m, err := setup(cmd)
	if err != nil {
		return err
	}
	if listen := mustString(cmd, "listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("listen", cfg.Server.Listen).Msg("serving forecast API")
	return httpapi.NewServer(cfg.Server, runner, m, log.Logger).ListenAndServe(ctx)
}

func parseAsOf(cmd *cobra.Command) (time.Time, error) {
	raw := mustString(cmd, "as-of")
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	asOf, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as-of date %q: %w", raw, err)
	}
	return asOf, nil
}

func accountFromFlags(cmd *cobra.Command) domain.AccountRisk {
	return domain.AccountRisk{
		Capital:             mustFloat(cmd, "capital"),
		MaxRiskPerTrade:     mustFloat(cmd, "max-risk"),
		MaxPositionFraction: mustFloat(cmd, "max-position"),
		MinRiskReward:       mustFloat(cmd, "min-rr"),
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		v, _ = cmd.Root().PersistentFlags().GetString(name)
	}
	return v
}

func mustInt(cmd *cobra.Command, name string) int {
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func mustFloat(cmd *cobra.Command, name string) float64 {
	v, _ := cmd.Flags().GetFloat64(name)
	return v
}
