package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lychee-technology/eav"
	"github.com/lychee-technology/eav/factory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile  string
	metricsFile string
	cfg         *eav.Config
	registry    *prometheus.Registry
)

var rootCmd = &cobra.Command{
	Use:   "eavctl",
	Short: "Manage attribute schemata, choices and exports",
	Long: `eavctl manages the attribute layer tables: it applies migrations,
edits schemata and their choices, and exports entity attributes to Parquet.
Settings come from an optional config file and EAV_* environment variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newChoiceCmd())
	rootCmd.AddCommand(newExportCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	if metricsFile != "" {
		registry = prometheus.NewRegistry()
		factory.EnablePrometheusMetrics(registry)
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if registry != nil {
		if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil {
			zap.S().Warnw("failed to write metrics", "file", metricsFile, "err", err)
		}
	}
	_ = zap.L().Sync()
}

// withManager opens a pool, builds an entity manager and hands it to fn.
func withManager(ctx context.Context, fn func(em eav.EntityManager) error) error {
	pool, err := factory.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	em, err := factory.NewEntityManagerWithConfig(ctx, cfg, pool)
	if err != nil {
		return err
	}
	return fn(em)
}
