package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/internal/runtime"
	"github.com/avivsh/polystrat/internal/storage"
	"github.com/avivsh/polystrat/internal/strategy"
	"github.com/avivsh/polystrat/pkg/config"
	"github.com/avivsh/polystrat/pkg/healthprobe"
	"github.com/avivsh/polystrat/pkg/httpserver"
	"github.com/avivsh/polystrat/pkg/types"

	// Strategies register themselves with the launcher's registry.
	_ "github.com/avivsh/polystrat/internal/strategy/calendar"
	_ "github.com/avivsh/polystrat/internal/strategy/crossplatform"
	_ "github.com/avivsh/polystrat/internal/strategy/eventarb"
	_ "github.com/avivsh/polystrat/internal/strategy/extremeprice"
	_ "github.com/avivsh/polystrat/internal/strategy/spread"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a strategy against one or more accounts",
	Long: `Starts the selected strategy for every credential file passed
with --env. Each account gets its own venue clients, position store and
feed subscription; all accounts share the metrics and health endpoints.`,
	RunE: runEngine,
}

//nolint:gochecknoglobals // Cobra boilerplate
var (
	runStrategy     string
	runEnvFiles     []string
	runStrategyArgs string
	runDryRun       bool
	runLogLevel     string
	runLogRotation  string
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runStrategy, "strategy", "s", "", "Strategy name (required)")
	runCmd.Flags().StringArrayVarP(&runEnvFiles, "env", "e", nil, "Credential file, repeatable for multiple accounts (required)")
	runCmd.Flags().StringVar(&runStrategyArgs, "strategy-args", "", "JSON object of per-strategy overrides")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Simulate order execution against a paper balance")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "Override LOG_LEVEL")
	runCmd.Flags().StringVar(&runLogRotation, "log-rotation", "", "Override LOG_ROTATION (size or time)")
	_ = runCmd.MarkFlagRequired("strategy")
	_ = runCmd.MarkFlagRequired("env")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if runDryRun {
		cfg.DryRun = true
	}
	if runLogLevel != "" {
		cfg.LogLevel = runLogLevel
	}
	if runLogRotation != "" {
		cfg.LogRotation = runLogRotation
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return &types.ConfigurationError{Field: "LOG_LEVEL", Reason: err.Error()}
	}
	defer func() {
		_ = logger.Sync()
	}()

	var strategyArgs map[string]interface{}
	if runStrategyArgs != "" {
		if err := json.Unmarshal([]byte(runStrategyArgs), &strategyArgs); err != nil {
			return &types.ConfigurationError{Field: "--strategy-args", Reason: err.Error()}
		}
	}

	sink, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}

	launcher := runtime.NewLauncher(&runtime.LauncherConfig{
		Config:       cfg,
		StrategyName: runStrategy,
		StrategyArgs: strategyArgs,
		Sink:         sink,
		Logger:       logger,
	})

	for _, envFile := range runEnvFiles {
		creds, err := config.LoadCredentials(envFile)
		if err != nil {
			return err
		}
		if err := launcher.AddAccount(creds); err != nil {
			return fmt.Errorf("account %s: %w", envFile, err)
		}
	}

	logger.Info("engine-starting",
		zap.String("strategy", runStrategy),
		zap.Strings("available_strategies", strategy.Names()),
		zap.Int("accounts", len(runEnvFiles)),
		zap.Bool("dry_run", cfg.DryRun))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := healthprobe.New()
	httpSrv := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: health,
		Stores:        launcher.Stores(),
	})
	go func() {
		if err := httpSrv.Start(); err != nil {
			logger.Error("http-server-failed", zap.Error(err))
		}
	}()
	health.SetReady(true)

	runErr := launcher.Run(ctx)

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http-shutdown-failed", zap.Error(err))
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

func buildSink(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		sink, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		return sink, nil
	}
	return storage.NewConsoleStorage(logger), nil
}
