// synth-core trades synthetic indices from a single validated config.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"synth-core/internal/api"
	"synth-core/internal/engine"
	"synth-core/internal/housekeeping"
	"synth-core/internal/monitor"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
	"synth-core/pkg/logger"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "synth-core",
		Short:         "Signal-to-order engine for synthetic indices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the engine and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, *cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("version", version).
		Str("environment", cfg.Environment).
		Strs("symbols", cfg.Trading.Symbols).
		Bool("dry_run", cfg.Development.DryRun).
		Str("contract_type", cfg.Trading.ContractType).
		Msg("starting")

	target := cfg.Database.Path
	if cfg.Database.Type == "postgres" {
		target = cfg.Database.DSN
	}
	database, err := db.Open(cfg.Database.Type, target)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info().Str("dialect", database.Dialect.String()).Msg("database ready")

	eng, err := engine.New(ctx, cfg, engine.Options{Store: database, Log: log})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// Alerts go to the log; the bus also feeds /ws.
	mon := &monitor.Monitor{
		Bus:  eng.Bus(),
		Sink: monitor.LogSink{Log: logger.Component(log, "alerts")},
		Log:  log,
	}
	mon.Start(ctx)

	sched := housekeeping.NewScheduler(ctx, eng, log)
	if err := sched.RegisterAll(housekeeping.Config{
		SnapshotInterval: cfg.Monitoring.SnapshotInterval,
		BalanceRefresh:   cfg.Engine.BalanceRefresh,
		Location:         cfg.Location(),
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	apiDone := make(chan error, 1)
	if cfg.API.Enabled {
		server := api.NewServer(eng, eng.Bus(), eng.Metrics().Handler(), cfg.API, log)
		go func() { apiDone <- server.Serve(ctx, cfg.Addr()) }()
	} else {
		close(apiDone)
	}

	runErr := eng.Run(ctx)
	if err := <-apiDone; err != nil {
		log.Error().Err(err).Msg("api server stopped with error")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config, then print it with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Masked())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			tok, err := api.IssueToken(operator, cfg.API.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "ops", "Operator name embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "synth-core version %s\n", version)
		},
	}
}
