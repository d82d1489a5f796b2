package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"epochsync/internal/config"
	"epochsync/internal/jobs"
	"epochsync/internal/schedule"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "epochsync",
		Short:        "Epoch-aligned DEX analytics sync into spreadsheets",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path (default ./params.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-dir", "logs", "directory for daily log files, empty for stderr only")
	flags.Bool("dry-run", false, "reconcile into memory instead of the spreadsheets")
	flags.String("pg-dsn", "", "Postgres DSN for the metric mirror and run state")
	flags.String("redis-addr", "", "Redis address for the job lock")

	for _, job := range jobs.All() {
		job := job
		root.AddCommand(&cobra.Command{
			Use:   job.Name,
			Short: job.Short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runJob(cmd, job)
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "schedule",
		Short: "Run jobs on their schedule.* cron specs until interrupted",
		RunE:  runSchedule,
	})

	return root
}

func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogDir, time.Now().UTC())
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runJob(cmd *cobra.Command, job jobs.Job) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, cleanup, err := buildEnv(ctx, cfg, logger)
	if err != nil {
		logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		return err
	}
	defer cleanup()

	return jobs.Execute(ctx, env, job)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, cleanup, err := buildEnv(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	manager := schedule.NewManager(ctx, env, logger)
	if err := manager.Register(cfg.Schedule); err != nil {
		return err
	}
	return manager.Run(ctx)
}
