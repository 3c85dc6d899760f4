package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kskmr6390/email-rule-ops/cmd"
	"github.com/kskmr6390/email-rule-ops/config"
	"github.com/kskmr6390/email-rule-ops/engine"
	"github.com/kskmr6390/email-rule-ops/gmail"
	"github.com/kskmr6390/email-rule-ops/rules"
	"github.com/kskmr6390/email-rule-ops/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "email-rule-ops",
		Short: "Fetch Gmail messages into a local database and process them against rules",
	}
	config.RegisterFlags(rootCmd)

	rootCmd.AddCommand(
		newSetupDBCommand(),
		newFetchCommand(),
		newProcessCommand(),
		newAllCommand(),
		cmd.DemoCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newSetupDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup-db",
		Short: "Initialize the database tables",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer cleanup()
			return setupDatabase(c.Context(), cfg, logger)
		},
	}
}

func newFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch emails from Gmail into the database",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer cleanup()
			return fetchEmails(c.Context(), cfg, logger)
		},
	}
}

func newProcessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process stored emails against the configured rules",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer cleanup()
			return processRules(c.Context(), cfg, logger)
		},
	}
}

func newAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run setup, fetch and process in order",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := c.Context()
			if err := setupDatabase(ctx, cfg, logger); err != nil {
				return err
			}
			if err := fetchEmails(ctx, cfg, logger); err != nil {
				return err
			}
			return processRules(ctx, cfg, logger)
		},
	}
}

func setup(c *cobra.Command) (config.Config, *slog.Logger, func(), error) {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	logger.Info("starting email-rule-ops", "db", cfg.DatabasePath, "rules", cfg.RulesFile, "dryRun", cfg.DryRun)

	return cfg, logger, func() { _ = cleanup() }, nil
}

func setupDatabase(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Setup(ctx); err != nil {
		return err
	}
	logger.Info("database tables created", "db", cfg.DatabasePath)
	return nil
}

func fetchEmails(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Setup(ctx); err != nil {
		return err
	}

	client, err := gmail.NewClient(ctx, gmail.Options{
		CredentialsFile: cfg.CredentialsFile,
		TokenFile:       cfg.TokenFile,
	}, logger)
	if err != nil {
		return fmt.Errorf("gmail client: %w", err)
	}

	stored, err := client.FetchAndStore(ctx, st, cfg.MaxEmails, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("fetch emails: %w", err)
	}
	logger.Info("email fetch completed", "stored", stored)
	return nil
}

func processRules(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Setup(ctx); err != nil {
		return err
	}

	ruleList := loadRules(cfg.RulesFile, logger)

	eng, err := engine.New(st, ruleList, logger, engine.Options{DryRun: cfg.DryRun})
	if err != nil {
		return fmt.Errorf("engine.New: %w", err)
	}

	started := time.Now()
	stats, err := eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("process rules: %w", err)
	}

	attrs := append(stats.LogAttrs(), "duration", time.Since(started))
	logger.Info("rule processing completed", attrs...)
	return nil
}

// loadRules degrades to an empty rule list on a missing or malformed
// rules file; the run continues and matches nothing.
func loadRules(path string, logger *slog.Logger) []rules.Rule {
	loaded, rejected, err := rules.Load(path)
	if err != nil {
		logger.Warn("rules file unreadable, continuing with no rules", "rules", path, "err", err)
		return nil
	}
	for _, rejErr := range rejected {
		logger.Warn("rule rejected", "rules", path, "err", rejErr)
	}
	if len(loaded) == 0 {
		logger.Warn("no rules loaded", "rules", path)
		return nil
	}
	logger.Info("rules loaded", "count", len(loaded), "names", rules.Names(loaded))
	return loaded
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("email-rule-ops-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
