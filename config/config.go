package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Config captures all options required to run the tool.
type Config struct {
	DatabasePath    string
	RulesFile       string
	CredentialsFile string
	TokenFile       string
	MaxEmails       int64
	DryRun          bool
	LogLevel        string
	LogDir          string
}

// RegisterFlags attaches the shared flags to the root command. Every
// flag falls back to an environment variable, then to a default.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("db", "", "Path to the SQLite database file (env DATABASE_PATH, default gmail_rules.db)")
	flags.String("rules", "", "Path to the JSON rules file (env RULES_FILE, default config/rules.json)")
	flags.String("credentials", "", "Path to the Gmail OAuth client secret file (env GMAIL_CREDENTIALS_FILE)")
	flags.String("token", "", "Path to the cached Gmail OAuth token (env GMAIL_TOKEN_FILE)")
	flags.Int64("max-emails", 0, "Maximum number of emails to fetch (env MAX_EMAILS_TO_FETCH, default 100)")
	flags.Bool("dry-run", false, "Evaluate rules and report matches without committing mutations")
	flags.String("log-level", "", "Logging level: debug, info, warn, error (env LOG_LEVEL)")
	flags.String("log-dir", "", "Directory for log files; empty logs to stdout only (env LOG_DIR)")
}

// LoadConfig converts the parsed flags into a Config with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	dbPath, err := flags.GetString("db")
	if err != nil {
		return Config{}, err
	}
	rulesFile, err := flags.GetString("rules")
	if err != nil {
		return Config{}, err
	}
	credentialsFile, err := flags.GetString("credentials")
	if err != nil {
		return Config{}, err
	}
	tokenFile, err := flags.GetString("token")
	if err != nil {
		return Config{}, err
	}
	maxEmails, err := flags.GetInt64("max-emails")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DatabasePath:    fallback(dbPath, "DATABASE_PATH", "gmail_rules.db"),
		RulesFile:       fallback(rulesFile, "RULES_FILE", "config/rules.json"),
		CredentialsFile: fallback(credentialsFile, "GMAIL_CREDENTIALS_FILE", "config/credentials.json"),
		TokenFile:       fallback(tokenFile, "GMAIL_TOKEN_FILE", "config/token.json"),
		MaxEmails:       maxEmails,
		DryRun:          dryRun,
		LogLevel:        strings.ToLower(fallback(logLevel, "LOG_LEVEL", "info")),
		LogDir:          fallback(logDir, "LOG_DIR", ""),
	}

	if cfg.MaxEmails == 0 {
		cfg.MaxEmails = envInt64("MAX_EMAILS_TO_FETCH", 100)
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if cfg.MaxEmails <= 0 {
		return fmt.Errorf("--max-emails must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func fallback(flagValue, envName, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return def
}

func envInt64(envName string, def int64) int64 {
	v := os.Getenv(envName)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
