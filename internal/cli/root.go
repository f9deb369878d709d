// Package cli implements the persona-memory CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/xiy/persona-memory/internal/config"
	"github.com/xiy/persona-memory/internal/memory"
	"github.com/xiy/persona-memory/internal/store"
)

var (
	configPath string
	dbPath     string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "persona-memory",
	Short: "Tiered memory for a persona-driven agent",
	Long:  "Tiered conversational memory with importance scoring, associations, and consolidation. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: $PERSONA_MEMORY_CONFIG or ~/.persona-memory/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (overrides config)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("PERSONA_MEMORY_CONFIG"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".persona-memory", "config.yaml")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.DBPath = config.ExpandPath(dbPath)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *log.Logger {
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          cfg.AgentName,
	})
}

func openStore(ctx context.Context) (store.Store, config.Config, *log.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, cfg, nil, err
	}
	logger := newLogger(cfg)

	sqlStore, err := store.OpenSQLite(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, cfg, logger, err
	}
	sqlStore.SetRetryPolicy(store.RetryPolicy{
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff(),
	})

	cached, err := store.NewCachedStore(sqlStore, cfg.CacheMaxRecords)
	if err != nil {
		sqlStore.Close()
		return nil, cfg, logger, err
	}
	return cached, cfg, logger, nil
}

func openService(ctx context.Context) (*memory.Service, store.Store, error) {
	st, cfg, logger, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return memory.NewService(st, cfg, logger), st, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
