package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/output"
	"github.com/joescharf/prguard/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose  bool
	dryRun   bool
	repoFlag string
)

var rootCmd = &cobra.Command{
	Use:   "prguard",
	Short: "PR review and guardrail orchestration",
	Long: `prguard runs merge guardrails as check runs, turns review comments into
a tracked issue graph, and dispatches automated reviewers against pull
requests. It runs as a CLI inside GitHub Actions, as a webhook server, or
as an MCP server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Evaluate and log without writing to GitHub")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository as owner/name (default from $GITHUB_REPOSITORY or the origin remote)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PRGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every tool setting with its default.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("workflow_config", ".github/agent-workflow/config.yaml")
	viper.SetDefault("db_path", filepath.Join(dir, "prguard.db"))
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", "")
	viper.SetDefault("github.app_id", 0)
	viper.SetDefault("github.app_installation_id", 0)
	viper.SetDefault("github.app_private_key_path", "")
	viper.SetDefault("github.identity", "")
	viper.SetDefault("github.call_timeout", "30s")
	viper.SetDefault("github.max_retries", 3)
	viper.SetDefault("github.rate_limit_rps", 10.0)
	viper.SetDefault("reviewer.backend", "api")
	viper.SetDefault("reviewer.command", "claude -p")
	viper.SetDefault("reviewer.allowed_tools", "Read Glob Grep Bash(git:*)")
	viper.SetDefault("reviewer.timeout", "10m")
	viper.SetDefault("reviewer.max_parallel", 3)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("webhook.secret", "")
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config and version run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
