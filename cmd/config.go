package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/guardrail"
	"github.com/joescharf/prguard/internal/output"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "prguard"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prguard configuration.

Running bare 'prguard config' is the same as 'prguard config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

var configWorkflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Show the effective workflow document settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configWorkflowRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configWorkflowCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# prguard configuration
# See: prguard config show (for effective values and sources)

# Workflow document with guardrail, reviewer and severity settings,
# relative to the repository root
workflow_config: "{{ .WorkflowConfig }}"

# SQLite run ledger (default: ~/.config/prguard/prguard.db)
# db_path: {{ .DBPath }}

# GitHub
github:
  # Token (falls back to $GITHUB_TOKEN). Leave empty to use GitHub App auth.
  # token: ""
  # REST endpoint for GitHub Enterprise (falls back to $GITHUB_API_URL)
  # api_url: ""
  # app_id: 0
  # app_installation_id: 0
  # app_private_key_path: ""
  # Login the bot comments as; review cycles only count its markers.
  # Resolved from the token or GitHub App when empty.
  # identity: ""
  call_timeout: {{ .CallTimeout }}
  max_retries: {{ .MaxRetries }}
  rate_limit_rps: {{ .RateLimitRPS }}

# Automated reviewers
reviewer:
  # api (Anthropic API), cli (local command) or none
  backend: "{{ .ReviewerBackend }}"
  # Command for the cli backend; the prompt is passed as arguments or stdin
  command: "{{ .ReviewerCommand }}"
  max_parallel: {{ .ReviewerMaxParallel }}

anthropic:
  # API key (falls back to $ANTHROPIC_API_KEY)
  # api_key: ""
  model: "{{ .AnthropicModel }}"

# Redis address for cross-runner locking (empty: process-local lock)
redis:
  addr: "{{ .RedisAddr }}"

# Webhook server
webhook:
  # HMAC secret configured on the GitHub webhook; required
  # secret: ""
port: {{ .Port }}
`

type configTemplateData struct {
	WorkflowConfig      string
	DBPath              string
	CallTimeout         string
	MaxRetries          int
	RateLimitRPS        float64
	ReviewerBackend     string
	ReviewerCommand     string
	ReviewerMaxParallel int
	AnthropicModel      string
	RedisAddr           string
	Port                int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		WorkflowConfig:      viper.GetString("workflow_config"),
		DBPath:              viper.GetString("db_path"),
		CallTimeout:         viper.GetDuration("github.call_timeout").String(),
		MaxRetries:          viper.GetInt("github.max_retries"),
		RateLimitRPS:        viper.GetFloat64("github.rate_limit_rps"),
		ReviewerBackend:     viper.GetString("reviewer.backend"),
		ReviewerCommand:     viper.GetString("reviewer.command"),
		ReviewerMaxParallel: viper.GetInt("reviewer.max_parallel"),
		AnthropicModel:      viper.GetString("anthropic.model"),
		RedisAddr:           viper.GetString("redis.addr"),
		Port:                viper.GetInt("port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "workflow_config", EnvVar: "PRGUARD_WORKFLOW_CONFIG"},
	{Key: "db_path", EnvVar: "PRGUARD_DB_PATH"},
	{Key: "github.token", EnvVar: "PRGUARD_GITHUB_TOKEN", Secret: true},
	{Key: "github.api_url", EnvVar: "PRGUARD_GITHUB_API_URL"},
	{Key: "github.app_id", EnvVar: "PRGUARD_GITHUB_APP_ID"},
	{Key: "github.app_installation_id", EnvVar: "PRGUARD_GITHUB_APP_INSTALLATION_ID"},
	{Key: "github.app_private_key_path", EnvVar: "PRGUARD_GITHUB_APP_PRIVATE_KEY_PATH"},
	{Key: "github.identity", EnvVar: "PRGUARD_GITHUB_IDENTITY"},
	{Key: "github.call_timeout", EnvVar: "PRGUARD_GITHUB_CALL_TIMEOUT"},
	{Key: "github.max_retries", EnvVar: "PRGUARD_GITHUB_MAX_RETRIES"},
	{Key: "github.rate_limit_rps", EnvVar: "PRGUARD_GITHUB_RATE_LIMIT_RPS"},
	{Key: "reviewer.backend", EnvVar: "PRGUARD_REVIEWER_BACKEND"},
	{Key: "reviewer.command", EnvVar: "PRGUARD_REVIEWER_COMMAND"},
	{Key: "reviewer.max_parallel", EnvVar: "PRGUARD_REVIEWER_MAX_PARALLEL"},
	{Key: "anthropic.api_key", EnvVar: "PRGUARD_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "PRGUARD_ANTHROPIC_MODEL"},
	{Key: "redis.addr", EnvVar: "PRGUARD_REDIS_ADDR"},
	{Key: "webhook.secret", EnvVar: "PRGUARD_WEBHOOK_SECRET", Secret: true},
	{Key: "port", EnvVar: "PRGUARD_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set: set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prguard config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}

func configWorkflowRun() error {
	cfg, err := loadWorkflowConfig()
	if err != nil {
		return err
	}
	ui.Info("Workflow config: %s", viper.GetString("workflow_config"))
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Guardrail", "Enabled", "Threshold", "Conclusion"})
	rows := []struct {
		name string
		g    config.Guardrail
	}{
		{guardrail.CheckTestRatio, cfg.TestRatio},
		{guardrail.CheckCommits, cfg.Commits},
		{guardrail.CheckDependencies, cfg.Dependencies},
		{guardrail.CheckScope, cfg.Scope},
		{guardrail.CheckAPISurface, cfg.APISurface},
	}
	for _, r := range rows {
		threshold := "-"
		if r.name == guardrail.CheckTestRatio {
			threshold = strconv.FormatFloat(r.g.Threshold, 'f', -1, 64)
		}
		_ = table.Append([]string{r.name, strconv.FormatBool(r.g.Enabled), threshold, output.ConclusionColor(string(r.g.Conclusion))})
	}
	_ = table.Render()

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  %-22s %d\n", "re-review-cycle-cap", cfg.ReReviewCycleCap)
	fmt.Fprintf(ui.Out, "  %-22s %s\n", "reviewers", strings.Join(cfg.Reviewers, ", "))
	if len(cfg.TestPatterns) > 0 {
		fmt.Fprintf(ui.Out, "  %-22s %s\n", "test-patterns", strings.Join(cfg.TestPatterns, ", "))
	}
	if len(cfg.CodeExtensions) > 0 {
		fmt.Fprintf(ui.Out, "  %-22s %s\n", "code-extensions", strings.Join(cfg.CodeExtensions, ", "))
	}
	return nil
}
