package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/dispatch"
	"github.com/joescharf/prguard/internal/git"
	"github.com/joescharf/prguard/internal/github"
	"github.com/joescharf/prguard/internal/llm"
	"github.com/joescharf/prguard/internal/lock"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/pipeline"
	"github.com/joescharf/prguard/internal/prcontext"
	"github.com/joescharf/prguard/internal/review"
)

// loadWorkflowConfig reads the workflow document and surfaces its warnings.
func loadWorkflowConfig() (*config.Config, error) {
	path := viper.GetString("workflow_config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		ui.Warning("%s", w)
	}
	ui.VerboseLog("Workflow config: %s", path)
	return cfg, nil
}

// githubConfig builds the client settings. GITHUB_TOKEN and GITHUB_API_URL
// are honored so the CLI works unconfigured inside Actions.
func githubConfig() (github.Config, error) {
	cfg := github.Config{
		Token:          viper.GetString("github.token"),
		BaseURL:        viper.GetString("github.api_url"),
		AppID:          viper.GetInt64("github.app_id"),
		InstallationID: viper.GetInt64("github.app_installation_id"),
		CallTimeout:    viper.GetDuration("github.call_timeout"),
		MaxRetries:     viper.GetInt("github.max_retries"),
		RateLimitRPS:   viper.GetFloat64("github.rate_limit_rps"),
		Identity:       viper.GetString("github.identity"),
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("GITHUB_TOKEN")
		// The Actions token cannot read /user; it always posts as this login.
		if cfg.Token != "" && cfg.Identity == "" && os.Getenv("GITHUB_ACTIONS") == "true" {
			cfg.Identity = "github-actions[bot]"
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("GITHUB_API_URL")
	}
	if cfg.Token == "" && cfg.AppID != 0 {
		path := viper.GetString("github.app_private_key_path")
		if path == "" {
			return cfg, fmt.Errorf("github.app_private_key_path is required for GitHub App auth")
		}
		key, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read GitHub App private key: %w", err)
		}
		cfg.PrivateKey = key
	}
	return cfg, nil
}

func newGitHubClient() (*github.Client, error) {
	cfg, err := githubConfig()
	if err != nil {
		return nil, err
	}
	return github.NewClient(cfg, ui.Logger())
}

// resolveRepo picks the repository from --repo, $GITHUB_REPOSITORY, or the
// origin remote of the working directory, in that order.
func resolveRepo() (models.Repo, error) {
	if repoFlag != "" {
		return models.ParseRepo(repoFlag)
	}
	if env := os.Getenv("GITHUB_REPOSITORY"); env != "" {
		return models.ParseRepo(env)
	}
	repo, err := git.DetectRepo(git.NewClient(), ".")
	if err != nil {
		return models.Repo{}, fmt.Errorf("cannot determine repository (use --repo owner/name): %w", err)
	}
	return repo, nil
}

// resolveEvent builds the pipeline entry state. An explicit PR number wins;
// otherwise the Actions event payload is read from $GITHUB_EVENT_PATH.
func resolveEvent(pr int) (prcontext.Event, models.Repo, error) {
	var payload []byte
	if path := os.Getenv("GITHUB_EVENT_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, models.Repo{}, fmt.Errorf("read event payload: %w", err)
		}
		payload = data
	}
	prInput := ""
	if pr > 0 {
		prInput = strconv.Itoa(pr)
	}

	ev, repo, err := prcontext.EventFromActions(os.Getenv("GITHUB_EVENT_NAME"), payload, prInput)
	if err != nil {
		return nil, models.Repo{}, err
	}
	if repoFlag != "" || repo.IsZero() {
		if repo, err = resolveRepo(); err != nil {
			return nil, models.Repo{}, err
		}
	}
	return ev, repo, nil
}

// newLocker returns a Redis lock when redis.addr is set so that concurrent
// runners serialize on a parent issue, and a process-local lock otherwise.
func newLocker() lock.Locker {
	if addr := viper.GetString("redis.addr"); addr != "" {
		ui.VerboseLog("Using Redis lock at %s", addr)
		return lock.NewRedis(redis.NewClient(&redis.Options{Addr: addr}), 0, ui.Logger())
	}
	return lock.NewLocal()
}

// newReviewer builds the reviewer for the configured backend. It returns nil
// for backend "none".
func newReviewer(files review.FileLister) (dispatch.Reviewer, error) {
	cfg := review.DefaultConfig()

	var backend review.Backend
	switch strings.ToLower(cfg.Backend) {
	case "api":
		key := viper.GetString("anthropic.api_key")
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic.api_key (or ANTHROPIC_API_KEY) is required for the api reviewer backend")
		}
		backend = review.NewBreaker("anthropic", llm.NewClient(key, viper.GetString("anthropic.model")))
	case "cli":
		dir, err := git.NewClient().RepoRoot(".")
		if err != nil {
			dir = "."
		}
		backend = review.NewBreaker("cli", review.NewCLIBackend(cfg, dir))
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reviewer backend %q (want api, cli or none)", cfg.Backend)
	}
	return review.NewReviewer(backend, files, cfg), nil
}

type pipelineOpts struct {
	withReviewer bool
}

// newPipeline wires the GitHub client, workflow config, ledger and lock into
// a Pipeline. A ledger that cannot be opened is reported and skipped.
func newPipeline(opts pipelineOpts) (*pipeline.Pipeline, *config.Config, error) {
	cfg, err := loadWorkflowConfig()
	if err != nil {
		return nil, nil, err
	}
	gh, err := newGitHubClient()
	if err != nil {
		return nil, nil, err
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(ui.Logger()),
		pipeline.WithLocker(newLocker()),
		pipeline.WithDryRun(dryRun),
	}
	if s, err := getStore(); err != nil {
		ui.Warning("Run history disabled: %v", err)
	} else {
		popts = append(popts, pipeline.WithRecorder(s))
	}
	if opts.withReviewer {
		r, err := newReviewer(gh)
		if err != nil {
			return nil, nil, err
		}
		if r != nil {
			popts = append(popts, pipeline.WithReviewer(r, viper.GetInt("reviewer.max_parallel")))
		}
	}

	p, err := pipeline.New(gh, cfg, popts...)
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}
