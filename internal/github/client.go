// Package github is the GitHub REST and GraphQL client behind every external
// call prguard makes. Each call is paced, bounded by a timeout and retried on
// transient failures.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/joescharf/prguard/internal/models"
)

// PerPage is the page size used for every paginated listing.
const PerPage = 100

// Config holds client settings.
type Config struct {
	Token string
	// BaseURL overrides the REST endpoint, e.g. for GitHub Enterprise.
	BaseURL string

	// GitHub App credentials, used when Token is empty.
	AppID          int64
	InstallationID int64
	PrivateKey     []byte

	// Identity is the login prguard comments under. When empty it is
	// looked up from the credentials on first use.
	Identity string

	CallTimeout  time.Duration
	MaxRetries   int
	RateLimitRPS float64

	// HTTPClient is the base transport; auth is layered on top.
	HTTPClient *http.Client
}

// Client wraps go-github with pacing and retries.
type Client struct {
	gh         *github.Client
	graphqlURL string
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger

	identityMu     sync.Mutex
	identity       string
	lookupIdentity func(ctx context.Context) (string, error)
}

// NewClient creates a Client. A token takes precedence over App credentials.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	var (
		ts  oauth2.TokenSource
		app *appTokenSource
	)
	switch {
	case cfg.Token != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	case cfg.AppID != 0 && cfg.InstallationID != 0 && len(cfg.PrivateKey) > 0:
		var err error
		app, err = newAppTokenSource(cfg, base)
		if err != nil {
			return nil, err
		}
		ts = oauth2.ReuseTokenSource(nil, app)
	default:
		return nil, fmt.Errorf("GitHub credentials not found: set github.token (or GITHUB_TOKEN) or GitHub App credentials")
	}

	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	if cfg.BaseURL != "" {
		u, err := parseBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		gh.BaseURL = u
	}

	c := &Client{
		gh:         gh,
		graphqlURL: graphqlEndpoint(gh.BaseURL),
		timeout:    cfg.CallTimeout,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
		logger:     logger,
		identity:   cfg.Identity,
	}
	if app != nil {
		c.lookupIdentity = app.slug
	} else {
		c.lookupIdentity = func(ctx context.Context) (string, error) {
			u, _, err := gh.Users.Get(ctx, "")
			return u.GetLogin(), err
		}
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if cfg.RateLimitRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	return c, nil
}

// Identity returns the login prguard's own comments are authored under.
func (c *Client) Identity(ctx context.Context) (string, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.identity != "" {
		return c.identity, nil
	}

	var login string
	err := c.do(ctx, "resolve identity", func(ctx context.Context) error {
		var err error
		login, err = c.lookupIdentity(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	if login == "" {
		return "", fmt.Errorf("resolve identity: credentials have no login")
	}
	c.identity = login
	return login, nil
}

func parseBaseURL(s string) (*url.URL, error) {
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub base URL: %w", err)
	}
	return u, nil
}

// graphqlEndpoint derives the GraphQL URL from the REST base URL.
func graphqlEndpoint(base *url.URL) string {
	u := *base
	switch {
	case u.Host == "api.github.com":
		u.Path = "/graphql"
	case strings.HasSuffix(u.Path, "/api/v3/"):
		u.Path = strings.TrimSuffix(u.Path, "v3/") + "graphql"
	default:
		u.Path = strings.TrimSuffix(u.Path, "/") + "/graphql"
	}
	return u.String()
}

func toPullRequest(pr *github.PullRequest) *models.PullRequest {
	return &models.PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		BaseRef: pr.GetBase().GetRef(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		Author:  pr.GetUser().GetLogin(),
	}
}

func toIssue(iss *github.Issue) *models.Issue {
	out := &models.Issue{
		IssueRef: models.IssueRef{Number: iss.GetNumber(), NodeID: models.NodeID(iss.GetNodeID())},
		Title:    iss.GetTitle(),
		Body:     iss.GetBody(),
		Open:     iss.GetState() == "open",
	}
	for _, l := range iss.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}
