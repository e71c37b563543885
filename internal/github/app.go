package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// appTokenSource exchanges a GitHub App JWT for installation tokens.
type appTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	apps           *github.Client
	now            func() time.Time
}

func newAppTokenSource(cfg Config, base *http.Client) (*appTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub App private key: %w", err)
	}
	ts := &appTokenSource{
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		key:            key,
		now:            time.Now,
	}

	// The apps client authenticates with a fresh JWT on every request.
	jwtClient := &http.Client{
		Transport: &oauth2.Transport{Source: tokenFunc(ts.jwtToken), Base: base.Transport},
		Timeout:   base.Timeout,
	}
	ts.apps = github.NewClient(jwtClient)
	if cfg.BaseURL != "" {
		u, err := parseBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		ts.apps.BaseURL = u
	}
	return ts, nil
}

// AppJWT signs the short-lived app JWT GitHub expects: issued a minute in
// the past to absorb clock drift, valid for nine minutes.
func AppJWT(appID int64, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}

type tokenFunc func() (*oauth2.Token, error)

func (f tokenFunc) Token() (*oauth2.Token, error) { return f() }

func (s *appTokenSource) jwtToken() (*oauth2.Token, error) {
	signed, err := AppJWT(s.appID, s.key, s.now())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer"}, nil
}

// slug returns the bot login the app's installation comments under.
func (s *appTokenSource) slug(ctx context.Context) (string, error) {
	a, _, err := s.apps.Apps.Get(ctx, "")
	if err != nil {
		return "", err
	}
	return a.GetSlug() + "[bot]", nil
}

// Token implements oauth2.TokenSource. oauth2.ReuseTokenSource caches the
// result until shortly before it expires.
func (s *appTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	it, _, err := s.apps.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("create installation token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: it.GetToken(),
		TokenType:   "token",
		Expiry:      it.GetExpiresAt().Time,
	}, nil
}
