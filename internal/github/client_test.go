package github

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/models"
)

var repo = models.Repo{Owner: "acme", Name: "widgets"}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{Token: "test-token", BaseURL: srv.URL, MaxRetries: 2, CallTimeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	c.backoff = time.Millisecond
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}

func TestListFiles_FollowsPagination(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}
		if page == 1 {
			next := *r.URL
			q := next.Query()
			q.Set("page", "2")
			next.RawQuery = q.Encode()
			w.Header().Set("Link", fmt.Sprintf(`<http://%s%s>; rel="next"`, r.Host, next.RequestURI()))
			fmt.Fprint(w, `[{"filename":"a.go","additions":10,"deletions":1,"status":"modified"}]`)
			return
		}
		fmt.Fprint(w, `[{"filename":"a_test.go","additions":4,"status":"added"},{"filename":"old.go","deletions":9,"status":"removed"}]`)
	})

	files, err := newTestClient(t, mux).ListFiles(t.Context(), repo, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, files, 3)
	assert.Equal(t, models.DiffEntry{Path: "a.go", Additions: 10, Deletions: 1, Status: models.FileStatusModified}, files[0])
	assert.Equal(t, models.FileStatusRemoved, files[2].Status)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"number":7,"title":"Add thing","body":"Fixes #42","base":{"ref":"main"},"head":{"ref":"feat","sha":"abc"},"user":{"login":"dev"}}`)
	})

	pr, err := newTestClient(t, mux).GetPullRequest(t.Context(), repo, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, &models.PullRequest{Number: 7, Title: "Add thing", Body: "Fixes #42", BaseRef: "main", HeadRef: "feat", HeadSHA: "abc", Author: "dev"}, pr)
}

func TestDo_GivesUpWithTransientError(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := newTestClient(t, mux).ListReviews(t.Context(), repo, 7)
	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/issues/9", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	_, err := newTestClient(t, mux).GetIssue(t.Context(), repo, 9)
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateCheck(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/widgets/check-runs", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":1}`)
	})

	err := newTestClient(t, mux).CreateCheck(t.Context(), repo, models.Check{
		Name:        "guardrail/test-ratio",
		HeadSHA:     "abc",
		Conclusion:  models.ConclusionActionRequired,
		Title:       "ratio",
		Summary:     "low",
		Annotations: []models.Annotation{{Path: "a.go", Message: "add tests"}, {Path: "b.go", Line: 12, Message: "exported"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "guardrail/test-ratio", got["name"])
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, "action_required", got["conclusion"])

	output := got["output"].(map[string]any)
	annotations := output["annotations"].([]any)
	require.Len(t, annotations, 2)
	a := annotations[0].(map[string]any)
	assert.Equal(t, "a.go", a["path"])
	assert.Equal(t, "warning", a["annotation_level"])
	assert.EqualValues(t, 1, a["start_line"])
	b := annotations[1].(map[string]any)
	assert.EqualValues(t, 12, b["start_line"])
	assert.EqualValues(t, 12, b["end_line"])
}

func TestEnsureLabel_CreatesWhenMissing(t *testing.T) {
	var created atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/labels/blocking", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("POST /repos/acme/widgets/labels", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "B60205", body["color"])
		created.Store(true)
		fmt.Fprint(w, `{"name":"blocking"}`)
	})

	require.NoError(t, newTestClient(t, mux).EnsureLabel(t.Context(), repo, "blocking", "B60205", "Must fix"))
	assert.True(t, created.Load())
}

func TestGraphQL_SubIssues(t *testing.T) {
	var cursors []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "I_parent", req.Variables["id"])

		after, _ := req.Variables["after"].(string)
		cursors = append(cursors, after)
		if after == "" {
			fmt.Fprint(w, `{"data":{"node":{"subIssues":{"nodes":[{"id":"I_1","number":101,"title":"[blocking] a.go:1: x","body":"b","state":"OPEN","labels":{"nodes":[{"name":"blocking"}]}}],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"node":{"subIssues":{"nodes":[{"id":"I_2","number":102,"state":"CLOSED","labels":{"nodes":[]}}],"pageInfo":{"hasNextPage":false}}}}}`)
	})

	subs, err := newTestClient(t, mux).ListSubIssues(t.Context(), "I_parent")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "c1"}, cursors)
	require.Len(t, subs, 2)
	assert.Equal(t, models.NodeID("I_1"), subs[0].NodeID)
	assert.True(t, subs[0].Open)
	assert.Equal(t, []string{"blocking"}, subs[0].Labels)
	assert.False(t, subs[1].Open)
}

func TestGraphQL_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "addSubIssue")
		fmt.Fprint(w, `{"errors":[{"type":"NOT_FOUND","message":"Could not resolve to a node"}]}`)
	})

	err := newTestClient(t, mux).AddSubIssue(t.Context(), "I_parent", "I_child")
	var ge *GraphQLError
	require.ErrorAs(t, err, &ge)
	assert.Contains(t, err.Error(), "Could not resolve")
}

func TestReviewCycles(t *testing.T) {
	var userCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		comments := []map[string]any{
			{"body": CycleMarker(1) + "\ncycle 1", "user": map[string]string{"login": "prguard-bot"}},
			{"body": "lgtm", "user": map[string]string{"login": "alice"}},
			{"body": "> " + CycleMarker(1) + "\nwhy another cycle?", "user": map[string]string{"login": "alice"}},
			{"body": CycleMarker(2), "user": map[string]string{"login": "PRGuard-Bot"}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(comments))
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		userCalls.Add(1)
		fmt.Fprint(w, `{"login":"prguard-bot"}`)
	})

	c := newTestClient(t, mux)
	n, err := c.ReviewCycles(t.Context(), repo, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "quoted markers from other authors do not count")

	_, err = c.ReviewCycles(t.Context(), repo, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(1), userCalls.Load(), "identity is resolved once")
}

func TestReviewCycles_NoMarkersSkipsIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"body":"lgtm","user":{"login":"alice"}}]`)
	})

	n, err := newTestClient(t, mux).ReviewCycles(t.Context(), repo, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReviewCycles_ConfiguredIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"body":%q,"user":{"login":"github-actions[bot]"}},{"body":%q,"user":{"login":"mallory"}}]`,
			CycleMarker(1), CycleMarker(2))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Token: "t", BaseURL: srv.URL, Identity: "github-actions[bot]"}, nil)
	require.NoError(t, err)

	n, err := c.ReviewCycles(t.Context(), repo, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGraphQLEndpoint(t *testing.T) {
	tests := []struct{ base, want string }{
		{"https://api.github.com/", "https://api.github.com/graphql"},
		{"https://ghe.example.com/api/v3/", "https://ghe.example.com/api/graphql"},
		{"http://127.0.0.1:8080/", "http://127.0.0.1:8080/graphql"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.base)
		require.NoError(t, err)
		assert.Equal(t, tt.want, graphqlEndpoint(u))
	}
}

func TestAppJWT(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	signed, err := AppJWT(12345, key, now)
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, err = parser.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil })
	require.NoError(t, err)
	assert.Equal(t, "12345", claims.Issuer)
	assert.Equal(t, now.Add(-time.Minute).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(9*time.Minute).Unix(), claims.ExpiresAt.Unix())
}
