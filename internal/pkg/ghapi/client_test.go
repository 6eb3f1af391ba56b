package ghapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/review_go_server/internal/pkg/cache"
)

func setupCache(t *testing.T) *cache.Cache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.New(client)
}

const prPayload = `{
	"number": 42,
	"title": "Fix race condition",
	"user": {"login": "octocat"},
	"base": {"sha": "base111"},
	"head": {"sha": "head222"},
	"additions": 10,
	"deletions": 3,
	"changed_files": 2
}`

const filesPayload = `[
	{"filename": "main.go", "status": "modified", "additions": 8, "deletions": 2, "patch": "@@ -1 +1 @@"},
	{"filename": "util.go", "status": "added", "additions": 2, "deletions": 1, "patch": "@@ -5 +5 @@"}
]`

func TestClient_FetchPullRequestDiff(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/repos/octo/repo/pulls/42":
			fmt.Fprint(w, prPayload)
		case "/repos/octo/repo/pulls/42/files":
			fmt.Fprint(w, filesPayload)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, setupCache(t))
	ctx := context.Background()

	bundle, err := c.FetchPullRequestDiff(ctx, "octo/repo", 42, "gh-token")
	require.NoError(t, err)

	assert.Equal(t, 42, bundle.PRNumber)
	assert.Equal(t, "Fix race condition", bundle.Title)
	assert.Equal(t, "octocat", bundle.Author)
	assert.Equal(t, "base111", bundle.BaseSHA)
	assert.Equal(t, "head222", bundle.HeadSHA)
	assert.Equal(t, 10, bundle.Additions)
	assert.Equal(t, 3, bundle.Deletions)
	require.Len(t, bundle.Files, 2)
	assert.Equal(t, "main.go", bundle.Files[0].Filename)
	assert.Equal(t, "modified", bundle.Files[0].Status)
	assert.Equal(t, "@@ -1 +1 @@", bundle.Files[0].Patch)

	// 第二次走缓存，不再请求上游
	before := requests
	cached, err := c.FetchPullRequestDiff(ctx, "octo/repo", 42, "gh-token")
	require.NoError(t, err)
	assert.Equal(t, bundle.HeadSHA, cached.HeadSHA)
	assert.Equal(t, before, requests)
}

func TestClient_FetchPullRequestDiff_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, setupCache(t))

	_, err := c.FetchPullRequestDiff(context.Background(), "octo/repo", 999, "gh-token")
	assert.ErrorIs(t, err, ErrPullNotFound)
}

func TestClient_FetchPullRequestDiff_AccessDenied(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := NewClient(server.URL, 5*time.Second, setupCache(t))
		_, err := c.FetchPullRequestDiff(context.Background(), "octo/repo", 42, "gh-token")
		assert.ErrorIs(t, err, ErrAccessDenied)

		server.Close()
	}
}

func TestClient_PullRequestExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/octo/repo/pulls/42" {
			fmt.Fprint(w, `{"number": 42}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, setupCache(t))
	ctx := context.Background()

	exists, err := c.PullRequestExists(ctx, "octo/repo", 42, "gh-token")
	require.NoError(t, err)
	assert.True(t, exists)

	// 404 归一化为 (false, nil)，不是错误
	exists, err = c.PullRequestExists(ctx, "octo/repo", 999, "gh-token")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_VerifyAccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo/visible":
			fmt.Fprint(w, `{"id": 1}`)
		case "/repos/octo/private":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, setupCache(t))
	ctx := context.Background()

	assert.NoError(t, c.VerifyAccess(ctx, "octo/visible", "gh-token"))
	assert.ErrorIs(t, c.VerifyAccess(ctx, "octo/private", "gh-token"), ErrAccessDenied)
	assert.ErrorIs(t, c.VerifyAccess(ctx, "octo/gone", "gh-token"), ErrRepoNotFound)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", 0, setupCache(t))
	assert.Equal(t, "https://api.github.com", c.baseURL)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}
