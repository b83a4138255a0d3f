package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/resilience"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *GitHubClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewGitHubClient(context.Background(), GitHubConfig{
		Token:             "tok",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		Retry:             resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestListIssues_PaginatesAndSkipsPulls(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/comerito/cezar/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Equal(t, "2025-06-01T00:00:00Z", r.URL.Query().Get("since"))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"number":3,"title":"Closed one","state":"closed","closed_at":"2025-06-03T10:00:00Z",
				"user":{"login":"bob"},"labels":[{"name":"bug"}],"assignees":[{"login":"ann"}],
				"created_at":"2025-06-02T10:00:00Z","updated_at":"2025-06-03T10:00:00Z",
				"html_url":"https://github.com/comerito/cezar/issues/3"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/comerito/cezar/issues?page=2>; rel="next"`, srvURL))
		fmt.Fprint(w, `[
			{"number":1,"title":"Open one","body":"Steps","state":"open","user":{"login":"amy"},
			 "created_at":"2025-06-01T10:00:00Z","updated_at":"2025-06-02T10:00:00Z"},
			{"number":2,"title":"A PR","state":"open","pull_request":{"url":"https://api.github.com/pulls/2"}}
		]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c, err := NewGitHubClient(context.Background(), GitHubConfig{Token: "tok", BaseURL: srv.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)

	issues, err := c.ListIssues(context.Background(), "comerito", "cezar", &since)
	require.NoError(t, err)
	require.Len(t, issues, 2)

	assert.Equal(t, 1, issues[0].Number)
	assert.Equal(t, model.StateOpen, issues[0].State)
	assert.Equal(t, "amy", issues[0].Author)
	assert.Equal(t, "Steps", issues[0].Body)
	assert.Nil(t, issues[0].ClosedAt)
	assert.Empty(t, issues[0].Labels)

	closed := issues[1]
	assert.Equal(t, 3, closed.Number)
	assert.Equal(t, model.StateClosed, closed.State)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"bug"}, closed.Labels)
	assert.Equal(t, []string{"ann"}, closed.Assignees)
	assert.Equal(t, "https://github.com/comerito/cezar/issues/3", closed.URL)
}

func TestListIssues_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/comerito/cezar/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("since"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message":"bad gateway"}`)
			return
		}
		fmt.Fprint(w, `[{"number":1,"title":"t","state":"open"}]`)
	})
	c := newTestClient(t, mux)

	issues, err := c.ListIssues(context.Background(), "comerito", "cezar", nil)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListIssues_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/comerito/cezar/issues", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.ListIssues(context.Background(), "comerito", "cezar", nil)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "tracker: list issues")
	assert.Equal(t, int32(1), calls.Load())
}

func TestListComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/comerito/cezar/issues/7/comments", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[
			{"body":"Can reproduce","user":{"login":"amy"},"created_at":"2025-06-01T10:00:00Z"},
			{"body":"Fixed in main","user":{"login":"maintainer"},"created_at":"2025-06-02T10:00:00Z"}
		]`)
	})
	c := newTestClient(t, mux)

	comments, err := c.ListComments(context.Background(), "comerito", "cezar", 7)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, model.Comment{
		Author:    "maintainer",
		Body:      "Fixed in main",
		CreatedAt: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}, comments[1])
}

func TestListComments_Empty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/comerito/cezar/issues/8/comments", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	c := newTestClient(t, mux)

	comments, err := c.ListComments(context.Background(), "comerito", "cezar", 8)
	require.NoError(t, err)
	assert.NotNil(t, comments)
	assert.Empty(t, comments)
}

func TestListMembers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/comerito/cezar/collaborators", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "push", r.URL.Query().Get("permission"))
		fmt.Fprint(w, `[{"login":"maintainer"},{"login":"amy"}]`)
	})
	c := newTestClient(t, mux)

	members, err := c.ListMembers(context.Background(), "comerito", "cezar")
	require.NoError(t, err)
	assert.Equal(t, []string{"maintainer", "amy"}, members)
}

func TestNewGitHubClient_InvalidBaseURL(t *testing.T) {
	_, err := NewGitHubClient(context.Background(), GitHubConfig{BaseURL: "://nope"})
	assert.Error(t, err)
}
