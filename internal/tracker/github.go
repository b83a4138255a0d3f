// Package tracker fetches issues, comments and repository members from the
// remote tracker and feeds them into the store.
package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/resilience"
)

// Source is the remote-tracker surface the syncer needs.
type Source interface {
	// ListIssues returns every issue updated at or after since, or every
	// issue when since is nil. Pull requests are not returned.
	ListIssues(ctx context.Context, owner, repo string, since *time.Time) ([]model.RawIssue, error)
	ListComments(ctx context.Context, owner, repo string, number int) ([]model.Comment, error)
	// ListMembers returns the logins with push access.
	ListMembers(ctx context.Context, owner, repo string) ([]string, error)
}

const (
	defaultTimeout = 30 * time.Second
	perPage        = 100
)

// GitHubConfig configures GitHubClient.
type GitHubConfig struct {
	Token string
	// BaseURL overrides the API root, e.g. https://ghe.example.com/api/v3/.
	BaseURL           string
	RequestsPerSecond float64
	Retry             resilience.Policy
}

// GitHubClient implements Source against the GitHub REST API.
type GitHubClient struct {
	gh      *gh.Client
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewGitHubClient creates a client authenticated with a static token. An
// empty token makes unauthenticated requests.
func NewGitHubClient(ctx context.Context, cfg GitHubConfig) (*GitHubClient, error) {
	var hc *http.Client
	if cfg.Token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = defaultTimeout

	client := gh.NewClient(hc)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, eris.Wrapf(err, "tracker: invalid base url %q", cfg.BaseURL)
		}
		client.BaseURL = u
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error) {
			zap.L().Warn("tracker: retrying github request", zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	return &GitHubClient{
		gh:      client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   retry,
	}, nil
}

// ListIssues pages through the repository's issues, oldest update first.
func (c *GitHubClient) ListIssues(ctx context.Context, owner, repo string, since *time.Time) ([]model.RawIssue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	var out []model.RawIssue
	pulls := 0
	for {
		issues, resp, err := call(ctx, c, "list issues", func(ctx context.Context) ([]*gh.Issue, *gh.Response, error) {
			return c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
		})
		if err != nil {
			return nil, err
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				pulls++
				continue
			}
			out = append(out, toRawIssue(is))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	zap.L().Debug("tracker: listed issues",
		zap.String("repository", owner+"/"+repo),
		zap.Int("issues", len(out)),
		zap.Int("pull_requests_skipped", pulls),
	)
	return out, nil
}

// ListComments returns every comment on an issue, oldest first.
func (c *GitHubClient) ListComments(ctx context.Context, owner, repo string, number int) ([]model.Comment, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}

	out := []model.Comment{}
	for {
		comments, resp, err := call(ctx, c, "list comments", func(ctx context.Context) ([]*gh.IssueComment, *gh.Response, error) {
			return c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "tracker: comments of #%d", number)
		}
		for _, cm := range comments {
			out = append(out, model.Comment{
				Author:    cm.GetUser().GetLogin(),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// ListMembers returns the logins of collaborators with push access.
func (c *GitHubClient) ListMembers(ctx context.Context, owner, repo string) ([]string, error) {
	opts := &gh.ListCollaboratorsOptions{
		Permission:  "push",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var out []string
	for {
		users, resp, err := call(ctx, c, "list collaborators", func(ctx context.Context) ([]*gh.User, *gh.Response, error) {
			return c.gh.Repositories.ListCollaborators(ctx, owner, repo, opts)
		})
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, u.GetLogin())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

type page[T any] struct {
	items []T
	resp  *gh.Response
}

// call waits for the limiter and performs one request, retrying transient
// failures.
func call[T any](ctx context.Context, c *GitHubClient, op string, fn func(ctx context.Context) ([]T, *gh.Response, error)) ([]T, *gh.Response, error) {
	p, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (page[T], error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return page[T]{}, eris.Wrap(err, "tracker: rate limit wait")
		}
		items, resp, err := fn(ctx)
		if err != nil {
			return page[T]{}, classify(err, op)
		}
		return page[T]{items: items, resp: resp}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return p.items, p.resp, nil
}

// classify wraps a go-github error, marking server-side and rate-limit
// failures as transient.
func classify(err error, op string) error {
	wrapped := eris.Wrapf(err, "tracker: %s", op)

	var rl *gh.RateLimitError
	if errors.As(err, &rl) {
		return resilience.MarkTransient(wrapped, http.StatusTooManyRequests)
	}
	var ar *gh.AbuseRateLimitError
	if errors.As(err, &ar) {
		return resilience.MarkTransient(wrapped, http.StatusTooManyRequests)
	}
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && resilience.TransientStatus(er.Response.StatusCode) {
		return resilience.MarkTransient(wrapped, er.Response.StatusCode)
	}
	return wrapped
}

func toRawIssue(is *gh.Issue) model.RawIssue {
	raw := model.RawIssue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		Body:      is.GetBody(),
		State:     model.StateOpen,
		Author:    is.GetUser().GetLogin(),
		CreatedAt: is.GetCreatedAt().Time,
		UpdatedAt: is.GetUpdatedAt().Time,
		URL:       is.GetHTMLURL(),
		Labels:    make([]string, 0, len(is.Labels)),
		Assignees: make([]string, 0, len(is.Assignees)),
	}
	if is.GetState() == "closed" {
		raw.State = model.StateClosed
	}
	if is.ClosedAt != nil {
		t := is.ClosedAt.Time
		raw.ClosedAt = &t
	}
	for _, l := range is.Labels {
		raw.Labels = append(raw.Labels, l.GetName())
	}
	for _, a := range is.Assignees {
		raw.Assignees = append(raw.Assignees, a.GetLogin())
	}
	return raw
}
