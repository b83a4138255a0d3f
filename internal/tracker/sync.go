package tracker

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

// Store is what a sync writes to. *store.Store satisfies it.
type Store interface {
	Upsert(raw model.RawIssue) (store.UpsertResult, error)
	SetComments(number int, comments []model.Comment) error
	Meta() model.CollectionMeta
	UpdateMeta(fn func(*model.CollectionMeta))
	Len() int
	Save(ctx context.Context) error
}

const defaultCommentWorkers = 4

// Syncer copies remote state into the store.
type Syncer struct {
	src     Source
	st      Store
	workers int
	now     func() time.Time
}

// NewSyncer creates a syncer. workers bounds concurrent comment fetches.
func NewSyncer(src Source, st Store, workers int) *Syncer {
	if workers <= 0 {
		workers = defaultCommentWorkers
	}
	return &Syncer{
		src:     src,
		st:      st,
		workers: workers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Options control a sync.
type Options struct {
	// Full ignores LastSyncedAt and fetches every issue.
	Full   bool
	DryRun bool
}

// SyncResult counts what a sync did.
type SyncResult struct {
	Since        *time.Time `yaml:"since,omitempty"`
	Fetched      int        `yaml:"fetched"`
	Created      int        `yaml:"created"`
	Updated      int        `yaml:"updated"`
	Unchanged    int        `yaml:"unchanged"`
	StateChanged int        `yaml:"state_changed"`
	Members      int        `yaml:"members"`
	Total        int        `yaml:"total"`
}

// Sync fetches issues changed since the last sync (or all of them) and
// upserts each one. Content changes invalidate derived state through the
// store's upsert rule.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*SyncResult, error) {
	meta := s.st.Meta()
	started := s.now()

	res := &SyncResult{}
	if !opts.Full && meta.LastSyncedAt != nil {
		since := *meta.LastSyncedAt
		res.Since = &since
	}

	log := zap.L().With(zap.String("repository", meta.Repository.String()))
	log.Info("tracker: sync starting", zap.Bool("full", res.Since == nil), zap.Bool("dry_run", opts.DryRun))

	raws, err := s.src.ListIssues(ctx, meta.Owner, meta.Repo, res.Since)
	if err != nil {
		return nil, eris.Wrap(err, "tracker: sync")
	}
	res.Fetched = len(raws)

	for _, raw := range raws {
		up, err := s.st.Upsert(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "tracker: upsert #%d", raw.Number)
		}
		switch up.Status {
		case store.UpsertCreated:
			res.Created++
		case store.UpsertUpdated:
			res.Updated++
		case store.UpsertUnchanged:
			res.Unchanged++
		}
		if up.StateChanged {
			res.StateChanged++
		}
	}

	members, err := s.src.ListMembers(ctx, meta.Owner, meta.Repo)
	if err != nil {
		// Listing collaborators needs push access; keep what we had.
		log.Warn("tracker: failed to list members", zap.Error(err))
		members = meta.Members
	}
	slices.Sort(members)
	members = slices.Compact(members)
	res.Members = len(members)
	res.Total = s.st.Len()

	s.st.UpdateMeta(func(m *model.CollectionMeta) {
		m.LastSyncedAt = &started
		m.TotalFetched = res.Total
		m.Members = members
	})

	if !opts.DryRun {
		if err := s.st.Save(ctx); err != nil {
			return nil, eris.Wrap(err, "tracker: save after sync")
		}
	}

	log.Info("tracker: sync complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("state_changed", res.StateChanged),
	)
	return res, nil
}

// CommentCandidates returns open issues whose comments were never fetched
// or were fetched before the issue last changed.
func CommentCandidates(issues []*model.Issue) []int {
	var out []int
	for _, is := range issues {
		if !is.IsOpen() {
			continue
		}
		if is.CommentsFetchedAt == nil || is.UpdatedAt.After(*is.CommentsFetchedAt) {
			out = append(out, is.Number)
		}
	}
	return out
}

// CommentsResult counts a comment fetch.
type CommentsResult struct {
	Requested int   `yaml:"requested"`
	Fetched   int   `yaml:"fetched"`
	Failed    []int `yaml:"failed,omitempty"`
}

// FetchComments fetches comments for numbers in parallel, then stores them
// one issue at a time. An issue whose fetch fails is skipped and keeps its
// old CommentsFetchedAt, so it is retried next time.
func (s *Syncer) FetchComments(ctx context.Context, numbers []int, dryRun bool) (*CommentsResult, error) {
	meta := s.st.Meta()
	res := &CommentsResult{Requested: len(numbers)}
	if len(numbers) == 0 {
		return res, nil
	}

	fetched := make([][]model.Comment, len(numbers))
	ok := make([]bool, len(numbers))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, n := range numbers {
		g.Go(func() error {
			comments, err := s.src.ListComments(gCtx, meta.Owner, meta.Repo, n)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("tracker: comment fetch failed", zap.Int("issue", n), zap.Error(err))
				return nil
			}
			fetched[i] = comments
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "tracker: fetch comments")
	}

	for i, n := range numbers {
		if !ok[i] {
			res.Failed = append(res.Failed, n)
			continue
		}
		if err := s.st.SetComments(n, fetched[i]); err != nil {
			return nil, eris.Wrapf(err, "tracker: store comments of #%d", n)
		}
		res.Fetched++
	}

	if !dryRun && res.Fetched > 0 {
		if err := s.st.Save(ctx); err != nil {
			return nil, eris.Wrap(err, "tracker: save after comments")
		}
	}

	zap.L().Info("tracker: comments fetched",
		zap.Int("requested", res.Requested),
		zap.Int("fetched", res.Fetched),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}
