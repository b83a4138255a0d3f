// Package store holds the full set of tracked issues for one collection and
// persists them as a single versioned snapshot.
//
// A Store is not safe for concurrent use. The pipeline is strictly
// sequential: one writer, and every mutation is followed by an explicit Save.
package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comerito/cezar/internal/model"
)

var (
	// ErrCorruptStore is returned when a snapshot fails structural validation.
	ErrCorruptStore = eris.New("corrupt store")
	// ErrNoSnapshot is returned when no snapshot exists at the location.
	ErrNoSnapshot = eris.New("no snapshot")
	// ErrAlreadyExists is returned by Init when a snapshot already exists.
	ErrAlreadyExists = eris.New("snapshot already exists")
	// ErrNotFound is returned when mutating an issue the store does not hold.
	ErrNotFound = eris.New("record not found")
)

// UpsertStatus is the outcome of Upsert.
type UpsertStatus string

const (
	UpsertCreated   UpsertStatus = "created"
	UpsertUnchanged UpsertStatus = "unchanged"
	UpsertUpdated   UpsertStatus = "updated"
)

// UpsertResult reports what Upsert did to a record.
type UpsertResult struct {
	Number       int
	Status       UpsertStatus
	StateChanged bool
}

// StateFilter selects issues by lifecycle state.
type StateFilter string

const (
	FilterAll    StateFilter = "all"
	FilterOpen   StateFilter = "open"
	FilterClosed StateFilter = "closed"
)

// Filter is the query vocabulary: lifecycle state and digest presence.
type Filter struct {
	State     StateFilter
	HasDigest *bool
}

// Store owns the issues and collection metadata of one tracked collection.
type Store struct {
	backend Backend
	meta    model.CollectionMeta
	issues  map[int]*model.Issue

	nowFunc func() time.Time
}

func newStore(b Backend, meta model.CollectionMeta, issues map[int]*model.Issue) *Store {
	if issues == nil {
		issues = make(map[int]*model.Issue)
	}
	return &Store{
		backend: b,
		meta:    meta,
		issues:  issues,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Init creates a new empty snapshot at location and persists it. It fails
// with ErrAlreadyExists when a snapshot is already there unless force is set.
func Init(ctx context.Context, location string, repo model.Repository, force bool) (*Store, error) {
	b, err := OpenBackend(ctx, location)
	if err != nil {
		return nil, err
	}
	s, err := InitWith(ctx, b, repo, force)
	if err != nil {
		b.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// InitWith is Init over an already opened backend.
func InitWith(ctx context.Context, b Backend, repo model.Repository, force bool) (*Store, error) {
	_, err := b.Read(ctx)
	switch {
	case err == nil && !force:
		return nil, eris.Wrapf(ErrAlreadyExists, "store: init %s", repo)
	case err != nil && !errors.Is(err, ErrNoSnapshot):
		return nil, eris.Wrap(err, "store: init")
	}

	s := newStore(b, model.CollectionMeta{Repository: repo}, nil)
	s.meta.CreatedAt = s.nowFunc()
	s.meta.Members = []string{}
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	zap.L().Info("store: initialized", zap.String("repository", repo.String()), zap.Bool("forced", force))
	return s, nil
}

// Load opens the snapshot at location. It returns ErrNoSnapshot when none
// exists and ErrCorruptStore when the document fails validation.
func Load(ctx context.Context, location string) (*Store, error) {
	b, err := OpenBackend(ctx, location)
	if err != nil {
		return nil, err
	}
	s, err := LoadFrom(ctx, b)
	if err != nil {
		b.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// LoadOrNil is Load, except that a missing snapshot yields (nil, nil).
func LoadOrNil(ctx context.Context, location string) (*Store, error) {
	s, err := Load(ctx, location)
	if errors.Is(err, ErrNoSnapshot) {
		return nil, nil
	}
	return s, err
}

// LoadFrom decodes the snapshot held by an already opened backend.
func LoadFrom(ctx context.Context, b Backend) (*Store, error) {
	data, err := b.Read(ctx)
	if err != nil {
		return nil, err
	}
	meta, issues, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return newStore(b, meta, issues), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Save serializes the full snapshot and hands it to the backend, which
// writes it atomically.
func (s *Store) Save(ctx context.Context) error {
	data, err := encodeSnapshot(s.meta, s.issues)
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return eris.Wrap(err, "store: save")
	}
	return nil
}

// Upsert applies a freshly fetched raw snapshot.
//
// A new number creates a record. If the content fingerprint is unchanged
// only the raw fields are replaced and all derived state is kept. If the
// fingerprint differs the digest and every facet are cleared, since all of
// them were computed from the old title and body.
func (s *Store) Upsert(raw model.RawIssue) (UpsertResult, error) {
	if raw.Number <= 0 {
		return UpsertResult{}, eris.Errorf("store: upsert: invalid issue number %d", raw.Number)
	}
	if raw.State == "" {
		raw.State = model.StateOpen
	}
	raw = cloneRaw(raw)
	hash := raw.Fingerprint()

	cur, ok := s.issues[raw.Number]
	if !ok {
		s.issues[raw.Number] = &model.Issue{
			RawIssue:    raw,
			ContentHash: hash,
			Analysis:    make(map[model.FacetName]model.Facet),
		}
		return UpsertResult{Number: raw.Number, Status: UpsertCreated}, nil
	}

	stateChanged := cur.State != raw.State
	if cur.ContentHash == hash {
		cur.RawIssue = raw
		return UpsertResult{Number: raw.Number, Status: UpsertUnchanged, StateChanged: stateChanged}, nil
	}

	cur.RawIssue = raw
	cur.ContentHash = hash
	invalidate(cur)
	return UpsertResult{Number: raw.Number, Status: UpsertUpdated, StateChanged: stateChanged}, nil
}

// invalidate drops everything derived from raw content.
func invalidate(is *model.Issue) {
	is.Digest = nil
	is.Analysis = make(map[model.FacetName]model.Facet)
}

// SetDigest replaces the digest of an issue wholesale.
func (s *Store) SetDigest(number int, d model.Digest) error {
	is, err := s.lookup(number)
	if err != nil {
		return err
	}
	d.Keywords = slices.Clone(d.Keywords)
	is.Digest = &d
	return nil
}

// SetFacet merges each patch into its named facet. Facets not named in a
// patch are untouched.
func (s *Store) SetFacet(number int, patches ...model.FacetPatch) error {
	is, err := s.lookup(number)
	if err != nil {
		return err
	}
	if is.Analysis == nil {
		is.Analysis = make(map[model.FacetName]model.Facet)
	}
	for _, p := range patches {
		if p.Facet == "" {
			return eris.Errorf("store: set facet on #%d: empty facet name", number)
		}
		is.Analysis[p.Facet] = p.Apply(is.Analysis[p.Facet])
	}
	return nil
}

// SetComments replaces the cached comments and stamps CommentsFetchedAt.
func (s *Store) SetComments(number int, comments []model.Comment) error {
	is, err := s.lookup(number)
	if err != nil {
		return err
	}
	now := s.nowFunc()
	is.Comments = slices.Clone(comments)
	is.CommentsFetchedAt = &now
	return nil
}

// Get returns a copy of the issue with the given number.
func (s *Store) Get(number int) (*model.Issue, error) {
	is, err := s.lookup(number)
	if err != nil {
		return nil, err
	}
	return is.Clone(), nil
}

// Query returns copies of the issues matching f, ordered by number.
func (s *Store) Query(f Filter) []*model.Issue {
	out := make([]*model.Issue, 0, len(s.issues))
	for _, is := range s.issues {
		if !f.matches(is) {
			continue
		}
		out = append(out, is.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (f Filter) matches(is *model.Issue) bool {
	switch f.State {
	case FilterOpen:
		if is.State != model.StateOpen {
			return false
		}
	case FilterClosed:
		if is.State != model.StateClosed {
			return false
		}
	}
	if f.HasDigest != nil && (is.Digest != nil) != *f.HasDigest {
		return false
	}
	return true
}

// Len returns the number of stored issues.
func (s *Store) Len() int {
	return len(s.issues)
}

// Meta returns a copy of the collection metadata.
func (s *Store) Meta() model.CollectionMeta {
	m := s.meta
	m.Members = slices.Clone(s.meta.Members)
	if s.meta.LastSyncedAt != nil {
		t := *s.meta.LastSyncedAt
		m.LastSyncedAt = &t
	}
	return m
}

// UpdateMeta mutates the collection metadata in place.
func (s *Store) UpdateMeta(fn func(*model.CollectionMeta)) {
	fn(&s.meta)
}

func (s *Store) lookup(number int) (*model.Issue, error) {
	is, ok := s.issues[number]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "store: issue #%d", number)
	}
	return is, nil
}

func cloneRaw(r model.RawIssue) model.RawIssue {
	r.Labels = slices.Clone(r.Labels)
	r.Assignees = slices.Clone(r.Assignees)
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		r.ClosedAt = &t
	}
	return r
}
