package model

import (
	"slices"
	"time"
)

// IssueState is the lifecycle state reported by the remote tracker.
type IssueState string

const (
	StateOpen   IssueState = "open"
	StateClosed IssueState = "closed"
)

// RawIssue is a snapshot of one issue as fetched from the remote tracker.
// It is replaced wholesale on every sync.
type RawIssue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     IssueState `json:"state"`
	Labels    []string   `json:"labels"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	URL       string     `json:"url"`
	Assignees []string   `json:"assignees"`
}

// Comment is one cached comment on an issue.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Digest is a content-derived summary of an issue. It is only valid for
// the content hash it was computed from.
type Digest struct {
	Category   string    `json:"category"`
	Summary    string    `json:"summary"`
	Keywords   []string  `json:"keywords"`
	Area       string    `json:"area"`
	DigestedAt time.Time `json:"digestedAt"`
}

// Issue is a tracked record: the raw snapshot plus everything derived from it.
type Issue struct {
	RawIssue

	ContentHash       string              `json:"contentHash"`
	Digest            *Digest             `json:"digest"`
	Analysis          map[FacetName]Facet `json:"analysis"`
	Comments          []Comment           `json:"comments"`
	CommentsFetchedAt *time.Time          `json:"commentsFetchedAt"`
}

// IsOpen reports whether the issue is currently open.
func (i *Issue) IsOpen() bool {
	return i.State == StateOpen
}

// Facet returns the named facet. A facet that was never computed is
// returned as its zero value.
func (i *Issue) Facet(name FacetName) Facet {
	if i.Analysis == nil {
		return Facet{}
	}
	return i.Analysis[name]
}

// Clone returns a deep copy of the issue.
func (i *Issue) Clone() *Issue {
	c := *i
	c.Labels = slices.Clone(i.Labels)
	c.Assignees = slices.Clone(i.Assignees)
	c.ClosedAt = cloneTime(i.ClosedAt)
	c.CommentsFetchedAt = cloneTime(i.CommentsFetchedAt)
	c.Comments = slices.Clone(i.Comments)
	if i.Digest != nil {
		d := *i.Digest
		d.Keywords = slices.Clone(i.Digest.Keywords)
		c.Digest = &d
	}
	c.Analysis = make(map[FacetName]Facet, len(i.Analysis))
	for name, f := range i.Analysis {
		c.Analysis[name] = f.clone()
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
