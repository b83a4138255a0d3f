package model

import (
	"fmt"
	"time"
)

// Repository identifies the tracked collection.
type Repository struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (r Repository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Repo)
}

// CollectionMeta is the per-collection metadata stored alongside the issues.
type CollectionMeta struct {
	Repository

	CreatedAt    time.Time  `json:"createdAt"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	TotalFetched int        `json:"totalFetched"`

	// Members are the logins with write access, used by facets that need
	// to tell maintainer activity apart from reporter activity.
	Members []string `json:"members"`
}
