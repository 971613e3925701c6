package model

import "time"

// ChangeKind classifies a filesystem mutation.
type ChangeKind string

const (
	KindCreated  ChangeKind = "created"
	KindModified ChangeKind = "modified"
	KindDeleted  ChangeKind = "deleted"
)

// Valid reports whether k is one of the recognized change kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case KindCreated, KindModified, KindDeleted:
		return true
	}
	return false
}

// DeliveryState is the acceptance status of a change at the AI backend.
// It moves Pending -> Sent exactly once and never back.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
)

// ChangeRecord is one detected file mutation, fully enriched.
// Immutable after construction except for DeliveryState.
type ChangeRecord struct {
	ID            string
	RepositoryID  string
	FilePath      string
	RelativePath  string
	Kind          ChangeKind
	Timestamp     time.Time
	Extension     string
	Diff          string
	FormattedDiff string
	LinesAdded    int
	LinesRemoved  int
	Author        string
	AuthorEmail   string
	CommitHash    string // short hash; empty when no commit touches the path
	DeliveryState DeliveryState

	// Content captured at detection time, used to build the delivery
	// payload without re-reading a file that may have moved on.
	PreviousContent string
	CurrentContent  string
}

// Repository is a registered, watchable source tree.
type Repository struct {
	ID           string
	Name         string
	Path         string
	IsWatching   bool
	CreatedAt    time.Time
	LastChange   *time.Time
	TotalChanges int
}

// User is an author identity keyed by email, with an auto-incrementing id
// assigned on first sight.
type User struct {
	ID        int64
	Email     string
	Name      string
	CreatedAt time.Time
}

// Notification is the payload pushed to live subscribers for every
// processed change.
type Notification struct {
	ID            string     `json:"id"`
	Repository    string     `json:"repository"`
	RelativePath  string     `json:"relative_path"`
	Kind          ChangeKind `json:"change_type"`
	Timestamp     time.Time  `json:"timestamp"`
	Author        string     `json:"author"`
	Extension     string     `json:"file_extension"`
	LinesAdded    int        `json:"lines_added"`
	LinesRemoved  int        `json:"lines_removed"`
	FormattedDiff string     `json:"formatted_changes"`
}
