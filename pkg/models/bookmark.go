package models

import "time"

// ResumeHandler selects what happens when a bookmark is resumed.
type ResumeHandler string

const (
	// ResumeComplete completes the suspended activity with the resume input.
	ResumeComplete ResumeHandler = "complete"
	// ResumeInvoke calls the activity's Resume method.
	ResumeInvoke ResumeHandler = "resume"
)

// Bookmark is a suspension point: one activity in one instance waiting for a hashable event.
type Bookmark struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"` // Activity type name
	Hash               string        `json:"hash"`
	Data               string        `json:"data,omitempty"`
	ActivityID         string        `json:"activity_id"`
	ActivityInstanceID string        `json:"activity_instance_id"`
	AutoBurn           bool          `json:"auto_burn"`
	Callback           ResumeHandler `json:"callback,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// StoredBookmark is the index entry pointing from a hash to the instance holding the bookmark.
type StoredBookmark struct {
	BookmarkID         string    `json:"bookmark_id"`
	Hash               string    `json:"hash"`
	ActivityTypeName   string    `json:"activity_type_name"`
	WorkflowInstanceID string    `json:"workflow_instance_id"`
	CorrelationID      string    `json:"correlation_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// BookmarkDiff is the change in an instance's bookmark set after one execution burst.
type BookmarkDiff struct {
	Added   []Bookmark `json:"added"`
	Removed []Bookmark `json:"removed"`
}

// IsEmpty reports whether the diff changes nothing.
func (d BookmarkDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffBookmarks compares two bookmark sets by id.
func DiffBookmarks(previous, current []Bookmark) BookmarkDiff {
	before := make(map[string]struct{}, len(previous))
	for _, b := range previous {
		before[b.ID] = struct{}{}
	}

	after := make(map[string]struct{}, len(current))
	for _, b := range current {
		after[b.ID] = struct{}{}
	}

	diff := BookmarkDiff{Added: []Bookmark{}, Removed: []Bookmark{}}

	for _, b := range current {
		if _, ok := before[b.ID]; !ok {
			diff.Added = append(diff.Added, b)
		}
	}

	for _, b := range previous {
		if _, ok := after[b.ID]; !ok {
			diff.Removed = append(diff.Removed, b)
		}
	}

	return diff
}

// GroupBookmarksByHash groups bookmarks by hash preserving first-seen order of hashes.
func GroupBookmarksByHash(bookmarks []Bookmark) ([]string, map[string][]Bookmark) {
	order := make([]string, 0)
	groups := make(map[string][]Bookmark)

	for _, b := range bookmarks {
		if _, ok := groups[b.Hash]; !ok {
			order = append(order, b.Hash)
		}

		groups[b.Hash] = append(groups[b.Hash], b)
	}

	return order, groups
}
