package store

import "time"

// Event is a scheduled activity announced through the bot. IDs are decimal
// strings assigned from a persisted monotonic counter, so an id is never
// reused after a deletion.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        string    `json:"date"`
	Creator     string    `json:"creator"`
	CreatedAt   time.Time `json:"created_at"`
}

// MediaEntry is one outlet in the media directory.
type MediaEntry struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AddedBy     string    `json:"added_by"`
	AddedAt     time.Time `json:"added_at"`
}

// On-disk documents. Each collection is a single self-describing file so a
// missing or corrupt file degrades to an empty collection.
type whitelistDoc struct {
	Users []string `json:"users"`
}

type eventsDoc struct {
	Events []Event `json:"events"`
	NextID int64   `json:"next_id"`
}

type mediaDoc struct {
	Media []MediaEntry `json:"media"`
}
