// Package session holds ephemeral per-user conversation state: the current
// workflow step plus the field values collected so far. Sessions are never
// persisted; a restart drops every in-flight conversation.
package session

import "time"

// State names one step of a multi-turn workflow. StateNone means the user
// has no active conversation.
type State string

const (
	StateNone State = ""

	// Event creation: title -> description -> date -> commit.
	StateEventTitle       State = "event_title"
	StateEventDescription State = "event_description"
	StateEventDate        State = "event_date"

	// Post generation: topic -> style button -> commit.
	StatePostTopic State = "post_topic"
	StatePostStyle State = "post_style"

	// Media search: query -> commit.
	StateMediaQuery State = "media_query"
)

// Session is one user's in-flight conversation. Values handed out by the
// Manager are copies; mutate through the Manager only.
type Session struct {
	ID        string
	UserID    int64
	State     State
	Scratch   map[string]string
	UpdatedAt time.Time
}
