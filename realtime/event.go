// Package realtime fans per-user engine events out to subscribers.
package realtime

import (
	"context"
	"time"
)

type EventType string

const (
	EventProgress    EventType = "progress"
	EventActivity    EventType = "activity"
	EventAchievement EventType = "achievement"
	EventRewards     EventType = "rewards"
)

// Event is one message on a user's topic.
type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"user_id"`
	Data   any       `json:"data"`
	At     time.Time `json:"at"`
}

// Topic is the per-user channel an event belongs to.
func (e Event) Topic() string { return UserTopic(e.UserID) }

func UserTopic(userID string) string { return "user:" + userID }

// Publisher is implemented by every event sink the services write to.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Progress payload; Percent is 0-100.
type Progress struct {
	SessionID string `json:"session_id"`
	Percent   int    `json:"percent"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}
