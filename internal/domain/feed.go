package domain

import "time"

// FeedKind classifies what the UI shows for a FeedItem.
type FeedKind string

const (
	FeedMessage FeedKind = "message"
	FeedInfo    FeedKind = "info"
	FeedWarning FeedKind = "warning"
	FeedError   FeedKind = "error"
)

// FeedItem is one line of the session's display stream: a chat bubble
// ("name:content" with an avatar) or a notice.
type FeedItem struct {
	Kind      FeedKind  `json:"kind"`
	Role      Role      `json:"role,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Notice builds a FeedItem without a speaker.
func Notice(kind FeedKind, text string) FeedItem {
	return FeedItem{Kind: kind, Text: text, CreatedAt: time.Now()}
}

// Feed receives display items. Implementations must not block.
type Feed interface {
	Publish(item FeedItem)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(item FeedItem)

func (f FeedFunc) Publish(item FeedItem) { f(item) }
