package notification

import (
	"context"
	"sync"
	"time"
)

const defaultFeedSize = 50

// Feed keeps the most recent notices in memory so the presentation layer can
// poll them.
type Feed struct {
	mu    sync.Mutex
	items []Message
	size  int
}

// NewFeed builds a feed holding at most size messages.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = defaultFeedSize
	}
	return &Feed{size: size}
}

// Send appends message, evicting the oldest when full.
func (f *Feed) Send(_ context.Context, message Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, message)
	if over := len(f.items) - f.size; over > 0 {
		f.items = append([]Message(nil), f.items[over:]...)
	}
	return nil
}

// Recent returns up to limit messages, newest first. A non-positive limit
// returns everything held.
func (f *Feed) Recent(limit int) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.items) {
		limit = len(f.items)
	}
	out := make([]Message, 0, limit)
	for i := len(f.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.items[i])
	}
	return out
}
