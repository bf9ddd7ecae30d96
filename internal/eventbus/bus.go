// Package eventbus fans freshly persisted feed posts out to in-process
// subscribers, keyed by post type.
package eventbus

import (
	"sync"
	"time"

	"civicsync/internal/models"
)

// Event wraps one broadcast feed post with its delivery time.
type Event struct {
	Post *models.FeedPost
	At   time.Time
}

// Bus routes saved feed posts to subscribers. Delivery is best-effort: a
// full subscriber channel drops the event rather than blocking the
// publisher. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan<- Event
}

func New() *Bus {
	return &Bus{subs: make(map[string][]chan<- Event)}
}

// Subscribe registers ch for the given post types. The caller sizes the
// channel buffer; slow subscribers lose events.
func (b *Bus) Subscribe(ch chan<- Event, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
}

// Unsubscribe detaches ch from the given post types. The channel itself is
// not closed.
func (b *Bus) Unsubscribe(ch chan<- Event, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		subs := b.subs[t]
		for i, sub := range subs {
			if sub == ch {
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish broadcasts a saved post to every subscriber of its type.
func (b *Bus) Publish(post *models.FeedPost) {
	evt := Event{Post: post, At: time.Now().UTC()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[post.Type] {
		select {
		case ch <- evt:
		default:
		}
	}
}
