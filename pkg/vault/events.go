package vault

import (
	"sync"
	"time"

	"github.com/velthium/vestalia-network/internal/metrics"
)

// Change event types.
const (
	EventCreate  = "create"
	EventDelete  = "delete"
	EventRename  = "rename"
	EventShare   = "share"
	EventUnshare = "unshare"
)

// ChangeEvent is published after a mutation succeeded. Target is the
// destination path of a rename or the viewer address of a share.
type ChangeEvent struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Target    string `json:"target,omitempty"`
	IsDir     bool   `json:"is_dir,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Events fans change events out to subscribers.
type Events struct {
	mu          sync.RWMutex
	subscribers map[chan ChangeEvent]struct{}
}

// NewEvents creates an event broadcaster.
func NewEvents() *Events {
	return &Events{
		subscribers: make(map[chan ChangeEvent]struct{}),
	}
}

// Subscribe adds a subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Events) Subscribe() chan ChangeEvent {
	ch := make(chan ChangeEvent, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Events) Unsubscribe(ch chan ChangeEvent) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Events) Publish(event ChangeEvent) {
	if b == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	metrics.RecordEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Events) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
