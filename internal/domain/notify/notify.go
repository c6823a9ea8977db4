// Package notify implements the session-scoped notification feed: an
// append-only, newest-first list of system events with unread tracking.
// Nothing here is persisted; the feed dies with the session.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification for display emphasis.
type Kind string

const (
	KindAlert Kind = "alert"
	KindInfo  Kind = "info"
)

// Notification is one feed entry.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Center is the in-memory feed. Safe for concurrent use.
type Center struct {
	mu      sync.RWMutex
	entries []Notification
	now     func() time.Time
}

// New creates an empty Center.
func New() *Center {
	return &Center{now: time.Now}
}

// Push prepends a fresh unread notification and returns it.
func (c *Center) Push(title, message string, kind Kind) Notification {
	n := Notification{
		ID:        uuid.New(),
		Title:     title,
		Message:   message,
		Kind:      kind,
		Timestamp: c.now().UTC(),
	}
	c.mu.Lock()
	c.entries = append([]Notification{n}, c.entries...)
	c.mu.Unlock()
	return n
}

// List returns the feed newest-first.
func (c *Center) List() []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Notification, len(c.entries))
	copy(out, c.entries)
	return out
}

// UnreadCount counts entries not yet marked read.
func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if !e.Read {
			n++
		}
	}
	return n
}

// MarkAllRead flips every entry to read. Called when the notification panel
// is opened.
func (c *Center) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.entries[i].Read = true
	}
}
