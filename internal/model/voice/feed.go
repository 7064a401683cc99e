package voice

import (
	"sync"
	"time"
)

// DefaultFeedLimit is the number of entries a feed keeps before evicting the oldest.
const DefaultFeedLimit = 200

// Feed is an append-only list capped to the most recent entries.
// IDs come from a counter owned by the feed, so two controllers never share a sequence.
type Feed struct {
	mu      sync.RWMutex
	limit   int
	nextID  int64
	entries []Entry
	subs    map[chan Entry]struct{}
	now     func() time.Time
}

// NewFeed returns an empty feed holding at most limit entries.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return &Feed{
		limit:   limit,
		entries: make([]Entry, 0, limit),
		subs:    make(map[chan Entry]struct{}),
		now:     time.Now,
	}
}

// Append stores text with the next id and the current wall-clock time.
func (f *Feed) Append(text string) Entry {
	f.mu.Lock()
	f.nextID++
	entry := Entry{ID: f.nextID, Time: formatEntryTime(f.now()), Text: text}
	if len(f.entries) == f.limit {
		copy(f.entries, f.entries[1:])
		f.entries = f.entries[:len(f.entries)-1]
	}
	f.entries = append(f.entries, entry)
	for ch := range f.subs {
		select {
		case ch <- entry:
		default:
			// slow subscriber, drop
		}
	}
	f.mu.Unlock()
	return entry
}

// List returns a copy of the stored entries, oldest first.
func (f *Feed) List() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	copied := make([]Entry, len(f.entries))
	copy(copied, f.entries)
	return copied
}

// Len reports the number of stored entries.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Limit reports the feed capacity.
func (f *Feed) Limit() int {
	return f.limit
}

// Subscribe registers a buffered channel that receives entries appended from now on.
// The returned cancel func unregisters and closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Entry, buffer)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
