package realtime

import "sync"

// Deduplicator tracks alert keys that have already been surfaced to the
// user this session. The set only grows while the owning poller is active;
// it is cleared exclusively by an explicit Reset on stop, so a threshold
// crossing is never re-notified no matter how often the server returns the
// underlying pending-alert record.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]struct{}),
	}
}

// Record marks key as surfaced. It returns true if the key was new and
// false if it had already been recorded.
func (d *Deduplicator) Record(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Seen reports whether key has already been recorded.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, exists := d.seen[key]
	return exists
}

// Len returns the number of recorded keys.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}

// Reset drops all recorded keys.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = make(map[string]struct{})
}
