package executor

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Dedup drops decisions that were already executed within a TTL window. A
// decision stream can redeliver after a reconnect or a producer retry. It
// is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // decision key -> first seen
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Key identifies a decision: its ID when the producer set one, otherwise
// symbol, signal and creation time.
func Key(d domain.Decision) string {
	if d.ID != "" {
		return d.ID
	}
	return strings.Join([]string{
		domain.BaseSymbol(d.Symbol),
		strings.ToLower(string(d.Signal)),
		strconv.FormatInt(d.CreatedAt.UnixNano(), 10),
	}, "|")
}

// IsDuplicate reports whether d was seen within the TTL, recording it when
// it was not.
func (d *Dedup) IsDuplicate(dec domain.Decision) bool {
	k := Key(dec)
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if first, ok := d.seen[k]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[k] = now
	return false
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
