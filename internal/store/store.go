// Package store implements the shared keyspace: the concurrent key/value
// map with TTL eviction and the pub/sub channel registry, generalized from
// the teacher's hub.Hub broadcaster.
package store

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/kvd/internal/logging"
	"github.com/kstaniek/kvd/internal/metrics"
)

// Entry is the stored value for one key.
type Entry struct {
	Data      []byte
	ExpiresAt *time.Time
}

// Options configures a Store.
type Options struct {
	// ChannelCapacity bounds each pub/sub channel's per-subscriber buffer.
	// Defaults to 1024 when <= 0.
	ChannelCapacity int
	Logger          *slog.Logger
}

type expiryItem struct {
	at    time.Time
	key   string
	index int
}

// expiryHeap is a min-heap over (at, key), the Go analogue of the reference
// implementation's BTreeSet<(Instant, String)>, extended with an index field
// so individual entries can be removed in O(log n) on overwrite/delete.
type expiryHeap []*expiryItem

func (h expiryHeap) Len() int { return len(h) }
func (h expiryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].key < h[j].key
	}
	return h[i].at.Before(h[j].at)
}
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *expiryHeap) Push(x any) {
	item := x.(*expiryItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// channel is one pub/sub topic: a set of bounded per-subscriber buffers.
type channel struct {
	mu   sync.RWMutex
	subs map[int64]chan []byte
	next int64
}

// Store holds the shared keyspace state behind a single mutex and runs a
// background reaper goroutine that evicts expired entries. Exactly one
// Store exists per process; it is shared by the accept loop, every
// connection handler, and the reaper.
type Store struct {
	mu       sync.Mutex
	entries  map[string]Entry
	pubsub   map[string]*channel
	expHeap  expiryHeap
	expIndex map[string]*expiryItem
	shutdown bool

	notify   chan struct{}
	chanCap  int
	logger   *slog.Logger
	reaperWG sync.WaitGroup
}

// New constructs a Store and starts its reaper goroutine.
func New(opts Options) *Store {
	cap := opts.ChannelCapacity
	if cap <= 0 {
		cap = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	s := &Store{
		entries:  make(map[string]Entry),
		pubsub:   make(map[string]*channel),
		expIndex: make(map[string]*expiryItem),
		notify:   make(chan struct{}, 1),
		chanCap:  cap,
		logger:   logger,
	}
	s.reaperWG.Add(1)
	go s.reapLoop()
	return s
}

// Get returns the stored bytes without touching expiry. A just-expired key
// may still be returned if the reaper has not yet run; this is tolerated by
// design, the reaper is solely responsible for eviction.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Set unconditionally replaces any prior Entry for key, including its
// expiry. If ttl is nil the key never expires.
func (s *Store) Set(key string, data []byte, ttl *time.Duration) {
	s.mu.Lock()
	s.removeExpiryLocked(key)
	entry := Entry{Data: data}
	if ttl != nil {
		at := time.Now().Add(*ttl)
		entry.ExpiresAt = &at
		s.scheduleExpiryLocked(key, at)
	}
	s.entries[key] = entry
	n := len(s.entries)
	s.mu.Unlock()
	metrics.KeyspaceSize.Set(float64(n))
	s.wake()
}

// Del removes key, idempotently; it does not report whether the key
// existed (callers that need that used GET first).
func (s *Store) Del(key string) {
	s.mu.Lock()
	s.removeExpiryLocked(key)
	delete(s.entries, key)
	n := len(s.entries)
	s.mu.Unlock()
	metrics.KeyspaceSize.Set(float64(n))
}

// DBSize returns the number of live entries.
func (s *Store) DBSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// FlushAll clears every entry and its expiry, leaving pub/sub untouched.
func (s *Store) FlushAll() {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.expHeap = s.expHeap[:0]
	s.expIndex = make(map[string]*expiryItem)
	s.mu.Unlock()
	metrics.KeyspaceSize.Set(0)
}

func (s *Store) removeExpiryLocked(key string) {
	item, ok := s.expIndex[key]
	if !ok {
		return
	}
	heap.Remove(&s.expHeap, item.index)
	delete(s.expIndex, key)
}

func (s *Store) scheduleExpiryLocked(key string, at time.Time) {
	item := &expiryItem{at: at, key: key}
	heap.Push(&s.expHeap, item)
	s.expIndex[key] = item
}

// wake notifies the reaper that state changed; non-blocking, coalescing.
func (s *Store) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// reapLoop is the single long-lived background task bound to the Store's
// lifetime, grounded on the reference clean_expired_keys loop: drain
// everything past due, then sleep until the next expiry or a wake-up,
// whichever comes first.
func (s *Store) reapLoop() {
	defer s.reaperWG.Done()
	for {
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		now := time.Now()
		for s.expHeap.Len() > 0 && !s.expHeap[0].at.After(now) {
			top := heap.Pop(&s.expHeap).(*expiryItem)
			delete(s.expIndex, top.key)
			delete(s.entries, top.key)
			s.logger.Debug("key_expired", "key", top.key)
			metrics.KeysExpired.Inc()
		}
		metrics.KeyspaceSize.Set(float64(len(s.entries)))
		var wait time.Duration
		hasNext := s.expHeap.Len() > 0
		if hasNext {
			wait = s.expHeap[0].at.Sub(now)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !hasNext {
			<-s.notify
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.notify:
			timer.Stop()
		}
	}
}

// Shutdown sets the shutdown flag (monotonic: never reverts once set) and
// waits for the reaper goroutine to exit.
func (s *Store) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.wake()
	s.reaperWG.Wait()
}

// Snapshot returns a point-in-time copy of every live entry, suitable for
// persistence. Entries already expired at call time are skipped.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			continue
		}
		cp := Entry{Data: append([]byte(nil), e.Data...)}
		if e.ExpiresAt != nil {
			at := *e.ExpiresAt
			cp.ExpiresAt = &at
		}
		out[k] = cp
	}
	return out
}

// Restore loads entries into the store, typically at startup from a loaded
// snapshot. Entries whose expiry has already passed are dropped.
func (s *Store) Restore(entries map[string]Entry) (loaded, dropped int) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range entries {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			dropped++
			continue
		}
		s.entries[k] = e
		if e.ExpiresAt != nil {
			s.scheduleExpiryLocked(k, *e.ExpiresAt)
		}
		loaded++
	}
	return loaded, dropped
}
