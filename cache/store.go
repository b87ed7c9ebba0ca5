// Package cache implements the content-addressed conversion cache: a
// fingerprint-keyed artifact store with LRU/size/age eviction and
// at-most-one concurrent computation per key.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"imageConverter/metrics"
)

// Meta describes a cached artifact.
type Meta struct {
	OriginalFormat string    `json:"original_format"`
	Format         string    `json:"format"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Producer computes the artifact for a key on miss.
type Producer func(ctx context.Context) ([]byte, Meta, error)

// Result is what GetOrCompute hands back to every caller of a key.
type Result struct {
	Data []byte
	Meta Meta
	Hit  bool
}

// Stats is a point-in-time snapshot of cache accounting.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Entries    int   `json:"entries"`
	SizeBytes  int64 `json:"size_bytes"`
	MaxBytes   int64 `json:"max_bytes"`
	MaxEntries int   `json:"max_entries"`
	Evictions  int64 `json:"evictions"`
	Backend    string `json:"backend"`
}

type entry struct {
	key  string
	meta Meta
	elem *list.Element
}

type Options struct {
	MaxBytes      int64
	MaxEntries    int
	MaxAge        time.Duration
	SweepInterval time.Duration
	BackendName   string
}

// Store owns the index, eviction, and coalescing; artifact bytes live in
// the Backend.
type Store struct {
	logger   *zap.Logger
	backend  Backend
	observer metrics.Observer
	opts     Options

	mu        sync.Mutex
	entries   map[string]*entry
	lru       *list.List // front = most recently used
	sizeBytes int64
	pins      map[string]int

	flight singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func NewStore(backend Backend, opts Options, observer metrics.Observer, logger *zap.Logger) *Store {
	if observer == nil {
		observer = metrics.Noop{}
	}
	return &Store{
		logger:   logger,
		backend:  backend,
		observer: observer,
		opts:     opts,
		entries:  make(map[string]*entry),
		lru:      list.New(),
		pins:     make(map[string]int),
	}
}

// Start launches the periodic age sweep until ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	if s.opts.SweepInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.sweepExpired(); n > 0 {
					s.logger.Info("Cache sweep removed expired entries", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

type flightResult struct {
	data      []byte
	meta      Meta
	fromCache bool
}

// GetOrCompute returns the cached artifact for key, or elects exactly one
// caller to run producer while concurrent callers for the same key wait
// and share the outcome. Backend failures are treated as misses: the
// artifact is still produced and returned, just not cached.
func (s *Store) GetOrCompute(ctx context.Context, key string, producer Producer) (Result, error) {
	s.pin(key)
	defer s.unpin(key)

	if data, meta, ok := s.lookup(ctx, key); ok {
		s.hits.Add(1)
		s.observer.CacheHit()
		return Result{Data: data, Meta: meta, Hit: true}, nil
	}

	var leader bool
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		leader = true
		// A previous flight may have admitted the entry between our
		// miss and this execution.
		if data, meta, ok := s.lookup(ctx, key); ok {
			return flightResult{data: data, meta: meta, fromCache: true}, nil
		}
		data, meta, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		meta.SizeBytes = int64(len(data))
		s.admit(ctx, key, data, meta)
		return flightResult{data: data, meta: meta, fromCache: false}, nil
	})
	if err != nil {
		// Producer failures are not cached; the next caller retries.
		if leader {
			s.misses.Add(1)
			s.observer.CacheMiss()
		}
		return Result{}, err
	}

	fr := v.(flightResult)
	hit := !leader || fr.fromCache
	if hit {
		s.hits.Add(1)
		s.observer.CacheHit()
	} else {
		s.misses.Add(1)
		s.observer.CacheMiss()
	}
	return Result{Data: fr.data, Meta: fr.meta, Hit: hit}, nil
}

// lookup fetches key if indexed, refreshing its LRU position. An indexed
// entry whose backend read fails is dropped and reported as a miss.
func (s *Store) lookup(ctx context.Context, key string) ([]byte, Meta, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, Meta{}, false
	}
	meta := e.meta
	s.mu.Unlock()

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if err != ErrNotFound {
			s.logger.Warn("Cache backend read failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		}
		s.removeEntry(ctx, key, false)
		return nil, Meta{}, false
	}

	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.meta.LastAccessedAt = time.Now()
		s.lru.MoveToFront(e.elem)
		meta = e.meta
	}
	s.mu.Unlock()

	return data, meta, true
}

// admit stores the artifact and indexes it, then brings the cache back
// under its size and entry budgets.
func (s *Store) admit(ctx context.Context, key string, data []byte, meta Meta) {
	if err := s.backend.Put(ctx, key, data); err != nil {
		s.logger.Warn("Cache backend write failed, entry not cached",
			zap.String("key", key), zap.Error(err))
		return
	}

	now := time.Now()
	meta.CreatedAt = now
	meta.LastAccessedAt = now

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		s.sizeBytes -= old.meta.SizeBytes
		s.lru.Remove(old.elem)
	}
	e := &entry{key: key, meta: meta}
	e.elem = s.lru.PushFront(e)
	s.entries[key] = e
	s.sizeBytes += meta.SizeBytes
	victims := s.collectEvictionsLocked()
	s.mu.Unlock()

	s.deleteVictims(ctx, victims)
}

// collectEvictionsLocked pops LRU entries until the budgets hold, skipping
// entries pinned by a pending GetOrCompute. Caller holds s.mu.
func (s *Store) collectEvictionsLocked() []string {
	var victims []string
	for s.sizeBytes > s.opts.MaxBytes || len(s.entries) > s.opts.MaxEntries {
		elem := s.lru.Back()
		var victim *entry
		for elem != nil {
			e := elem.Value.(*entry)
			if s.pins[e.key] == 0 {
				victim = e
				break
			}
			elem = elem.Prev()
		}
		if victim == nil {
			break
		}
		s.lru.Remove(victim.elem)
		delete(s.entries, victim.key)
		s.sizeBytes -= victim.meta.SizeBytes
		victims = append(victims, victim.key)
	}
	return victims
}

func (s *Store) deleteVictims(ctx context.Context, victims []string) {
	if len(victims) == 0 {
		return
	}
	for _, key := range victims {
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Warn("Cache backend delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	s.evictions.Add(int64(len(victims)))
	s.observer.CacheEviction(len(victims))
}

func (s *Store) sweepExpired() int {
	cutoff := time.Now().Add(-s.opts.MaxAge)

	s.mu.Lock()
	var victims []string
	for key, e := range s.entries {
		if e.meta.LastAccessedAt.Before(cutoff) && s.pins[key] == 0 {
			s.lru.Remove(e.elem)
			delete(s.entries, key)
			s.sizeBytes -= e.meta.SizeBytes
			victims = append(victims, key)
		}
	}
	s.mu.Unlock()

	s.deleteVictims(context.Background(), victims)
	return len(victims)
}

// Invalidate removes one entry.
func (s *Store) Invalidate(ctx context.Context, key string) {
	s.removeEntry(ctx, key, true)
}

func (s *Store) removeEntry(ctx context.Context, key string, deleteBackend bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		s.lru.Remove(e.elem)
		delete(s.entries, key)
		s.sizeBytes -= e.meta.SizeBytes
	}
	s.mu.Unlock()

	if ok && deleteBackend {
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Warn("Cache backend delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Clear drops every entry not pinned by a pending computation and reports
// how many entries and bytes were released.
func (s *Store) Clear(ctx context.Context) (int, int64) {
	s.mu.Lock()
	var victims []string
	var freed int64
	for key, e := range s.entries {
		if s.pins[key] > 0 {
			continue
		}
		s.lru.Remove(e.elem)
		delete(s.entries, key)
		s.sizeBytes -= e.meta.SizeBytes
		freed += e.meta.SizeBytes
		victims = append(victims, key)
	}
	s.mu.Unlock()

	for _, key := range victims {
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Warn("Cache backend delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	return len(victims), freed
}

// Stats snapshots the cache accounting.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	entries := len(s.entries)
	size := s.sizeBytes
	s.mu.Unlock()

	return Stats{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Entries:    entries,
		SizeBytes:  size,
		MaxBytes:   s.opts.MaxBytes,
		MaxEntries: s.opts.MaxEntries,
		Evictions:  s.evictions.Load(),
		Backend:    s.opts.BackendName,
	}
}

// Contains reports whether key is currently indexed, without touching its
// LRU position.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) pin(key string) {
	s.mu.Lock()
	s.pins[key]++
	s.mu.Unlock()
}

func (s *Store) unpin(key string) {
	s.mu.Lock()
	if s.pins[key] > 1 {
		s.pins[key]--
	} else {
		delete(s.pins, key)
	}
	s.mu.Unlock()
}
